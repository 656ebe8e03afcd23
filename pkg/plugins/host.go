package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/cloudloom/loom/pkg/binder"
	"github.com/cloudloom/loom/pkg/capability"
)

// HostConfig contains configuration for the plugin host.
type HostConfig struct {
	// Timeout is the default timeout for WASM operations.
	Timeout time.Duration

	// MemoryLimitPages is the maximum memory limit in pages (64KB each).
	// Default is 256 pages (16MB).
	MemoryLimitPages uint32
}

// Plugin hosts one WASM strategy plugin: a wazero runtime, the instantiated
// module, and the bridge speaking the strategy call protocol.
type Plugin struct {
	manifest *Manifest
	runtime  wazero.Runtime
	module   api.Module
	bridge   *Bridge
	logger   zerolog.Logger

	initialized bool
	timeout     time.Duration
}

// NewPlugin instantiates a WASM strategy plugin from a manifest and module
// bytes. The module checksum must already be verified by the manifest
// loader when the manifest declares one.
func NewPlugin(ctx context.Context, manifest *Manifest, wasmModule []byte, hostConfig *HostConfig, logger zerolog.Logger) (*Plugin, error) {
	if hostConfig == nil {
		hostConfig = &HostConfig{}
	}
	if hostConfig.Timeout == 0 {
		hostConfig.Timeout = 30 * time.Second
	}
	if hostConfig.MemoryLimitPages == 0 {
		hostConfig.MemoryLimitPages = 256
	}

	pluginLogger := logger.With().
		Str("component", "plugin-host").
		Str("plugin", manifest.Raw.Metadata.Name).
		Logger()

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(hostConfig.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	builder := runtime.NewHostModuleBuilder("env")
	registerHostFunctions(builder, pluginLogger)

	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	module, err := runtime.Instantiate(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	bridge, err := NewBridge(module, hostConfig.Timeout)
	if err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to create WASM bridge: %w", err)
	}

	return &Plugin{
		manifest: manifest,
		runtime:  runtime,
		module:   module,
		bridge:   bridge,
		logger:   pluginLogger,
		timeout:  hostConfig.Timeout,
	}, nil
}

// registerHostFunctions registers the host functions plugins may call.
func registerHostFunctions(builder wazero.HostModuleBuilder, logger zerolog.Logger) {
	// log_message(level, ptr, len) lets plugins log through the host logger.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, level, msgPtr, msgLen uint32) {
			msgBytes, ok := mod.Memory().Read(msgPtr, msgLen)
			if !ok {
				logger.Warn().Msg("Plugin log message outside memory bounds")
				return
			}
			msg := string(msgBytes)

			switch level {
			case 0:
				logger.Debug().Msg(msg)
			case 1:
				logger.Info().Msg(msg)
			case 2:
				logger.Warn().Msg(msg)
			default:
				logger.Error().Msg(msg)
			}
		}).
		Export("log_message")
}

// Init initializes the plugin with configuration.
func (p *Plugin) Init(ctx context.Context, config map[string]interface{}) error {
	if p.initialized {
		return fmt.Errorf("plugin already initialized")
	}

	if err := p.bridge.Init(ctx, config); err != nil {
		return fmt.Errorf("plugin initialization failed: %w", err)
	}

	p.initialized = true
	p.logger.Info().
		Str("version", p.manifest.Raw.Metadata.Version).
		Strs("strategies", p.manifest.StrategyNames()).
		Msg("Plugin initialized")

	return nil
}

// Manifest returns the plugin manifest.
func (p *Plugin) Manifest() *Manifest {
	return p.manifest
}

// IsInitialized returns true if the plugin has been initialized.
func (p *Plugin) IsInitialized() bool {
	return p.initialized
}

// Strategies returns a binder.Strategy for every strategy the manifest
// declares. Register them with a binder.Registry to make them resolvable.
func (p *Plugin) Strategies() []binder.Strategy {
	strategies := make([]binder.Strategy, 0, len(p.manifest.Raw.Strategies))
	for i := range p.manifest.Raw.Strategies {
		strategies = append(strategies, &pluginStrategy{
			plugin: p,
			decl:   &p.manifest.Raw.Strategies[i],
		})
	}
	return strategies
}

// Close closes the plugin and releases resources.
func (p *Plugin) Close(ctx context.Context) error {
	if p.module != nil {
		if err := p.module.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM module: %w", err)
		}
	}

	if p.runtime != nil {
		if err := p.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM runtime: %w", err)
		}
	}

	return nil
}

// pluginStrategy adapts one declared strategy to the binder.Strategy
// interface.
type pluginStrategy struct {
	plugin *Plugin
	decl   *StrategyDecl
}

// Name returns the strategy name, qualified by the plugin name.
func (s *pluginStrategy) Name() string {
	return s.plugin.manifest.Raw.Metadata.Name + "/" + s.decl.Name
}

// Compatibility returns the tuples declared in the manifest.
func (s *pluginStrategy) Compatibility() []binder.CompatibilityEntry {
	return s.decl.Compatibility
}

// Execute runs the strategy inside the plugin and applies the returned
// grants to the binding's components.
func (s *pluginStrategy) Execute(ctx context.Context, tc *binder.TriggerContext) (*binder.TriggerResult, error) {
	if !s.plugin.initialized {
		return nil, fmt.Errorf("plugin not initialized")
	}

	if len(s.decl.AccessLevels) > 0 {
		allowed := false
		for _, a := range s.decl.AccessLevels {
			if binder.AccessLevel(a) == tc.Directive.Access {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("strategy %s does not accept %s access", s.Name(), tc.Directive.Access)
		}
	}

	call := &StrategyCall{
		Strategy:  s.decl.Name,
		Source:    adapterView(tc.Source),
		Target:    adapterView(tc.Target),
		Directive: tc.Directive,
		Binding:   tc.Binding,
	}

	reply, err := s.plugin.bridge.Execute(ctx, call)
	if err != nil {
		return nil, err
	}

	for _, grant := range reply.Env {
		switch grant.Side {
		case "source":
			tc.Source.SetEnv(grant.Key, grant.Value)
		case "target":
			tc.Target.SetEnv(grant.Key, grant.Value)
		default:
			return nil, fmt.Errorf("plugin returned env grant for unknown side %q", grant.Side)
		}
	}

	for _, grant := range reply.Statements {
		switch grant.Side {
		case "source":
			tc.Source.AddPolicyStatement(grant.Statement)
		case "target":
			tc.Target.AddPolicyStatement(grant.Statement)
		default:
			return nil, fmt.Errorf("plugin returned statement grant for unknown side %q", grant.Side)
		}
	}

	return &binder.TriggerResult{
		StrategyName: s.Name(),
		TriggerConfiguration: &binder.TriggerConfiguration{
			TargetARN:  reply.TargetARN,
			Properties: reply.Properties,
		},
	}, nil
}

// adapterView builds the serializable view of an adapter.
func adapterView(a capability.Adapter) AdapterView {
	return AdapterView{
		Type:         a.Type(),
		NodeID:       a.NodeID(),
		Capabilities: a.Capabilities().Keys(),
	}
}
