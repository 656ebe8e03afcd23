package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/cloudloom/loom/pkg/binder"
	"github.com/cloudloom/loom/pkg/capability"
)

// AdapterView is the serializable view of a component adapter handed to a
// plugin strategy.
type AdapterView struct {
	// Type is the component type tag.
	Type string `json:"type"`

	// NodeID is the stable node identifier.
	NodeID string `json:"node_id"`

	// Capabilities lists the component's capability keys.
	Capabilities []string `json:"capabilities"`
}

// StrategyCall is the JSON document passed to a plugin's execute function.
type StrategyCall struct {
	// Strategy is the name of the declared strategy to run.
	Strategy string `json:"strategy"`

	// Source is the requesting component.
	Source AdapterView `json:"source"`

	// Target is the providing component.
	Target AdapterView `json:"target"`

	// Directive is the assembled binding request.
	Directive *binder.Directive `json:"directive"`

	// Binding carries caller-supplied environment facts.
	Binding capability.BindingContext `json:"binding"`
}

// EnvGrant is one environment entry a plugin wants applied to a side of the
// binding.
type EnvGrant struct {
	// Side is "source" or "target".
	Side string `json:"side"`

	Key   string `json:"key"`
	Value string `json:"value"`
}

// StatementGrant is one policy statement a plugin wants applied.
type StatementGrant struct {
	// Side is "source" or "target".
	Side string `json:"side"`

	Statement capability.PolicyStatement `json:"statement"`
}

// StrategyReply is the JSON document a plugin's execute function returns.
type StrategyReply struct {
	// TargetARN is the resolved target identifier.
	TargetARN string `json:"target_arn"`

	// Properties carries additional trigger settings.
	Properties map[string]interface{} `json:"properties,omitempty"`

	// Env lists environment entries to apply to the binding's components.
	Env []EnvGrant `json:"env,omitempty"`

	// Statements lists policy statements to apply.
	Statements []StatementGrant `json:"statements,omitempty"`

	// Error is set when the plugin could not serve the call.
	Error string `json:"error,omitempty"`
}

// Bridge wraps a WASM module instance behind the loom strategy call
// protocol. Each exported function takes (input_ptr, input_len) and returns
// (output_ptr << 32) | output_len; input and output are JSON documents in
// linear memory, allocated and freed through the module's malloc/free.
type Bridge struct {
	module api.Module
	memory api.Memory

	malloc api.Function
	free   api.Function

	pluginInit      api.Function
	strategyExecute api.Function
	pluginMetadata  api.Function

	timeout time.Duration
}

// NewBridge creates a bridge for the given module, resolving the required
// exports.
func NewBridge(module api.Module, timeout time.Duration) (*Bridge, error) {
	b := &Bridge{
		module:  module,
		timeout: timeout,
	}

	b.memory = module.Memory()
	if b.memory == nil {
		return nil, fmt.Errorf("WASM module does not export memory")
	}

	b.malloc = module.ExportedFunction("malloc")
	if b.malloc == nil {
		return nil, fmt.Errorf("WASM module does not export malloc function")
	}

	b.free = module.ExportedFunction("free")
	if b.free == nil {
		return nil, fmt.Errorf("WASM module does not export free function")
	}

	b.pluginInit = module.ExportedFunction("plugin_init")
	if b.pluginInit == nil {
		return nil, fmt.Errorf("WASM module does not export plugin_init function")
	}

	b.strategyExecute = module.ExportedFunction("strategy_execute")
	if b.strategyExecute == nil {
		return nil, fmt.Errorf("WASM module does not export strategy_execute function")
	}

	b.pluginMetadata = module.ExportedFunction("plugin_metadata")
	if b.pluginMetadata == nil {
		return nil, fmt.Errorf("WASM module does not export plugin_metadata function")
	}

	return b, nil
}

// Init calls the plugin's init function with its configuration.
func (b *Bridge) Init(ctx context.Context, config map[string]interface{}) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := b.call(ctx, b.pluginInit, configJSON)
	if err != nil {
		return fmt.Errorf("plugin_init failed: %w", err)
	}

	if result != nil {
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(result, &errorResp); err == nil && errorResp.Error != "" {
			return fmt.Errorf("plugin init error: %s", errorResp.Error)
		}
	}

	return nil
}

// Execute calls the plugin's strategy_execute function.
func (b *Bridge) Execute(ctx context.Context, call *StrategyCall) (*StrategyReply, error) {
	callJSON, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal strategy call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	replyJSON, err := b.call(ctx, b.strategyExecute, callJSON)
	if err != nil {
		return nil, fmt.Errorf("strategy_execute failed: %w", err)
	}

	var reply StrategyReply
	if err := json.Unmarshal(replyJSON, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal strategy reply: %w", err)
	}

	if reply.Error != "" {
		return nil, fmt.Errorf("plugin strategy error: %s", reply.Error)
	}

	return &reply, nil
}

// Metadata calls the plugin's metadata function.
func (b *Bridge) Metadata(ctx context.Context) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resultJSON, err := b.call(ctx, b.pluginMetadata, nil)
	if err != nil {
		return nil, fmt.Errorf("plugin_metadata failed: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(resultJSON, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &metadata, nil
}

// call invokes a WASM function with JSON input and output.
func (b *Bridge) call(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer b.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))

		if !b.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)

	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}

	// Output memory was allocated by the module; hand it back.
	if err := b.deallocate(ctx, outputPtr); err != nil {
		_ = err
	}

	return output, nil
}

// allocate allocates memory in WASM and returns the pointer.
func (b *Bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}

	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}

	return ptr, nil
}

// deallocate frees memory in WASM.
func (b *Bridge) deallocate(ctx context.Context, ptr uint32) error {
	if _, err := b.free.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("free failed: %w", err)
	}
	return nil
}
