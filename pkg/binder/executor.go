package binder

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cloudloom/loom/pkg/capability"
)

// Executor resolves binding requests against the strategy registry and runs
// the matched strategy. Side effects a strategy applies to the source adapter
// are cumulative and idempotent: executing the same binding twice with
// identical inputs never duplicates environment entries or policy statements.
type Executor struct {
	registry   *Registry
	logger     zerolog.Logger
	transforms *TransformEvaluator

	// seenEnv tracks applied (key=value) env pairs per source node ID.
	seenEnv map[string]map[string]struct{}

	// seenStatements tracks applied policy fingerprints per source node ID.
	seenStatements map[string]map[string]struct{}
}

// NewExecutor creates a binding executor over the given registry.
func NewExecutor(registry *Registry, logger zerolog.Logger) *Executor {
	return &Executor{
		registry:       registry,
		logger:         logger.With().Str("component", "binder-executor").Logger(),
		transforms:     NewTransformEvaluator(0),
		seenEnv:        make(map[string]map[string]struct{}),
		seenStatements: make(map[string]map[string]struct{}),
	}
}

// Trigger resolves and executes one binding request.
func (e *Executor) Trigger(ctx context.Context, tc *TriggerContext) (*TriggerResult, error) {
	if vr := ValidateTriggerContext(tc); !vr.Valid {
		return nil, NewValidationError(
			"invalid trigger context: "+strings.Join(vr.Errors, "; "), nil)
	}

	sourceType := tc.Source.Type()
	targetType := tc.Target.Type()
	eventType := tc.Directive.EventType

	strategy, found := e.registry.FindStrategy(sourceType, targetType, eventType)
	if !found {
		supported := e.registry.SupportedTriggers(sourceType)
		suggestions := make([]string, 0, len(supported))
		for _, entry := range supported {
			suggestions = append(suggestions, entry.String())
		}

		e.logger.Debug().
			Str("source_type", sourceType).
			Str("target_type", targetType).
			Str("event_type", eventType).
			Int("suggestions", len(suggestions)).
			Msg("No binding strategy found")

		return nil, NewResolutionError(
			fmt.Sprintf("no strategy handles %s -> %s (%s)", sourceType, targetType, eventType),
			suggestions,
		).WithSource(tc.Source.NodeID())
	}

	// Strategies mutate the source through a wrapper that drops env entries
	// and policy statements already applied for this source node.
	guarded := *tc
	guarded.Source = e.guard(tc.Source)

	result, err := strategy.Execute(ctx, &guarded)
	if err != nil {
		return nil, NewExecutionError(
			fmt.Sprintf("strategy %s failed", strategy.Name()), err,
		).WithSource(tc.Source.NodeID())
	}

	if vr := ValidateTriggerResult(result); !vr.Valid {
		return nil, &BinderError{
			Class:   ErrorClassExecution,
			Code:    ErrCodeBadResult,
			Message: fmt.Sprintf("strategy %s returned an invalid result: %s", strategy.Name(), strings.Join(vr.Errors, "; ")),
			Source:  tc.Source.NodeID(),
		}
	}

	if result.StrategyName == "" {
		result.StrategyName = strategy.Name()
	}

	// Transforms run after the strategy so they apply uniformly, plugin
	// strategies included.
	if err := e.transforms.Apply(ctx, tc.Directive, result.TriggerConfiguration); err != nil {
		return nil, NewExecutionError(
			fmt.Sprintf("transform for %s -> %s failed", tc.Source.NodeID(), tc.Target.NodeID()), err,
		).WithSource(tc.Source.NodeID())
	}

	e.logger.Debug().
		Str("strategy", strategy.Name()).
		Str("source", tc.Source.NodeID()).
		Str("target", tc.Target.NodeID()).
		Str("target_arn", result.TriggerConfiguration.TargetARN).
		Msg("Binding resolved")

	return result, nil
}

// TriggerAll executes a batch of binding requests. Per-binding failures are
// collected so one bad binding does not abort resolution of the rest; errors
// are indexed to their position in the input slice.
func (e *Executor) TriggerAll(ctx context.Context, tcs []*TriggerContext) ([]*TriggerResult, map[int]error) {
	results := make([]*TriggerResult, len(tcs))
	failures := make(map[int]error)

	for i, tc := range tcs {
		result, err := e.Trigger(ctx, tc)
		if err != nil {
			failures[i] = err
			continue
		}
		results[i] = result
	}

	return results, failures
}

// guard wraps an adapter so repeated identical mutations become no-ops.
func (e *Executor) guard(source capability.Adapter) capability.Adapter {
	nodeID := source.NodeID()
	if e.seenEnv[nodeID] == nil {
		e.seenEnv[nodeID] = make(map[string]struct{})
	}
	if e.seenStatements[nodeID] == nil {
		e.seenStatements[nodeID] = make(map[string]struct{})
	}
	return &dedupAdapter{
		Adapter:    source,
		env:        e.seenEnv[nodeID],
		statements: e.seenStatements[nodeID],
	}
}

// dedupAdapter suppresses mutations already applied to the wrapped adapter.
type dedupAdapter struct {
	capability.Adapter
	env        map[string]struct{}
	statements map[string]struct{}
}

func (d *dedupAdapter) SetEnv(key, value string) {
	pair := key + "=" + value
	if _, applied := d.env[pair]; applied {
		return
	}
	d.env[pair] = struct{}{}
	d.Adapter.SetEnv(key, value)
}

func (d *dedupAdapter) AddPolicyStatement(stmt capability.PolicyStatement) {
	fp := stmt.Fingerprint()
	if _, applied := d.statements[fp]; applied {
		return
	}
	d.statements[fp] = struct{}{}
	d.Adapter.AddPolicyStatement(stmt)
}
