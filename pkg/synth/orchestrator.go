package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudloom/loom/pkg/binder"
	"github.com/cloudloom/loom/pkg/capability"
	"github.com/cloudloom/loom/pkg/config"
	"github.com/cloudloom/loom/pkg/identity"
	"github.com/cloudloom/loom/pkg/policy"
	"github.com/cloudloom/loom/pkg/stores"
	"github.com/cloudloom/loom/pkg/telemetry"
)

// ErrPolicyDenied is returned when the policy gate blocks a run.
var ErrPolicyDenied = errors.New("run denied by policy")

// ErrBindingFailures is returned when one or more bindings failed to resolve.
var ErrBindingFailures = errors.New("binding resolution failed")

// Request describes one synthesis run: the project document, the component
// adapters the bindings refer to, and the raw resource set the drift engine
// rewrites.
type Request struct {
	// Document is the parsed project document.
	Document *config.Document

	// Components maps component names to their adapters.
	Components map[string]capability.Adapter

	// Resources is the synthesized resource set of this run.
	Resources []identity.Resource

	// Actor is recorded in the audit trail. Defaults to "system".
	Actor string

	// DryRun evaluates the full pipeline without persisting the map.
	DryRun bool
}

// Result carries everything a run produced, including partial output of
// failed runs.
type Result struct {
	// RunID is the unique run identifier.
	RunID string `json:"run_id"`

	// Status is the terminal run status.
	Status stores.RunStatus `json:"status"`

	// Bindings holds the resolved trigger configurations, indexed like the
	// document's binding list. Failed bindings leave a nil slot.
	Bindings []*binder.TriggerResult `json:"bindings,omitempty"`

	// BindingErrors maps binding list positions to their failures.
	BindingErrors map[int]error `json:"-"`

	// Graph is the resource dependency graph validated at the start of the
	// run.
	Graph *identity.ResourceGraph `json:"graph,omitempty"`

	// Drift is the drift engine outcome.
	Drift *identity.ApplyResult `json:"drift,omitempty"`

	// Policy is the policy gate verdict.
	Policy *policy.Result `json:"policy,omitempty"`

	// Map is the identity map as it stood at the end of the run. Persisted
	// only when the run completed and was not a dry run.
	Map *identity.LogicalIDMap `json:"-"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// Orchestrator drives one synthesis run end to end: lock, bindings, drift
// avoidance, policy gate, persistence. The persisted identity map is only
// written after the whole pipeline validated; failed runs leave the prior
// map untouched.
type Orchestrator struct {
	store    stores.Store
	registry *binder.Registry
	policies *policy.Engine
	logger   zerolog.Logger
}

// NewOrchestrator creates a run orchestrator.
func NewOrchestrator(store stores.Store, registry *binder.Registry, policies *policy.Engine, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: registry,
		policies: policies,
		logger:   logger.With().Str("component", "synth-orchestrator").Logger(),
	}
}

// Run executes one synthesis run. The returned Result is non-nil whenever a
// run record was created, failed runs included, so callers can report
// partial output.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	stack := req.Document.Stack
	actor := req.Actor
	if actor == "" {
		actor = "system"
	}

	runID := uuid.New().String()
	started := time.Now()

	run := &stores.Run{
		ID:          runID,
		StackName:   stack.Name,
		Environment: stack.Environment,
		Status:      stores.RunStatusPending,
		StartedAt:   started,
		Metadata:    runMetadata(req),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if err := o.store.AcquireRunLock(ctx, stack.Name, stack.Environment, runID); err != nil {
		failMsg := err.Error()
		_ = o.store.UpdateRunStatus(ctx, runID, stores.RunStatusFailed, &failMsg)
		return nil, fmt.Errorf("failed to acquire run lock for %s/%s: %w", stack.Name, stack.Environment, err)
	}
	defer func() {
		// The lock is released even when the surrounding context is gone.
		releaseCtx := context.WithoutCancel(ctx)
		if err := o.store.ReleaseRunLock(releaseCtx, stack.Name, stack.Environment, runID); err != nil {
			o.logger.Warn().Err(err).Str("run_id", runID).Msg("failed to release run lock")
		}
	}()

	ctx = telemetry.WithRunContext(ctx, runID, stack.Name)
	_ = o.store.UpdateRunStatus(ctx, runID, stores.RunStatusRunning, nil)

	o.logger.Info().
		Str("run_id", runID).
		Str("stack", stack.Name).
		Str("environment", stack.Environment).
		Int("bindings", len(req.Document.Bindings)).
		Int("resources", len(req.Resources)).
		Bool("dry_run", req.DryRun).
		Msg("synthesis run started")

	result := &Result{RunID: runID, Status: stores.RunStatusRunning}
	err := o.execute(ctx, req, result)
	result.Duration = time.Since(started)

	if err != nil {
		result.Status = stores.RunStatusFailed
		failMsg := err.Error()
		_ = o.store.UpdateRunStatus(ctx, runID, stores.RunStatusFailed, &failMsg)
		o.audit(ctx, actor, "run.failed", runID, failMsg)
		telemetry.EndRunContext(ctx, runID, string(stores.RunStatusFailed), err)
		return result, err
	}

	result.Status = stores.RunStatusCompleted
	_ = o.store.UpdateRunStatus(ctx, runID, stores.RunStatusCompleted, nil)
	o.audit(ctx, actor, "run.completed", runID, "")
	telemetry.EndRunContext(ctx, runID, string(stores.RunStatusCompleted), nil)

	o.logger.Info().
		Str("run_id", runID).
		Dur("duration", result.Duration).
		Msg("synthesis run completed")

	return result, nil
}

// execute runs the pipeline stages against an acquired lock. Binding
// failures are batched so independent bindings still resolve, and the drift
// and policy stages still run so a failed run reports everything at once.
func (o *Orchestrator) execute(ctx context.Context, req *Request, result *Result) error {
	stack := req.Document.Stack
	actor := req.Actor
	if actor == "" {
		actor = "system"
	}

	graph, err := identity.BuildGraph(req.Resources)
	if err != nil {
		return fmt.Errorf("invalid resource dependency graph: %w", err)
	}
	result.Graph = graph
	o.logger.Debug().
		Int("resources", len(req.Resources)).
		Int("depth", graph.Depth).
		Int("roots", len(graph.Roots)).
		Msg("resource dependency graph built")

	m, err := o.loadMap(ctx, stack, req.Document.Drift)
	if err != nil {
		return err
	}

	o.resolveBindings(ctx, req, result)

	driftResult, err := o.applyDrift(ctx, req, m, result)
	if err != nil {
		return err
	}

	if err := o.evaluatePolicies(ctx, req, driftResult, result); err != nil {
		return err
	}

	if len(result.BindingErrors) > 0 {
		return fmt.Errorf("%w: %d of %d bindings failed", ErrBindingFailures, len(result.BindingErrors), len(req.Document.Bindings))
	}

	result.Map = m

	if req.DryRun {
		o.logger.Info().Str("run_id", result.RunID).Msg("dry run, identity map not persisted")
		return nil
	}

	if err := o.store.SaveIdentityMap(ctx, m); err != nil {
		return fmt.Errorf("failed to persist identity map: %w", err)
	}

	o.audit(ctx, actor, "identity_map.saved", result.RunID, fmt.Sprintf("%s/%s", stack.Name, stack.Environment))

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.SetIdentityEntryCount(stack.Name, stack.Environment, float64(len(m.Mappings)))
		_ = tel.Events.PublishStatePersisted(result.RunID, stack.Name, len(m.Mappings))
	}

	return nil
}

// loadMap fetches the persisted identity map, or starts a fresh one on the
// first run of a stack. The document's drift configuration always wins over
// the persisted copy.
func (o *Orchestrator) loadMap(ctx context.Context, stack config.StackConfig, drift config.DriftConfig) (*identity.LogicalIDMap, error) {
	m, err := o.store.LoadIdentityMap(ctx, stack.Name, stack.Environment)
	if errors.Is(err, stores.ErrNotFound) {
		o.logger.Debug().
			Str("stack", stack.Name).
			Str("environment", stack.Environment).
			Msg("no persisted identity map, starting fresh")
		return identity.NewLogicalIDMap(stack.Name, stack.Environment, drift.ToDriftAvoidance()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity map: %w", err)
	}

	m.Config = drift.ToDriftAvoidance()
	return m, nil
}

// resolveBindings executes every declared binding. Failures are collected
// per position; one bad binding never aborts the rest.
func (o *Orchestrator) resolveBindings(ctx context.Context, req *Request, result *Result) {
	bindings := req.Document.Bindings
	result.Bindings = make([]*binder.TriggerResult, len(bindings))
	result.BindingErrors = make(map[int]error)

	if len(bindings) == 0 {
		return
	}

	executor := binder.NewExecutor(o.registry, o.logger)
	bindingCtx := capability.BindingContext{
		Region:      req.Document.Stack.Region,
		AccountID:   req.Document.Stack.AccountID,
		Environment: req.Document.Stack.Environment,
	}

	for i, b := range bindings {
		tc, err := o.triggerContext(req, b, bindingCtx)
		if err != nil {
			result.BindingErrors[i] = err
			o.logger.Warn().Err(err).
				Str("source", b.Source).
				Str("target", b.Target).
				Msg("binding skipped")
			continue
		}

		err = telemetry.RecordBindingOperation(ctx, result.RunID, b.Source, b.Target, b.EventType, func() (string, error) {
			res, terr := executor.Trigger(ctx, tc)
			if terr != nil {
				return "", terr
			}
			result.Bindings[i] = res
			return res.StrategyName, nil
		})
		if err != nil {
			result.BindingErrors[i] = err
		}
	}
}

// triggerContext builds the executor input for one declared binding.
func (o *Orchestrator) triggerContext(req *Request, b config.BindingConfig, bindingCtx capability.BindingContext) (*binder.TriggerContext, error) {
	source, ok := req.Components[b.Source]
	if !ok {
		return nil, fmt.Errorf("unknown source component %q", b.Source)
	}

	target, ok := req.Components[b.Target]
	if !ok {
		return nil, fmt.Errorf("unknown target component %q", b.Target)
	}

	directive, err := b.Directive()
	if err != nil {
		return nil, fmt.Errorf("invalid binding %s -> %s: %w", b.Source, b.Target, err)
	}

	return &binder.TriggerContext{
		Source:    source,
		Target:    target,
		Directive: directive,
		Binding:   bindingCtx,
	}, nil
}

// applyDrift runs the drift avoidance engine over the resource set.
func (o *Orchestrator) applyDrift(ctx context.Context, req *Request, m *identity.LogicalIDMap, result *Result) (*identity.ApplyResult, error) {
	engine := identity.NewEngine(o.logger)
	engine.RegisterStrategies(req.Document.Drift.ToStrategies())

	tel := telemetry.FromTelemetryContext(ctx)

	driftResult, err := engine.Apply(m, req.Resources)
	if err != nil {
		if tel != nil {
			tel.Metrics.RecordDriftConflict()
			_ = tel.Events.PublishIdentityConflict(result.RunID, m.StackName, err.Error())
		}
		return nil, fmt.Errorf("drift avoidance failed: %w", err)
	}

	result.Drift = driftResult

	if tel != nil {
		for _, id := range sortedDecisionIDs(driftResult) {
			d := driftResult.Decisions[id]
			tel.Metrics.RecordDriftDecision(string(d.Outcome), d.ResourceType)
			_ = tel.Events.PublishDriftDecision(result.RunID, d.CurrentID, string(d.Outcome), d.NewID)
		}
	}

	return driftResult, nil
}

// evaluatePolicies runs the policy gate over the pending run.
func (o *Orchestrator) evaluatePolicies(ctx context.Context, req *Request, driftResult *identity.ApplyResult, result *Result) error {
	stack := req.Document.Stack

	plan := &policy.PlanInput{
		StackName:    stack.Name,
		Environment:  stack.Environment,
		Decisions:    orderedDecisions(driftResult),
		Substitution: driftResult.Substitution,
		Bindings:     bindingInputs(req.Document.Bindings),
		Warnings:     driftResult.Warnings,
	}

	actor := req.Actor
	if actor == "" {
		actor = "system"
	}

	evalCtx := &policy.EvalContext{
		User:        actor,
		Environment: stack.Environment,
		Timestamp:   time.Now(),
		Operation:   "synth",
		DryRun:      req.DryRun,
	}

	polResult, err := o.policies.EvaluatePlan(ctx, plan, evalCtx)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	result.Policy = polResult

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		for _, v := range polResult.Violations {
			tel.Metrics.RecordPolicyEvaluation(v.Policy, v.Blocking())
			_ = tel.Events.PublishPolicyViolation(result.RunID, v.Policy, v.Message)
		}
	}

	if !polResult.Allowed {
		return fmt.Errorf("%w: %d blocking violations", ErrPolicyDenied, len(polResult.Violations))
	}

	return nil
}

// audit records one audit trail entry; failures only log.
func (o *Orchestrator) audit(ctx context.Context, actor, action, targetID, details string) {
	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     actor,
		TargetID:  &targetID,
		Timestamp: time.Now(),
	}
	if details != "" {
		entry.Details = &details
	}

	if err := o.store.CreateAuditEntry(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Warn().Err(err).Str("action", action).Msg("failed to write audit entry")
	}
}

func validateRequest(req *Request) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	if req.Document == nil {
		return fmt.Errorf("document is required")
	}
	if req.Document.Stack.Name == "" {
		return fmt.Errorf("stack name is required")
	}
	if req.Document.Stack.Environment == "" {
		return fmt.Errorf("stack environment is required")
	}
	return nil
}

func runMetadata(req *Request) string {
	meta := map[string]interface{}{
		"bindings":  len(req.Document.Bindings),
		"resources": len(req.Resources),
		"dry_run":   req.DryRun,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// orderedDecisions flattens the decision map deterministically.
func orderedDecisions(r *identity.ApplyResult) []identity.Decision {
	decisions := make([]identity.Decision, 0, len(r.Decisions))
	for _, id := range sortedDecisionIDs(r) {
		decisions = append(decisions, r.Decisions[id])
	}
	return decisions
}

func sortedDecisionIDs(r *identity.ApplyResult) []string {
	ids := make([]string, 0, len(r.Decisions))
	for id := range r.Decisions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func bindingInputs(bindings []config.BindingConfig) []policy.BindingInput {
	if len(bindings) == 0 {
		return nil
	}
	inputs := make([]policy.BindingInput, len(bindings))
	for i, b := range bindings {
		inputs[i] = policy.BindingInput{
			Source:     b.Source,
			Target:     b.Target,
			Capability: b.Capability,
			EventType:  b.EventType,
			Access:     b.Access,
			Filter:     b.Filter,
		}
	}
	return inputs
}
