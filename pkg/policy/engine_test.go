package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cloudloom/loom/pkg/identity"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func decision(id, resourceType string, outcome identity.Outcome, newID string) identity.Decision {
	return identity.Decision{
		CurrentID:    id,
		ResourceType: resourceType,
		Outcome:      outcome,
		NewID:        newID,
	}
}

func violationsFor(result *Result, policyName string) []Violation {
	var out []Violation
	for _, v := range result.Violations {
		if v.Policy == policyName {
			out = append(out, v)
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := testEngine(t)

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"stateful-replacement-guard",
		"replacement-review",
		"rename-budget",
		"resource-naming",
		"binding-hygiene",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateResource_NamingPolicy(t *testing.T) {
	eng := testEngine(t)

	tests := []struct {
		name          string
		resource      *identity.Resource
		expectAllowed bool
	}{
		{
			name: "valid resource name",
			resource: &identity.Resource{
				Type:      "queue",
				CurrentID: "orders-queue-1",
				Name:      "orders-queue",
			},
			expectAllowed: true,
		},
		{
			name: "uppercase in name",
			resource: &identity.Resource{
				Type:      "queue",
				CurrentID: "orders-queue-2",
				Name:      "Orders-Queue",
			},
			expectAllowed: false,
		},
		{
			name: "name with underscores",
			resource: &identity.Resource{
				Type:      "queue",
				CurrentID: "orders-queue-3",
				Name:      "orders_queue",
			},
			expectAllowed: false,
		},
		{
			name: "missing name",
			resource: &identity.Resource{
				Type:      "queue",
				CurrentID: "orders-queue-4",
			},
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateResource(context.Background(), tt.resource, nil)
			if err != nil {
				t.Fatalf("EvaluateResource failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Allowed = %v, want %v (violations: %+v)", result.Allowed, tt.expectAllowed, result.Violations)
			}
		})
	}
}

func TestEvaluatePlan_StatefulReplacementGuard(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	plan := &PlanInput{
		StackName:   "orders",
		Environment: "production",
		Decisions: []identity.Decision{
			decision("orders-db", "database", identity.OutcomeReplaced, ""),
		},
	}

	result, err := eng.EvaluatePlan(ctx, plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected replacement of a production database to be blocked")
	}
	guard := violationsFor(result, "stateful-replacement-guard")
	if len(guard) != 1 {
		t.Fatalf("expected 1 guard violation, got %d", len(guard))
	}
	if guard[0].Severity != SeverityCritical {
		t.Errorf("expected critical severity, got %s", guard[0].Severity)
	}
	if guard[0].Resource != "orders-db" {
		t.Errorf("expected violation resource orders-db, got %s", guard[0].Resource)
	}
}

func TestEvaluatePlan_DryRunSkipsGuard(t *testing.T) {
	eng := testEngine(t)

	plan := &PlanInput{
		StackName:   "orders",
		Environment: "production",
		Decisions: []identity.Decision{
			decision("orders-db", "database", identity.OutcomeReplaced, ""),
		},
	}
	evalCtx := &EvalContext{Environment: "production", Operation: "synth", DryRun: true}

	result, err := eng.EvaluatePlan(context.Background(), plan, evalCtx)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected dry run to be allowed, violations: %+v", result.Violations)
	}
	// The replacement is still surfaced for review
	if len(violationsFor(result, "replacement-review")) != 1 {
		t.Error("expected a replacement-review warning")
	}
}

func TestEvaluatePlan_ReplacementWarningInStaging(t *testing.T) {
	eng := testEngine(t)

	plan := &PlanInput{
		StackName:   "orders",
		Environment: "staging",
		Decisions: []identity.Decision{
			decision("orders-db", "database", identity.OutcomeReplaced, ""),
			decision("orders-queue", "queue", identity.OutcomePreserved, "orders-queue"),
		},
	}

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected staging replacement to be allowed, violations: %+v", result.Violations)
	}
	review := violationsFor(result, "replacement-review")
	if len(review) != 1 {
		t.Fatalf("expected 1 review warning, got %d", len(review))
	}
	if review[0].Severity != SeverityWarning {
		t.Errorf("expected warning severity, got %s", review[0].Severity)
	}
}

func TestEvaluatePlan_RenameBudget(t *testing.T) {
	eng := testEngine(t)

	plan := &PlanInput{
		StackName:   "orders",
		Environment: "staging",
	}
	for i := 0; i < 11; i++ {
		id := fmt.Sprintf("svc-%d", i)
		plan.Decisions = append(plan.Decisions, decision(id, "function", identity.OutcomeRenamed, fmt.Sprintf("svc-%d-abc12345", i)))
	}

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected rename budget to warn, not block, violations: %+v", result.Violations)
	}
	if len(violationsFor(result, "rename-budget")) != 1 {
		t.Error("expected a rename-budget warning")
	}
}

func TestEvaluatePlan_RenamedIDConventions(t *testing.T) {
	eng := testEngine(t)

	plan := &PlanInput{
		StackName:   "orders",
		Environment: "staging",
		Decisions: []identity.Decision{
			decision("svc-1", "function", identity.OutcomeRenamed, "Bad_ID"),
		},
	}

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected malformed rewritten identifier to be blocked")
	}
	if len(violationsFor(result, "resource-naming")) == 0 {
		t.Error("expected a resource-naming violation")
	}
}

func TestEvaluatePlan_BindingHygiene(t *testing.T) {
	eng := testEngine(t)

	plan := &PlanInput{
		StackName:   "orders",
		Environment: "production",
		Bindings: []BindingInput{
			{Source: "api", Target: "billing", EventType: "invoice.create", Access: "invoke"},
			{Source: "audit", Target: "events", EventType: "order.created", Access: "subscribe"},
		},
	}

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected hygiene warnings to not block, violations: %+v", result.Violations)
	}
	hygiene := violationsFor(result, "binding-hygiene")
	if len(hygiene) != 2 {
		t.Errorf("expected 2 hygiene warnings, got %d: %+v", len(hygiene), hygiene)
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	plan := &PlanInput{
		StackName:   "orders",
		Environment: "production",
		Decisions: []identity.Decision{
			decision("orders-db", "database", identity.OutcomeReplaced, ""),
		},
	}

	if err := eng.DisablePolicy("stateful-replacement-guard"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	result, err := eng.EvaluatePlan(ctx, plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected run to pass with guard disabled, violations: %+v", result.Violations)
	}

	if err := eng.EnablePolicy("stateful-replacement-guard"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	result, err = eng.EvaluatePlan(ctx, plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected run to be blocked with guard re-enabled")
	}
}

func TestGetPolicyNotFound(t *testing.T) {
	eng := testEngine(t)

	if _, err := eng.GetPolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("expected error disabling unknown policy")
	}
}

func TestCustomPolicyViaCompile(t *testing.T) {
	eng := testEngine(t)

	custom := Policy{
		Name:     "no-table-renames",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package loom.policies.tables

import rego.v1

deny contains violation if {
	input.plan
	some decision in input.plan.decisions
	decision.resource_type == "table"
	decision.outcome == "renamed"

	violation := {
		"message": sprintf("Table %s must not be renamed", [decision.current_id]),
		"severity": "error",
		"resource": decision.current_id,
	}
}`,
	}

	eng.mu.Lock()
	err := eng.compileAndStorePolicy(&custom)
	eng.mu.Unlock()
	if err != nil {
		t.Fatalf("compileAndStorePolicy failed: %v", err)
	}

	plan := &PlanInput{
		StackName:   "orders",
		Environment: "staging",
		Decisions: []identity.Decision{
			decision("orders-table", "table", identity.OutcomeRenamed, "orders-table-abc12345"),
		},
	}

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected custom policy to block table rename")
	}
	if len(violationsFor(result, "no-table-renames")) != 1 {
		t.Error("expected a no-table-renames violation")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := testEngine(t)
	builtins := len(eng.ListPolicies())

	custom := Policy{
		Name:     "flag-everything",
		Rego:     "package loom.policies.custom\nimport rego.v1\ndeny contains msg if { input.plan; msg := \"flagged\" }",
		Severity: SeverityWarning,
		Enabled:  true,
	}

	if err := eng.ReplacePolicies([]Policy{custom}); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if got := len(eng.ListPolicies()); got != builtins+1 {
		t.Errorf("Expected %d policies after replace, got %d", builtins+1, got)
	}
	if _, err := eng.GetPolicy("flag-everything"); err != nil {
		t.Errorf("Expected custom policy to be loaded: %v", err)
	}

	// A second replace drops the previous custom set.
	if err := eng.ReplacePolicies(nil); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if _, err := eng.GetPolicy("flag-everything"); err == nil {
		t.Error("Expected custom policy to be dropped")
	}
}

func TestReplacePolicies_CompileFailureKeepsOldSet(t *testing.T) {
	eng := testEngine(t)
	before := len(eng.ListPolicies())

	broken := Policy{Name: "broken", Rego: "this is not rego", Enabled: true}
	if err := eng.ReplacePolicies([]Policy{broken}); err == nil {
		t.Fatal("Expected compile error")
	}
	if got := len(eng.ListPolicies()); got != before {
		t.Errorf("Expected policy set unchanged after failed replace, got %d of %d", got, before)
	}
}
