package policy

import (
	"time"

	"github.com/cloudloom/loom/pkg/identity"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the resource ID that violated the policy.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains additional violation details.
	Details map[string]interface{} `json:"details,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Blocking reports whether the violation should block the run.
func (v Violation) Blocking() bool {
	return v.Severity == SeverityError || v.Severity == SeverityCritical
}

// Result represents the outcome of policy evaluation.
type Result struct {
	// Allowed indicates if the operation is allowed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not block the run.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// BindingInput is the policy view of one declared binding.
type BindingInput struct {
	// Source is the requesting component.
	Source string `json:"source"`

	// Target is the providing component.
	Target string `json:"target"`

	// Capability is the capability key the binding asks for.
	Capability string `json:"capability,omitempty"`

	// EventType is the event the binding reacts to.
	EventType string `json:"event_type"`

	// Access is the requested access level.
	Access string `json:"access"`

	// Filter narrows delivered events.
	Filter map[string]interface{} `json:"filter,omitempty"`
}

// PlanInput is the policy view of a pending synthesis run: the drift
// decisions about to be committed plus the declared bindings.
type PlanInput struct {
	// StackName is the stack being synthesized.
	StackName string `json:"stack_name"`

	// Environment is the deployment environment.
	Environment string `json:"environment"`

	// Decisions are the drift engine verdicts, one per resource.
	Decisions []identity.Decision `json:"decisions"`

	// Substitution is the pending currentId -> newId rewrite.
	Substitution map[string]string `json:"substitution,omitempty"`

	// Bindings are the declared component bindings.
	Bindings []BindingInput `json:"bindings,omitempty"`

	// Warnings are the drift engine warnings attached to the run.
	Warnings []string `json:"warnings,omitempty"`
}

// EvalContext provides context information for policy evaluation.
type EvalContext struct {
	// User is the user performing the operation.
	User string `json:"user,omitempty"`

	// Environment is the environment (e.g., "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed (e.g., "synth", "validate").
	Operation string `json:"operation,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Input is the full document handed to Rego evaluation.
type Input struct {
	// Resource is set when a single resource is being evaluated.
	Resource *identity.Resource `json:"resource,omitempty"`

	// Plan is set when a pending run is being evaluated.
	Plan *PlanInput `json:"plan,omitempty"`

	// Context provides additional evaluation context.
	Context *EvalContext `json:"context"`
}

// Bundle represents a collection of related policies.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}

// Summary provides aggregate statistics for policy evaluation.
type Summary struct {
	// TotalPolicies is the total number of policies evaluated.
	TotalPolicies int `json:"total_policies"`

	// TotalViolations is the total number of violations.
	TotalViolations int `json:"total_violations"`

	// ViolationsBySeverity breaks down violations by severity.
	ViolationsBySeverity map[Severity]int `json:"violations_by_severity"`

	// BlockedRuns is the number of evaluations that were blocked.
	BlockedRuns int `json:"blocked_runs"`

	// EvaluationDuration is the total evaluation time.
	EvaluationDuration time.Duration `json:"evaluation_duration"`
}

// Summarize aggregates results into a summary.
func Summarize(results ...*Result) *Summary {
	s := &Summary{ViolationsBySeverity: make(map[Severity]int)}
	for _, r := range results {
		s.TotalPolicies += len(r.EvaluatedPolicies)
		s.TotalViolations += len(r.Violations)
		for _, v := range r.Violations {
			s.ViolationsBySeverity[v.Severity]++
		}
		if !r.Allowed {
			s.BlockedRuns++
		}
		s.EvaluationDuration += r.Duration
	}
	return s
}
