package binder

import "fmt"

// ValidationResult aggregates validation findings. Unlike the directive
// builder, context validation does not short-circuit: every problem is
// collected so the caller can correct them in one pass.
type ValidationResult struct {
	// Valid is true when no errors were found.
	Valid bool `json:"valid"`

	// Errors lists every validation failure.
	Errors []string `json:"errors,omitempty"`
}

// ValidateTriggerContext checks a trigger context before execution. Source,
// target and directive must all be present; when a directive is present, its
// access level must be one of the known modes.
func ValidateTriggerContext(tc *TriggerContext) ValidationResult {
	var errs []string

	if tc == nil {
		return ValidationResult{Errors: []string{"trigger context is required"}}
	}
	if tc.Source == nil {
		errs = append(errs, "source adapter is required")
	}
	if tc.Target == nil {
		errs = append(errs, "target adapter is required")
	}
	if tc.Directive == nil {
		errs = append(errs, "directive is required")
	} else if !ValidAccessLevel(tc.Directive.Access) {
		errs = append(errs, fmt.Sprintf("invalid access level: %q (must be invoke, publish, or subscribe)", tc.Directive.Access))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateTriggerResult checks a strategy's result: the trigger configuration
// must exist and carry a non-empty target ARN.
func ValidateTriggerResult(result *TriggerResult) ValidationResult {
	var errs []string

	if result == nil {
		return ValidationResult{Errors: []string{"trigger result is required"}}
	}
	if result.TriggerConfiguration == nil {
		errs = append(errs, "trigger configuration is required")
	} else if result.TriggerConfiguration.TargetARN == "" {
		errs = append(errs, "trigger configuration has an empty target ARN")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
