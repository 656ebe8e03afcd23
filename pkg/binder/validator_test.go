package binder

import (
	"testing"

	"github.com/cloudloom/loom/pkg/capability"
)

func TestValidateTriggerContext_AggregatesErrors(t *testing.T) {
	// Unlike Build, context validation reports every problem at once.
	vr := ValidateTriggerContext(&TriggerContext{})
	if vr.Valid {
		t.Fatal("Expected invalid result")
	}
	if len(vr.Errors) != 3 {
		t.Errorf("Expected 3 aggregated errors, got %d: %v", len(vr.Errors), vr.Errors)
	}
}

func TestValidateTriggerContext_AccessLevel(t *testing.T) {
	source, _ := capability.NewComponent("function", "fn", nil)
	target, _ := capability.NewComponent("queue", "q", nil)

	tests := []struct {
		name   string
		access AccessLevel
		valid  bool
	}{
		{"invoke", AccessInvoke, true},
		{"publish", AccessPublish, true},
		{"subscribe", AccessSubscribe, true},
		{"unknown", "admin", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vr := ValidateTriggerContext(&TriggerContext{
				Source:    source,
				Target:    target,
				Directive: &Directive{EventType: "publish", Access: tt.access},
			})
			if vr.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v (errors: %v)", vr.Valid, tt.valid, vr.Errors)
			}
		})
	}
}

func TestValidateTriggerResult(t *testing.T) {
	tests := []struct {
		name   string
		result *TriggerResult
		valid  bool
	}{
		{"nil result", nil, false},
		{"missing configuration", &TriggerResult{}, false},
		{"empty target arn", &TriggerResult{TriggerConfiguration: &TriggerConfiguration{}}, false},
		{"valid", &TriggerResult{TriggerConfiguration: &TriggerConfiguration{TargetARN: "arn:aws:sqs:eu-west-1:123:q"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vr := ValidateTriggerResult(tt.result)
			if vr.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v (errors: %v)", vr.Valid, tt.valid, vr.Errors)
			}
		})
	}
}
