package binder

import (
	"strings"
	"testing"

	"github.com/cloudloom/loom/pkg/capability"
)

func TestDirectiveBuilder_Build(t *testing.T) {
	target := capability.Ref{Component: "orders-queue", Capability: "messaging.queue"}

	d, err := NewDirective().
		OnEvent("publish").
		To(target).
		WithAccess(AccessPublish).
		WithOption("batchSize", 10).
		WithMetadata("owner", "orders-team").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if d.EventType != "publish" {
		t.Errorf("Unexpected event type: %s", d.EventType)
	}
	if d.Target != target {
		t.Errorf("Unexpected target: %v", d.Target)
	}
	if d.Options["batchSize"] != 10 {
		t.Errorf("Unexpected options: %v", d.Options)
	}
}

func TestDirectiveBuilder_MissingFieldOrder(t *testing.T) {
	target := capability.Ref{Component: "orders-queue", Capability: "messaging.queue"}

	tests := []struct {
		name    string
		builder *DirectiveBuilder
		wantMsg string
	}{
		{
			// Event type is reported first even when every mandatory
			// field is missing.
			name:    "all missing",
			builder: NewDirective(),
			wantMsg: "event type",
		},
		{
			name:    "target missing",
			builder: NewDirective().OnEvent("publish"),
			wantMsg: "target",
		},
		{
			name:    "access missing",
			builder: NewDirective().OnEvent("publish").To(target),
			wantMsg: "access",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if err == nil {
				t.Fatal("Expected a validation error")
			}
			if !IsValidation(err) {
				t.Errorf("Expected validation class, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error naming %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestDirectiveBuilder_InvalidAccess(t *testing.T) {
	_, err := NewDirective().
		OnEvent("publish").
		To(capability.Ref{Component: "q", Capability: "messaging.queue"}).
		WithAccess("admin").
		Build()
	if err == nil {
		t.Fatal("Expected a validation error for unknown access level")
	}
}
