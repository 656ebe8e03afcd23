package binder

import (
	"github.com/cloudloom/loom/pkg/capability"
)

// AccessLevel is the access mode a binding requests on its target.
type AccessLevel string

const (
	// AccessInvoke grants synchronous invocation of the target.
	AccessInvoke AccessLevel = "invoke"

	// AccessPublish grants publishing to the target.
	AccessPublish AccessLevel = "publish"

	// AccessSubscribe grants subscribing to the target.
	AccessSubscribe AccessLevel = "subscribe"
)

// ValidAccessLevel reports whether the access level is one of the known modes.
func ValidAccessLevel(a AccessLevel) bool {
	switch a {
	case AccessInvoke, AccessPublish, AccessSubscribe:
		return true
	}
	return false
}

// Directive is a fully assembled binding request. Directives are transient,
// scoped to a single binding resolution call.
type Directive struct {
	// EventType is the event kind the binding reacts to (e.g., "invoke").
	EventType string `json:"event_type"`

	// Target references the providing component's capability.
	Target capability.Ref `json:"target"`

	// Access is the requested access level.
	Access AccessLevel `json:"access"`

	// Filter narrows which events trigger the binding.
	Filter map[string]interface{} `json:"filter,omitempty"`

	// Transform is an optional Starlark expression applied to the trigger
	// configuration before it is emitted.
	Transform string `json:"transform,omitempty"`

	// Options carries strategy-specific settings.
	Options map[string]interface{} `json:"options,omitempty"`

	// Metadata carries caller annotations, opaque to strategies.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CompatibilityEntry is one (source, target, event) tuple a strategy handles.
type CompatibilityEntry struct {
	// SourceType is the requesting component type.
	SourceType string `json:"source_type" yaml:"source_type"`

	// TargetType is the providing component type.
	TargetType string `json:"target_type" yaml:"target_type"`

	// EventType is the event kind.
	EventType string `json:"event_type" yaml:"event_type"`
}

// String renders the tuple for diagnostics.
func (c CompatibilityEntry) String() string {
	return c.SourceType + " -> " + c.TargetType + " (" + c.EventType + ")"
}

// TriggerContext is the input to one binding execution.
type TriggerContext struct {
	// Source is the requesting component adapter.
	Source capability.Adapter `json:"-"`

	// Target is the providing component adapter.
	Target capability.Adapter `json:"-"`

	// Directive is the assembled binding request.
	Directive *Directive `json:"directive"`

	// Binding carries caller-supplied environment facts. Read-only.
	Binding capability.BindingContext `json:"binding"`
}

// TriggerConfiguration is the wiring a strategy produced for one binding.
type TriggerConfiguration struct {
	// TargetARN is the resolved target identifier. Must be non-empty; the
	// result validator enforces this, not the strategy.
	TargetARN string `json:"target_arn"`

	// Properties carries additional trigger settings.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// TriggerResult is the outcome of one successful binding execution.
type TriggerResult struct {
	// StrategyName is the strategy that produced the result.
	StrategyName string `json:"strategy_name"`

	// TriggerConfiguration is the produced wiring.
	TriggerConfiguration *TriggerConfiguration `json:"trigger_configuration"`
}
