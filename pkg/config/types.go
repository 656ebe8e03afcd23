package config

import (
	"time"

	"github.com/cloudloom/loom/pkg/binder"
	"github.com/cloudloom/loom/pkg/capability"
	"github.com/cloudloom/loom/pkg/identity"
)

// Document is the project document driving one synthesis run: the stack
// identity, the drift avoidance configuration and strategies, and the
// declared bindings.
type Document struct {
	// Stack identifies the stack this document configures.
	Stack StackConfig `json:"stack" yaml:"stack" validate:"required"`

	// Drift configures drift avoidance for the stack.
	Drift DriftConfig `json:"drift,omitempty" yaml:"drift,omitempty"`

	// Bindings are the declared component bindings.
	Bindings []BindingConfig `json:"bindings,omitempty" yaml:"bindings,omitempty" validate:"dive"`

	// Store configures the persistence layer.
	Store StoreConfig `json:"store,omitempty" yaml:"store,omitempty"`
}

// StackConfig identifies a stack and its deployment context.
type StackConfig struct {
	// Name is the stack name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Environment is the deployment environment (e.g., "production").
	Environment string `json:"environment" yaml:"environment" validate:"required"`

	// Region is the deployment region.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// AccountID is the cloud account identifier.
	AccountID string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
}

// DriftConfig configures drift avoidance for a stack.
type DriftConfig struct {
	// EnableDeterministicNaming permits deterministic-naming actions.
	EnableDeterministicNaming bool `json:"enable_deterministic_naming,omitempty" yaml:"enable_deterministic_naming,omitempty"`

	// PreserveResourceOrder emits the rewritten set in original order.
	PreserveResourceOrder bool `json:"preserve_resource_order,omitempty" yaml:"preserve_resource_order,omitempty"`

	// ValidateBeforeApply makes strategy execution errors fatal for the run.
	ValidateBeforeApply bool `json:"validate_before_apply,omitempty" yaml:"validate_before_apply,omitempty"`

	// AllowedResourceTypes limits preservation to the listed types.
	AllowedResourceTypes []string `json:"allowed_resource_types,omitempty" yaml:"allowed_resource_types,omitempty"`

	// BlockedResourceTypes are never preserved or renamed.
	BlockedResourceTypes []string `json:"blocked_resource_types,omitempty" yaml:"blocked_resource_types,omitempty"`

	// Strategies are the drift avoidance strategies, evaluated by priority.
	Strategies []StrategyConfig `json:"strategies,omitempty" yaml:"strategies,omitempty" validate:"dive"`
}

// StrategyConfig is one declarative drift avoidance strategy.
type StrategyConfig struct {
	// Name identifies the strategy in reports.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Priority orders evaluation; higher runs first.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Conditions all must hold for a resource to match.
	Conditions []ConditionConfig `json:"conditions" yaml:"conditions" validate:"required,min=1,dive"`

	// Actions are applied to every matched resource.
	Actions []ActionConfig `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
}

// ConditionConfig is one strategy condition.
type ConditionConfig struct {
	Type     string `json:"type" yaml:"type" validate:"required,oneof=resource-type resource-name property-value dependency-chain"`
	Operator string `json:"operator" yaml:"operator" validate:"required,oneof=equals contains matches exists"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
}

// ActionConfig is one strategy action.
type ActionConfig struct {
	Type       string                 `json:"type" yaml:"type" validate:"required,oneof=preserve-logical-id deterministic-naming property-override"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// BindingConfig is one declared binding between two components.
type BindingConfig struct {
	// Source is the source component name.
	Source string `json:"source" yaml:"source" validate:"required"`

	// Target is the target component name.
	Target string `json:"target" yaml:"target" validate:"required"`

	// Capability is the target capability key the binding asks for.
	Capability string `json:"capability,omitempty" yaml:"capability,omitempty"`

	// EventType is the event the binding reacts to.
	EventType string `json:"event_type" yaml:"event_type" validate:"required"`

	// Access is the requested access level.
	Access string `json:"access" yaml:"access" validate:"required,oneof=invoke publish subscribe"`

	// Filter narrows the events delivered through the binding.
	Filter map[string]interface{} `json:"filter,omitempty" yaml:"filter,omitempty"`

	// Transform is an optional Starlark expression applied to the
	// resolved trigger configuration.
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`

	// Options carry strategy-specific settings.
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`

	// Metadata are free-form annotations.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	// Path is the SQLite database path.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Path is the document path to the error (e.g., "drift.strategies[0]").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// LoadResult carries a parsed document and its provenance.
type LoadResult struct {
	// Document is the parsed project document.
	Document *Document `json:"document"`

	// SourceFile is the file the document came from.
	SourceFile string `json:"source_file"`

	// LoadedAt is when the document was parsed.
	LoadedAt time.Time `json:"loaded_at"`
}

// ToDriftAvoidance converts the drift section to the engine configuration.
func (d DriftConfig) ToDriftAvoidance() identity.DriftAvoidanceConfig {
	return identity.DriftAvoidanceConfig{
		EnableDeterministicNaming: d.EnableDeterministicNaming,
		PreserveResourceOrder:     d.PreserveResourceOrder,
		ValidateBeforeApply:       d.ValidateBeforeApply,
		AllowedResourceTypes:      append([]string(nil), d.AllowedResourceTypes...),
		BlockedResourceTypes:      append([]string(nil), d.BlockedResourceTypes...),
	}
}

// ToStrategies converts the declared strategies, preserving declaration
// order so equal priorities tie-break the way they were written.
func (d DriftConfig) ToStrategies() []identity.Strategy {
	strategies := make([]identity.Strategy, len(d.Strategies))
	for i, sc := range d.Strategies {
		strategies[i] = sc.ToStrategy()
	}
	return strategies
}

// ToStrategy converts one strategy declaration.
func (sc StrategyConfig) ToStrategy() identity.Strategy {
	conditions := make([]identity.Condition, len(sc.Conditions))
	for i, cc := range sc.Conditions {
		conditions[i] = identity.Condition{
			Type:     identity.ConditionType(cc.Type),
			Operator: identity.Operator(cc.Operator),
			Path:     cc.Path,
			Value:    cc.Value,
		}
	}

	actions := make([]identity.Action, len(sc.Actions))
	for i, ac := range sc.Actions {
		actions[i] = identity.Action{
			Type:       identity.ActionType(ac.Type),
			Parameters: ac.Parameters,
		}
	}

	return identity.Strategy{
		Name:        sc.Name,
		Description: sc.Description,
		Conditions:  conditions,
		Actions:     actions,
		Priority:    sc.Priority,
	}
}

// Directive converts the binding declaration into a validated directive.
func (b BindingConfig) Directive() (*binder.Directive, error) {
	builder := binder.NewDirective().
		OnEvent(b.EventType).
		To(capability.Ref{Component: b.Target, Capability: b.Capability}).
		WithAccess(binder.AccessLevel(b.Access))

	if b.Filter != nil {
		builder = builder.WithFilter(b.Filter)
	}
	if b.Transform != "" {
		builder = builder.WithTransform(b.Transform)
	}
	for k, v := range b.Options {
		builder = builder.WithOption(k, v)
	}
	for k, v := range b.Metadata {
		builder = builder.WithMetadata(k, v)
	}

	return builder.Build()
}
