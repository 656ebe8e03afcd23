package binder

import (
	"github.com/cloudloom/loom/pkg/capability"
)

// DirectiveBuilder assembles a binding directive incrementally. Build fails
// with a validation error naming the first missing mandatory field, checked
// in order: event type, target, access.
type DirectiveBuilder struct {
	directive Directive
}

// NewDirective starts a new directive builder.
func NewDirective() *DirectiveBuilder {
	return &DirectiveBuilder{}
}

// OnEvent sets the event type.
func (b *DirectiveBuilder) OnEvent(eventType string) *DirectiveBuilder {
	b.directive.EventType = eventType
	return b
}

// To sets the target capability reference.
func (b *DirectiveBuilder) To(target capability.Ref) *DirectiveBuilder {
	b.directive.Target = target
	return b
}

// WithAccess sets the requested access level.
func (b *DirectiveBuilder) WithAccess(access AccessLevel) *DirectiveBuilder {
	b.directive.Access = access
	return b
}

// WithFilter sets the event filter.
func (b *DirectiveBuilder) WithFilter(filter map[string]interface{}) *DirectiveBuilder {
	b.directive.Filter = filter
	return b
}

// WithTransform sets the Starlark transform expression.
func (b *DirectiveBuilder) WithTransform(transform string) *DirectiveBuilder {
	b.directive.Transform = transform
	return b
}

// WithOption sets a single strategy option.
func (b *DirectiveBuilder) WithOption(key string, value interface{}) *DirectiveBuilder {
	if b.directive.Options == nil {
		b.directive.Options = make(map[string]interface{})
	}
	b.directive.Options[key] = value
	return b
}

// WithMetadata sets a single metadata annotation.
func (b *DirectiveBuilder) WithMetadata(key, value string) *DirectiveBuilder {
	if b.directive.Metadata == nil {
		b.directive.Metadata = make(map[string]string)
	}
	b.directive.Metadata[key] = value
	return b
}

// Build validates the mandatory fields and returns the directive.
// Validation short-circuits on the first missing field.
func (b *DirectiveBuilder) Build() (*Directive, error) {
	if b.directive.EventType == "" {
		return nil, NewValidationError("directive is missing event type", nil)
	}
	if b.directive.Target.IsZero() {
		return nil, NewValidationError("directive is missing target", nil)
	}
	if b.directive.Access == "" {
		return nil, NewValidationError("directive is missing access level", nil)
	}
	if !ValidAccessLevel(b.directive.Access) {
		return nil, NewValidationError("invalid access level: "+string(b.directive.Access), nil)
	}

	d := b.directive
	return &d, nil
}
