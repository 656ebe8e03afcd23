package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for document validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas. The standalone
// schemas embed their definition so that data unifies against it directly.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	_ = sr.RegisterSchema("document", builtinDocumentSchema)
	_ = sr.RegisterSchema("stack", builtinStackSchema+"\n#Stack\n")
	_ = sr.RegisterSchema("strategy", builtinStrategySchema+"\n#Strategy\n")
	_ = sr.RegisterSchema("binding", builtinBindingSchema+"\n#Binding\n")
}

// RegisterSchema registers a CUE schema with the given name. The schema must
// define a single top-level definition that the data is unified against.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unification is the validation
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// ValidateDocument validates a parsed document against the document schema.
func (sr *SchemaRegistry) ValidateDocument(ctx context.Context, doc *Document) error {
	return sr.ValidateAgainstSchema(ctx, "document", doc)
}

// Built-in schema definitions

const builtinStackSchema = `
// Stack identity
#Stack: {
	name:        string & =~"^[a-zA-Z0-9_-]+$"
	environment: string & =~"^[a-zA-Z0-9_-]+$"
	region?:     string
	account_id?: string
	...
}
`

const builtinStrategySchema = `
// Drift avoidance strategy
#Strategy: {
	name:         string & =~"^[a-zA-Z0-9_-]+$"
	description?: string
	priority?:    int
	conditions: [...{
		type:     "resource-type" | "resource-name" | "property-value" | "dependency-chain"
		operator: "equals" | "contains" | "matches" | "exists"
		path?:    string
		value?:   string
		...
	}]
	actions: [...{
		type:        "preserve-logical-id" | "deterministic-naming" | "property-override"
		parameters?: {...}
		...
	}]
	...
}
`

const builtinBindingSchema = `
// Component binding declaration
#Binding: {
	source:      string & =~"^[a-zA-Z0-9_-]+$"
	target:      string & =~"^[a-zA-Z0-9_-]+$"
	capability?: string
	event_type:  string
	access:      "invoke" | "publish" | "subscribe"
	filter?:     {...}
	transform?:  string
	options?:    {...}
	metadata?:   {[string]: string}
	...
}
`

const builtinDocumentSchema = builtinStackSchema + builtinStrategySchema + builtinBindingSchema + `
// Project document
#Document: {
	stack: #Stack
	drift?: {
		enable_deterministic_naming?: bool
		preserve_resource_order?:     bool
		validate_before_apply?:       bool
		allowed_resource_types?: [...string]
		blocked_resource_types?: [...string]
		strategies?: [...#Strategy]
		...
	}
	bindings?: [...#Binding]
	store?: {
		path?: string
		...
	}
	...
}

#Document
`
