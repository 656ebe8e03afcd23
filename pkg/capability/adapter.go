package capability

import (
	"fmt"
	"sort"
	"strings"
)

// PolicyStatement is a single permission grant added to a component by a
// binder strategy.
type PolicyStatement struct {
	// Effect is "allow" or "deny".
	Effect string `json:"effect"`

	// Actions are the permitted operations (e.g., "lambda:InvokeFunction").
	Actions []string `json:"actions"`

	// Resources are the resource identifiers the actions apply to.
	Resources []string `json:"resources"`
}

// Fingerprint returns a stable identity for the statement, used to keep
// repeated binding executions from duplicating grants.
func (p PolicyStatement) Fingerprint() string {
	actions := make([]string, len(p.Actions))
	copy(actions, p.Actions)
	sort.Strings(actions)

	resources := make([]string, len(p.Resources))
	copy(resources, p.Resources)
	sort.Strings(resources)

	return p.Effect + "|" + strings.Join(actions, ",") + "|" + strings.Join(resources, ",")
}

// Adapter is the opaque handle a binder strategy receives for a component.
// The synthesis pipeline owns the adapter; strategies mutate it only through
// SetEnv and AddPolicyStatement and must not retain it past the binding call.
type Adapter interface {
	// Type returns the component type tag (e.g., "function", "queue").
	Type() string

	// NodeID returns the stable node identifier within the synthesis graph.
	NodeID() string

	// Capabilities returns the component's declared capability set.
	Capabilities() *Set

	// Construct resolves a named internal handle to its underlying construct.
	Construct(name string) (interface{}, bool)

	// SetEnv adds an environment entry to the component.
	SetEnv(key, value string)

	// AddPolicyStatement appends a permission grant to the component.
	AddPolicyStatement(stmt PolicyStatement)
}

// Component is the in-memory Adapter used by the synthesis pipeline.
type Component struct {
	componentType string
	nodeID        string
	capabilities  *Set
	constructs    map[string]interface{}

	// Env holds environment entries added by binder strategies.
	Env map[string]string

	// Statements holds policy statements added by binder strategies.
	Statements []PolicyStatement
}

// NewComponent creates a component adapter.
func NewComponent(componentType, nodeID string, capabilities *Set) (*Component, error) {
	if componentType == "" {
		return nil, fmt.Errorf("component type is required")
	}
	if nodeID == "" {
		return nil, fmt.Errorf("component node ID is required")
	}
	return &Component{
		componentType: componentType,
		nodeID:        nodeID,
		capabilities:  capabilities,
		constructs:    make(map[string]interface{}),
		Env:           make(map[string]string),
	}, nil
}

// Type returns the component type tag.
func (c *Component) Type() string {
	return c.componentType
}

// NodeID returns the stable node identifier.
func (c *Component) NodeID() string {
	return c.nodeID
}

// Capabilities returns the declared capability set.
func (c *Component) Capabilities() *Set {
	return c.capabilities
}

// RegisterConstruct exposes a named internal handle.
func (c *Component) RegisterConstruct(name string, construct interface{}) {
	c.constructs[name] = construct
}

// Construct resolves a named internal handle.
func (c *Component) Construct(name string) (interface{}, bool) {
	construct, ok := c.constructs[name]
	return construct, ok
}

// SetEnv adds an environment entry.
func (c *Component) SetEnv(key, value string) {
	c.Env[key] = value
}

// AddPolicyStatement appends a permission grant.
func (c *Component) AddPolicyStatement(stmt PolicyStatement) {
	c.Statements = append(c.Statements, stmt)
}
