package identity

import (
	"time"
)

// MapVersion is the current identity map schema version. Older maps remain
// readable as long as their fields unify; the version field is the
// compatibility handle, not a byte-level frame.
const MapVersion = "1.0"

// PreservationStrategy describes how a resource's identity is kept stable.
type PreservationStrategy string

const (
	// PreservationExactMatch pins the identity: newId never changes.
	PreservationExactMatch PreservationStrategy = "exact-match"

	// PreservationHashSuffix appends a stable hash suffix to the original id.
	PreservationHashSuffix PreservationStrategy = "hash-suffix"

	// PreservationNamingConvention derives the id from a naming convention
	// and may change when the convention inputs change.
	PreservationNamingConvention PreservationStrategy = "naming-convention"

	// PreservationDeterministic recomputes the id from a stable function of
	// the component identity.
	PreservationDeterministic PreservationStrategy = "deterministic"
)

// "newId may change only when the preservation strategy explicitly allows it".
func (p PreservationStrategy) AllowsRename() bool {
	return p == PreservationDeterministic || p == PreservationNamingConvention
}

// EntryMetadata carries bookkeeping for one identity entry.
type EntryMetadata struct {
	StackName   string    `json:"stack_name,omitempty"`
	Environment string    `json:"environment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IdentityEntry records the identity of one resource across runs.
// OriginalID is immutable once set.
type IdentityEntry struct {
	OriginalID    string               `json:"original_id"`
	NewID         string               `json:"new_id"`
	ResourceType  string               `json:"resource_type"`
	ComponentName string               `json:"component_name"`
	ComponentType string               `json:"component_type"`
	Preservation  PreservationStrategy `json:"preservation_strategy"`
	Metadata      EntryMetadata        `json:"metadata"`
}

// DriftAvoidanceConfig controls how the engine treats the resource set.
type DriftAvoidanceConfig struct {
	// EnableDeterministicNaming permits deterministic-naming actions.
	EnableDeterministicNaming bool `json:"enable_deterministic_naming"`

	// PreserveResourceOrder makes the engine emit the rewritten set in the
	// original relative resource order.
	PreserveResourceOrder bool `json:"preserve_resource_order"`

	// ValidateBeforeApply gates every candidate action on a consistency
	// check before any mutation is committed, and escalates strategy
	// execution errors to run failures.
	ValidateBeforeApply bool `json:"validate_before_apply"`

	// AllowedResourceTypes limits preservation to the listed types.
	// Empty means all types are allowed.
	AllowedResourceTypes []string `json:"allowed_resource_types,omitempty"`

	// BlockedResourceTypes are never preserved or renamed. Takes precedence
	// over AllowedResourceTypes.
	BlockedResourceTypes []string `json:"blocked_resource_types,omitempty"`
}

// TypeAllowed reports whether a resource type may have its identity kept.
// Blocked wins over allowed; an empty allow list allows everything.
func (c DriftAvoidanceConfig) TypeAllowed(resourceType string) bool {
	for _, t := range c.BlockedResourceTypes {
		if t == resourceType {
			return false
		}
	}
	if len(c.AllowedResourceTypes) == 0 {
		return true
	}
	for _, t := range c.AllowedResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

// TypeBlocked reports whether a resource type is explicitly blocked.
func (c DriftAvoidanceConfig) TypeBlocked(resourceType string) bool {
	for _, t := range c.BlockedResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

// LogicalIDMap is the persisted identity table for one stack and
// environment. Entries are added the first time a resource is observed and
// updated, never re-created, on every subsequent synthesis.
type LogicalIDMap struct {
	Version     string                    `json:"version"`
	StackName   string                    `json:"stack_name"`
	Environment string                    `json:"environment"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	Mappings    map[string]*IdentityEntry `json:"mappings"`
	Config      DriftAvoidanceConfig      `json:"drift_avoidance_config"`
}

// NewLogicalIDMap creates an empty identity map for a stack.
func NewLogicalIDMap(stackName, environment string, cfg DriftAvoidanceConfig) *LogicalIDMap {
	now := time.Now().UTC()
	return &LogicalIDMap{
		Version:     MapVersion,
		StackName:   stackName,
		Environment: environment,
		CreatedAt:   now,
		UpdatedAt:   now,
		Mappings:    make(map[string]*IdentityEntry),
		Config:      cfg,
	}
}

// Clone returns a deep copy of the map, used for all-or-nothing staging.
func (m *LogicalIDMap) Clone() *LogicalIDMap {
	clone := *m
	clone.Mappings = make(map[string]*IdentityEntry, len(m.Mappings))
	for id, entry := range m.Mappings {
		e := *entry
		clone.Mappings[id] = &e
	}
	clone.Config.AllowedResourceTypes = append([]string(nil), m.Config.AllowedResourceTypes...)
	clone.Config.BlockedResourceTypes = append([]string(nil), m.Config.BlockedResourceTypes...)
	return &clone
}

// Resource is one entry of the raw synthesized resource set, extended with
// the component facts the strategy conditions evaluate against.
type Resource struct {
	// Type is the resource type (e.g., "queue", "function").
	Type string `json:"type"`

	// CurrentID is the synthesis-time identifier of this run.
	CurrentID string `json:"current_id"`

	// Name is the human-readable resource name.
	Name string `json:"name,omitempty"`

	// ComponentName identifies the declaring component.
	ComponentName string `json:"component_name,omitempty"`

	// ComponentType is the declaring component's type tag.
	ComponentType string `json:"component_type,omitempty"`

	// Properties are the synthesized resource properties.
	Properties map[string]interface{} `json:"properties,omitempty"`

	// Dependencies lists the current IDs this resource depends on.
	Dependencies []string `json:"dependencies,omitempty"`
}
