package capability

import "fmt"

// Descriptor describes a single capability a component offers or requires.
type Descriptor struct {
	// Key is the capability key, unique per component (e.g., "messaging.queue").
	Key string `json:"key"`

	// Data contains capability-specific attributes (ARNs, endpoints, limits).
	Data map[string]interface{} `json:"data,omitempty"`
}

// Ref points at a capability exposed by a named component.
type Ref struct {
	// Component is the stable node identifier of the providing component.
	Component string `json:"component"`

	// Capability is the capability key on that component.
	Capability string `json:"capability"`
}

// String returns the canonical component#capability form.
func (r Ref) String() string {
	return r.Component + "#" + r.Capability
}

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool {
	return r.Component == "" && r.Capability == ""
}

// Set holds the capabilities of one component, keyed by capability key.
type Set struct {
	descriptors map[string]Descriptor
	keys        []string
}

// NewSet creates a capability set from the given descriptors.
// Duplicate keys are rejected: capability keys are unique per component.
func NewSet(descriptors ...Descriptor) (*Set, error) {
	s := &Set{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Key == "" {
			return nil, fmt.Errorf("capability key must not be empty")
		}
		if _, exists := s.descriptors[d.Key]; exists {
			return nil, fmt.Errorf("duplicate capability key: %s", d.Key)
		}
		s.descriptors[d.Key] = d
		s.keys = append(s.keys, d.Key)
	}
	return s, nil
}

// Get returns the descriptor for the given key.
func (s *Set) Get(key string) (Descriptor, bool) {
	if s == nil {
		return Descriptor{}, false
	}
	d, ok := s.descriptors[key]
	return d, ok
}

// Keys returns the capability keys in declaration order.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	return keys
}

// Len returns the number of capabilities in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// BindingContext carries caller-supplied environment facts for one binding
// resolution. It is read-only: strategies must never mutate it.
type BindingContext struct {
	// Region is the deployment region (e.g., "eu-west-1").
	Region string `json:"region"`

	// AccountID is the target account identifier.
	AccountID string `json:"account_id"`

	// Environment is the deployment environment (e.g., "production").
	Environment string `json:"environment"`
}
