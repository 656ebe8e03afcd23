package binder

import (
	"context"
	"sync"
)

// Strategy is a pluggable unit of binding logic. A strategy declares the
// (source, target, event) tuples it can handle and executes matched bindings,
// mutating the source adapter through its hooks only.
type Strategy interface {
	// Name returns the strategy name for diagnostics and reports.
	Name() string

	// Compatibility returns the tuples this strategy handles.
	Compatibility() []CompatibilityEntry

	// Execute runs the binding and returns the produced trigger wiring.
	Execute(ctx context.Context, tc *TriggerContext) (*TriggerResult, error)
}

// Registry holds binder strategies in registration order.
//
// Lookup is a linear scan with first-registered-match-wins semantics:
// registration order is the tie-break, and the registry never re-orders or
// deduplicates entries.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a strategy. Overlapping compatibility entries are allowed;
// the earlier registration wins at lookup time.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies = append(r.strategies, s)
}

// FindStrategy returns the first registered strategy whose compatibility
// matrix contains the given tuple, or false if none matches.
func (r *Registry) FindStrategy(sourceType, targetType, eventType string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.strategies {
		for _, entry := range s.Compatibility() {
			if entry.SourceType == sourceType &&
				entry.TargetType == targetType &&
				entry.EventType == eventType {
				return s, true
			}
		}
	}
	return nil, false
}

// SupportedTriggers returns every compatibility entry whose source type
// matches, across all registered strategies. Used for diagnostics.
func (r *Registry) SupportedTriggers(sourceType string) []CompatibilityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []CompatibilityEntry
	for _, s := range r.strategies {
		for _, entry := range s.Compatibility() {
			if entry.SourceType == sourceType {
				entries = append(entries, entry)
			}
		}
	}
	return entries
}

// AllCompatibilityEntries flattens every strategy's matrix in registration
// order. Used for introspection and documentation generation.
func (r *Registry) AllCompatibilityEntries() []CompatibilityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []CompatibilityEntry
	for _, s := range r.strategies {
		entries = append(entries, s.Compatibility()...)
	}
	return entries
}

// Strategies returns the registered strategies in registration order.
func (r *Registry) Strategies() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategies := make([]Strategy, len(r.strategies))
	copy(strategies, r.strategies)
	return strategies
}
