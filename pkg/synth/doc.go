// Package synth orchestrates a synthesis run: it takes a project document,
// the component adapters and the raw resource set, and drives binding
// resolution, drift avoidance, the policy gate and identity map
// persistence as one unit.
//
// Runs are serialized per stack and environment through an advisory lock
// in the store. Binding failures are batched so independent bindings still
// resolve, but any failure marks the run failed. The identity map is
// persisted in a single transaction only after the whole pipeline
// validated; a failed or dry run leaves the previously persisted map
// untouched.
package synth
