// Package identity preserves stable resource identities across synthesis
// runs. A persisted logical identity map records, per resource, the original
// and currently assigned identifiers; the drift avoidance engine applies
// ordered, conditioned strategies over each run's resource set to decide
// whether an identity is preserved, renamed deterministically, or allowed to
// be replaced.
//
// Re-running the engine against an unchanged resource set and an unchanged
// prior map always yields the same output map, so re-synthesis never triggers
// destructive replacement of already-provisioned resources.
package identity
