// Package capability defines the data contract between manifest-declared
// components and the binding subsystem: capability descriptors, component
// adapters, and the read-only binding context supplied by the caller.
package capability
