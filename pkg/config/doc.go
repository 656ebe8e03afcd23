// Package config loads and validates loom project documents.
//
// A project document declares a stack, its drift-avoidance strategies,
// and the capability bindings between components. Documents are written
// in YAML or CUE; either form is decoded into the same Document model,
// checked against struct validation tags, and then unified with the
// built-in CUE schemas for a second structural pass.
//
// The Loader caches parsed documents and can watch source paths with
// fsnotify, reloading on change after a short debounce.
package config
