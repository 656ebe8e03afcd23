// Package plugins hosts WASM binder strategies.
//
// A plugin ships as a WASM module plus a YAML manifest declaring the
// strategies it exports: their (source, target, event) compatibility tuples
// and the access levels they accept. The manifest may pin the module with a
// sha256 checksum; mismatched modules are rejected at load time.
//
// Plugins run inside a wazero runtime with a memory limit and WASI support.
// The host and the module exchange JSON documents through linear memory:
// every exported call takes (input_ptr, input_len) and returns a packed
// (output_ptr << 32) | output_len, with buffers allocated through the
// module's malloc and free. Required exports are plugin_init,
// strategy_execute, and plugin_metadata. Plugins may call the host's
// log_message function to log through the loom logger.
//
// Registry defers instantiation: Register and Discover only parse manifests
// and keep module bytes; the runtime starts on first Get. AttachAll wires
// every plugin strategy into a binder.Registry, after which plugin
// strategies resolve bindings like built-in ones.
package plugins
