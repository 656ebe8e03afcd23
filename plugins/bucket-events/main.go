// Package main implements the bucket-events strategy plugin for loom.
// It binds functions to object storage buckets so object lifecycle events
// (created, removed) trigger the function, and compiles to WASM for
// sandboxed execution inside the loom host:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o bucket-events.wasm .
package main

import (
	"encoding/json"
	"fmt"
	"unsafe"
)

// adapterView is the component view the host hands to a strategy call.
type adapterView struct {
	Type         string   `json:"type"`
	NodeID       string   `json:"node_id"`
	Capabilities []string `json:"capabilities"`
}

// directive is the assembled binding request.
type directive struct {
	EventType string                 `json:"event_type"`
	Access    string                 `json:"access"`
	Filter    map[string]interface{} `json:"filter,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// bindingContext carries the caller's environment facts.
type bindingContext struct {
	Region      string `json:"region"`
	AccountID   string `json:"account_id"`
	Environment string `json:"environment"`
}

// strategyCall is the document the host passes to strategy_execute.
type strategyCall struct {
	Strategy  string         `json:"strategy"`
	Source    adapterView    `json:"source"`
	Target    adapterView    `json:"target"`
	Directive *directive     `json:"directive"`
	Binding   bindingContext `json:"binding"`
}

type envGrant struct {
	Side  string `json:"side"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type policyStatement struct {
	Effect    string   `json:"effect"`
	Actions   []string `json:"actions"`
	Resources []string `json:"resources"`
}

type statementGrant struct {
	Side      string          `json:"side"`
	Statement policyStatement `json:"statement"`
}

// strategyReply is the document strategy_execute returns to the host.
type strategyReply struct {
	TargetARN  string                 `json:"target_arn,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Env        []envGrant             `json:"env,omitempty"`
	Statements []statementGrant       `json:"statements,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type pluginConfig struct {
	// DefaultEvents is applied when a binding names no event filter.
	DefaultEvents []string `json:"default_events,omitempty"`
}

var config pluginConfig

// accessActions maps access levels to the object store actions they grant.
var accessActions = map[string][]string{
	"read":      {"storage:GetObject", "storage:ListBucket"},
	"write":     {"storage:PutObject"},
	"readwrite": {"storage:GetObject", "storage:ListBucket", "storage:PutObject", "storage:DeleteObject"},
}

func execute(call *strategyCall) *strategyReply {
	if call.Directive == nil {
		return &strategyReply{Error: "missing directive"}
	}
	if call.Target.Type != "bucket" {
		return &strategyReply{Error: fmt.Sprintf("unsupported target type: %s", call.Target.Type)}
	}

	actions, ok := accessActions[call.Directive.Access]
	if !ok {
		return &strategyReply{Error: fmt.Sprintf("unsupported access level: %s", call.Directive.Access)}
	}

	bucketARN := fmt.Sprintf("arn:cloud:bucket:%s:%s:%s",
		call.Binding.Region, call.Binding.AccountID, call.Target.NodeID)

	properties := map[string]interface{}{
		"event": call.Directive.EventType,
	}
	if prefix, ok := call.Directive.Filter["prefix"].(string); ok && prefix != "" {
		properties["prefix"] = prefix
	}
	if suffix, ok := call.Directive.Filter["suffix"].(string); ok && suffix != "" {
		properties["suffix"] = suffix
	}

	return &strategyReply{
		TargetARN:  bucketARN,
		Properties: properties,
		Env: []envGrant{
			{Side: "source", Key: "BUCKET_NAME", Value: call.Target.NodeID},
			{Side: "source", Key: "BUCKET_ARN", Value: bucketARN},
		},
		Statements: []statementGrant{
			{
				Side: "source",
				Statement: policyStatement{
					Effect:    "allow",
					Actions:   actions,
					Resources: []string{bucketARN, bucketARN + "/*"},
				},
			},
		},
	}
}

// allocations pins host-visible buffers so the garbage collector leaves them
// in place until the host frees them.
var allocations = map[uint32][]byte{}

//go:wasmexport malloc
func wasmMalloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	allocations[ptr] = buf
	return ptr
}

//go:wasmexport free
func wasmFree(ptr uint32) {
	delete(allocations, ptr)
}

// readInput copies the host-written request out of linear memory.
func readInput(ptr, size uint32) []byte {
	if ptr == 0 || size == 0 {
		return nil
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), size)
	out := make([]byte, size)
	copy(out, buf)
	return out
}

// writeOutput allocates a reply buffer and packs its address and length into
// a single return value, high word address, low word length.
func writeOutput(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	ptr := wasmMalloc(uint32(len(data)))
	copy(allocations[ptr], data)
	return uint64(ptr)<<32 | uint64(len(data))
}

func writeReply(reply *strategyReply) uint64 {
	data, err := json.Marshal(reply)
	if err != nil {
		data = []byte(`{"error":"failed to encode reply"}`)
	}
	return writeOutput(data)
}

//go:wasmexport plugin_init
func pluginInit(ptr, size uint32) uint64 {
	input := readInput(ptr, size)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &config); err != nil {
			return writeOutput([]byte(fmt.Sprintf(`{"error":"invalid config: %s"}`, err)))
		}
	}
	return writeOutput([]byte(`{}`))
}

//go:wasmexport strategy_execute
func strategyExecute(ptr, size uint32) uint64 {
	var call strategyCall
	if err := json.Unmarshal(readInput(ptr, size), &call); err != nil {
		return writeReply(&strategyReply{Error: fmt.Sprintf("invalid strategy call: %s", err)})
	}
	return writeReply(execute(&call))
}

//go:wasmexport plugin_metadata
func pluginMetadata(ptr, size uint32) uint64 {
	return writeOutput([]byte(`{
		"name": "bucket-events",
		"version": "0.1.0",
		"author": "loom contributors",
		"license": "Apache-2.0",
		"description": "Binds functions to object storage bucket lifecycle events"
	}`))
}

// Main function required for WASM module builds. The host drives the module
// through the exported functions.
func main() {}
