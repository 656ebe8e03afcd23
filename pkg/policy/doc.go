// Package policy provides Open Policy Agent (OPA) integration for loom.
//
// Policies are Rego rules evaluated against a pending synthesis run before
// anything is committed: the drift engine's decisions, the pending identifier
// substitution, and the declared bindings. A violation at error or critical
// severity blocks the run; warnings are surfaced but do not block.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine and gating a run:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	plan := &policy.PlanInput{
//	    StackName:   "orders",
//	    Environment: "production",
//	    Decisions:   decisions,
//	}
//
//	result, err := eng.EvaluatePlan(ctx, plan, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. stateful-replacement-guard - Blocks replacement of stateful resources in production
//  2. replacement-review - Surfaces every planned replacement as a warning
//  3. rename-budget - Warns when a run renames too many resources
//  4. resource-naming - Enforces identifier conventions
//  5. binding-hygiene - Flags bindings that are hard to audit
//
// # Custom Policies
//
// Custom policies are Rego modules whose package exposes a deny set. Each
// deny entry is either a plain message string or an object with message,
// severity, and resource fields:
//
//	package loom.policies.custom
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.plan
//	    some decision in input.plan.decisions
//	    decision.outcome == "replaced"
//
//	    violation := {
//	        "message":  sprintf("%s replaced", [decision.current_id]),
//	        "severity": "warning",
//	        "resource": decision.current_id,
//	    }
//	}
//
// Load custom policies from .rego or .json files:
//
//	err = eng.LoadPolicies(ctx, []string{"/etc/loom/policies"})
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block operations
//  - error: Issues that block operations
//  - critical: Severe issues requiring immediate attention
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.LoadPolicies(ctx, paths)
//	})
//
// # Context Injection
//
// Policy evaluations can include context information:
//
//  - User: Who initiated the operation
//  - Environment: Target environment (production, staging, etc.)
//  - Operation: Type of operation (synth, validate)
//  - Timestamp: When the evaluation occurred
//  - Dry run: Whether this is a dry-run evaluation
//
// This context allows policies to make environment-aware decisions.
package policy
