package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		statefulReplacementPolicy(),
		replacementReviewPolicy(),
		renameBudgetPolicy(),
		resourceNamingPolicy(),
		bindingHygienePolicy(),
	}
}

// statefulReplacementPolicy blocks replacement of stateful resources in
// production.
func statefulReplacementPolicy() Policy {
	return Policy{
		Name:        "stateful-replacement-guard",
		Description: "Blocks replacement of stateful resources (databases, buckets, volumes) in production",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"drift", "safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package loom.policies.stateful

import rego.v1

# Resource types whose replacement loses data
stateful_types := ["database", "bucket", "table", "volume"]

deny contains violation if {
	input.plan
	input.context
	context := input.context

	context.environment == "production"
	not context.dry_run

	some decision in input.plan.decisions
	decision.outcome == "replaced"
	decision.resource_type in stateful_types

	violation := {
		"message": sprintf("Stateful resource %s (%s) would be replaced in production", [decision.current_id, decision.resource_type]),
		"severity": "critical",
		"resource": decision.current_id,
	}
}`,
	}
}

// replacementReviewPolicy surfaces every planned replacement for review.
func replacementReviewPolicy() Policy {
	return Policy{
		Name:        "replacement-review",
		Description: "Surfaces every planned resource replacement as a warning",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"drift", "review"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package loom.policies.replacements

import rego.v1

deny contains violation if {
	input.plan
	some decision in input.plan.decisions
	decision.outcome == "replaced"

	violation := {
		"message": sprintf("Resource %s (%s) will be replaced - please review", [decision.current_id, decision.resource_type]),
		"severity": "warning",
		"resource": decision.current_id,
	}
}`,
	}
}

// renameBudgetPolicy warns when a single run renames too many resources.
func renameBudgetPolicy() Policy {
	return Policy{
		Name:        "rename-budget",
		Description: "Warns when a single run renames more than 10 resources",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"drift", "review"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package loom.policies.renames

import rego.v1

max_renames := 10

deny contains violation if {
	input.plan

	rename_count := count([d |
		some d in input.plan.decisions
		d.outcome == "renamed"
	])
	rename_count > max_renames

	violation := {
		"message": sprintf("Run renames %d resources, exceeding the review threshold of %d", [rename_count, max_renames]),
		"severity": "warning",
	}
}`,
	}
}

// resourceNamingPolicy enforces identifier conventions on rewritten IDs.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Enforces identifier conventions (lowercase, alphanumeric, hyphens, 3-63 chars)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package loom.policies.naming

import rego.v1

# Resources evaluated standalone must carry a name
deny contains violation if {
	input.resource
	resource := input.resource

	not resource.name
	violation := {
		"message": sprintf("Resource %s must have a name", [resource.current_id]),
		"severity": "error",
		"resource": resource.current_id,
	}
}

deny contains violation if {
	input.resource
	resource := input.resource
	name := resource.name

	lower(name) != name
	violation := {
		"message": sprintf("Resource name '%s' must be lowercase", [name]),
		"severity": "error",
		"resource": resource.current_id,
	}
}

deny contains violation if {
	input.resource
	resource := input.resource
	name := resource.name

	not regex.match("^[a-z0-9-]+$", name)
	violation := {
		"message": sprintf("Resource name '%s' must contain only lowercase letters, numbers, and hyphens", [name]),
		"severity": "error",
		"resource": resource.current_id,
	}
}

# Rewritten identifiers must follow the same conventions
deny contains violation if {
	input.plan
	some decision in input.plan.decisions
	decision.outcome == "renamed"
	new_id := decision.new_id

	not regex.match("^[a-z0-9-]+$", new_id)
	violation := {
		"message": sprintf("Rewritten identifier '%s' must contain only lowercase letters, numbers, and hyphens", [new_id]),
		"severity": "error",
		"resource": decision.current_id,
	}
}

deny contains violation if {
	input.plan
	some decision in input.plan.decisions
	decision.outcome == "renamed"
	count(decision.new_id) < 3

	violation := {
		"message": sprintf("Rewritten identifier '%s' must be at least 3 characters long", [decision.new_id]),
		"severity": "error",
		"resource": decision.current_id,
	}
}

deny contains violation if {
	input.plan
	some decision in input.plan.decisions
	decision.outcome == "renamed"
	count(decision.new_id) > 63

	violation := {
		"message": sprintf("Rewritten identifier '%s' must not exceed 63 characters", [decision.new_id]),
		"severity": "error",
		"resource": decision.current_id,
	}
}`,
	}
}

// bindingHygienePolicy flags bindings that are hard to audit.
func bindingHygienePolicy() Policy {
	return Policy{
		Name:        "binding-hygiene",
		Description: "Flags invoke bindings without a capability key and unfiltered subscriptions in production",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"bindings", "review"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package loom.policies.bindings

import rego.v1

deny contains violation if {
	input.plan
	some binding in input.plan.bindings

	binding.access == "invoke"
	not binding.capability

	violation := {
		"message": sprintf("Binding %s -> %s requests invoke access without naming a capability", [binding.source, binding.target]),
		"severity": "warning",
	}
}

deny contains violation if {
	input.plan
	input.context
	context := input.context

	context.environment == "production"

	some binding in input.plan.bindings
	binding.access == "subscribe"
	not binding.filter

	violation := {
		"message": sprintf("Binding %s -> %s subscribes without a filter in production", [binding.source, binding.target]),
		"severity": "warning",
	}
}`,
	}
}
