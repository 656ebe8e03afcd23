package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// ConditionType selects which resource facet a condition inspects.
type ConditionType string

const (
	ConditionResourceType    ConditionType = "resource-type"
	ConditionResourceName    ConditionType = "resource-name"
	ConditionPropertyValue   ConditionType = "property-value"
	ConditionDependencyChain ConditionType = "dependency-chain"
)

// Operator compares the selected facet against the condition value.
type Operator string

const (
	OperatorEquals   Operator = "equals"
	OperatorContains Operator = "contains"
	OperatorMatches  Operator = "matches"
	OperatorExists   Operator = "exists"
)

// ActionType selects the effect a matched strategy applies.
type ActionType string

const (
	ActionPreserveLogicalID   ActionType = "preserve-logical-id"
	ActionDeterministicNaming ActionType = "deterministic-naming"
	ActionPropertyOverride    ActionType = "property-override"
)

// Condition is one declarative predicate over a resource.
type Condition struct {
	// Type selects the inspected facet.
	Type ConditionType `json:"type" yaml:"type"`

	// Operator is the comparison to apply.
	Operator Operator `json:"operator" yaml:"operator"`

	// Path names the property for property-value conditions.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Value is the comparison operand. Unused by exists.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Action is one effect a matched strategy applies to a resource.
type Action struct {
	// Type selects the effect.
	Type ActionType `json:"type" yaml:"type"`

	// Parameters carries effect-specific settings.
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Strategy is one ordered, conditioned drift avoidance rule.
type Strategy struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
	Actions     []Action    `json:"actions" yaml:"actions"`
	Priority    int         `json:"priority" yaml:"priority"`
}

// Matches reports whether every condition holds for the resource.
func (s *Strategy) Matches(r *Resource) (bool, error) {
	for i := range s.Conditions {
		ok, err := evalCondition(&s.Conditions[i], r)
		if err != nil {
			return false, fmt.Errorf("condition %d of strategy %s: %w", i, s.Name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evalCondition evaluates one condition. Both switches are exhaustive over
// the declared variants; unknown tags are errors, not silent mismatches.
func evalCondition(c *Condition, r *Resource) (bool, error) {
	switch c.Type {
	case ConditionResourceType:
		return compareString(r.Type, c.Operator, c.Value)
	case ConditionResourceName:
		return compareString(r.Name, c.Operator, c.Value)
	case ConditionPropertyValue:
		if c.Path == "" {
			return false, fmt.Errorf("property-value condition requires a path")
		}
		v, present := r.Properties[c.Path]
		if c.Operator == OperatorExists {
			return present, nil
		}
		if !present {
			return false, nil
		}
		return compareString(fmt.Sprintf("%v", v), c.Operator, c.Value)
	case ConditionDependencyChain:
		if c.Operator == OperatorExists {
			return len(r.Dependencies) > 0, nil
		}
		for _, dep := range r.Dependencies {
			ok, err := compareString(dep, c.Operator, c.Value)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown condition type: %q", c.Type)
	}
}

func compareString(subject string, op Operator, value string) (bool, error) {
	switch op {
	case OperatorEquals:
		return subject == value, nil
	case OperatorContains:
		return strings.Contains(subject, value), nil
	case OperatorMatches:
		matched, err := regexp.MatchString(value, subject)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", value, err)
		}
		return matched, nil
	case OperatorExists:
		return subject != "", nil
	default:
		return false, fmt.Errorf("unknown operator: %q", op)
	}
}
