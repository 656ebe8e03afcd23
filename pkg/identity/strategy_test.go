package identity

import "testing"

func TestStrategyMatches(t *testing.T) {
	resource := &Resource{
		Type:          "queue",
		CurrentID:     "orders-queue-1",
		Name:          "orders-queue",
		ComponentName: "orders",
		ComponentType: "service",
		Properties: map[string]interface{}{
			"fifo":      true,
			"retention": 1209600,
		},
		Dependencies: []string{"orders-dlq-1"},
	}

	tests := []struct {
		name      string
		condition Condition
		want      bool
		wantErr   bool
	}{
		{
			name:      "type equals",
			condition: Condition{Type: ConditionResourceType, Operator: OperatorEquals, Value: "queue"},
			want:      true,
		},
		{
			name:      "type equals mismatch",
			condition: Condition{Type: ConditionResourceType, Operator: OperatorEquals, Value: "topic"},
			want:      false,
		},
		{
			name:      "name contains",
			condition: Condition{Type: ConditionResourceName, Operator: OperatorContains, Value: "orders"},
			want:      true,
		},
		{
			name:      "name matches pattern",
			condition: Condition{Type: ConditionResourceName, Operator: OperatorMatches, Value: `^orders-.*$`},
			want:      true,
		},
		{
			name:      "invalid pattern",
			condition: Condition{Type: ConditionResourceName, Operator: OperatorMatches, Value: `([`},
			wantErr:   true,
		},
		{
			name:      "property exists",
			condition: Condition{Type: ConditionPropertyValue, Operator: OperatorExists, Path: "fifo"},
			want:      true,
		},
		{
			name:      "property absent",
			condition: Condition{Type: ConditionPropertyValue, Operator: OperatorExists, Path: "encryption"},
			want:      false,
		},
		{
			name:      "property equals",
			condition: Condition{Type: ConditionPropertyValue, Operator: OperatorEquals, Path: "retention", Value: "1209600"},
			want:      true,
		},
		{
			name:      "property without path",
			condition: Condition{Type: ConditionPropertyValue, Operator: OperatorEquals, Value: "x"},
			wantErr:   true,
		},
		{
			name:      "dependency contains",
			condition: Condition{Type: ConditionDependencyChain, Operator: OperatorContains, Value: "dlq"},
			want:      true,
		},
		{
			name:      "dependency exists",
			condition: Condition{Type: ConditionDependencyChain, Operator: OperatorExists},
			want:      true,
		},
		{
			name:      "unknown condition type",
			condition: Condition{Type: "tag-value", Operator: OperatorEquals, Value: "x"},
			wantErr:   true,
		},
		{
			name:      "unknown operator",
			condition: Condition{Type: ConditionResourceType, Operator: "startswith", Value: "q"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Strategy{Name: "test", Conditions: []Condition{tt.condition}}
			got, err := s.Matches(resource)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Matches() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStrategyMatches_AllConditionsMustHold(t *testing.T) {
	s := Strategy{
		Name: "both",
		Conditions: []Condition{
			{Type: ConditionResourceType, Operator: OperatorEquals, Value: "queue"},
			{Type: ConditionResourceName, Operator: OperatorContains, Value: "billing"},
		},
	}

	matched, err := s.Matches(&Resource{Type: "queue", Name: "orders-queue"})
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if matched {
		t.Error("Expected conjunction of conditions to fail")
	}
}

func TestDeterministicName_Stable(t *testing.T) {
	a := DeterministicName("orders", "service", "queue")
	b := DeterministicName("orders", "service", "queue")
	if a != b {
		t.Errorf("Deterministic names differ: %s vs %s", a, b)
	}

	other := DeterministicName("billing", "service", "queue")
	if a == other {
		t.Error("Different components should not share a deterministic name")
	}
}
