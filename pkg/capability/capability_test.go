package capability

import "testing"

func TestNewSet_DuplicateKeys(t *testing.T) {
	_, err := NewSet(
		Descriptor{Key: "messaging.queue"},
		Descriptor{Key: "messaging.queue"},
	)
	if err == nil {
		t.Fatal("Expected error for duplicate capability key")
	}
}

func TestNewSet_EmptyKey(t *testing.T) {
	_, err := NewSet(Descriptor{Key: ""})
	if err == nil {
		t.Fatal("Expected error for empty capability key")
	}
}

func TestSet_KeysPreserveDeclarationOrder(t *testing.T) {
	set, err := NewSet(
		Descriptor{Key: "compute.invoke"},
		Descriptor{Key: "messaging.queue"},
		Descriptor{Key: "storage.bucket"},
	)
	if err != nil {
		t.Fatalf("Failed to create set: %v", err)
	}

	keys := set.Keys()
	expected := []string{"compute.invoke", "messaging.queue", "storage.bucket"}
	if len(keys) != len(expected) {
		t.Fatalf("Expected %d keys, got %d", len(expected), len(keys))
	}
	for i, k := range expected {
		if keys[i] != k {
			t.Errorf("Key %d: expected %s, got %s", i, k, keys[i])
		}
	}
}

func TestPolicyStatement_FingerprintIsOrderInsensitive(t *testing.T) {
	a := PolicyStatement{
		Effect:    "allow",
		Actions:   []string{"sqs:SendMessage", "sqs:GetQueueUrl"},
		Resources: []string{"arn:aws:sqs:eu-west-1:123:orders"},
	}
	b := PolicyStatement{
		Effect:    "allow",
		Actions:   []string{"sqs:GetQueueUrl", "sqs:SendMessage"},
		Resources: []string{"arn:aws:sqs:eu-west-1:123:orders"},
	}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Fingerprints should match regardless of action order")
	}
}

func TestComponent_ConstructLookup(t *testing.T) {
	c, err := NewComponent("function", "orders-fn", nil)
	if err != nil {
		t.Fatalf("Failed to create component: %v", err)
	}

	c.RegisterConstruct("role", "role-handle")

	if _, ok := c.Construct("missing"); ok {
		t.Error("Expected missing construct lookup to fail")
	}
	construct, ok := c.Construct("role")
	if !ok {
		t.Fatal("Expected construct lookup to succeed")
	}
	if construct != "role-handle" {
		t.Errorf("Unexpected construct: %v", construct)
	}
}

func TestNewComponent_Validation(t *testing.T) {
	tests := []struct {
		name          string
		componentType string
		nodeID        string
		wantErr       bool
	}{
		{"valid", "function", "orders-fn", false},
		{"missing type", "", "orders-fn", true},
		{"missing node ID", "function", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewComponent(tt.componentType, tt.nodeID, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewComponent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
