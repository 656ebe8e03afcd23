package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeterministicName computes a stable identifier from the component identity
// of a resource. Repeated runs over unchanged inputs reproduce the same name.
func DeterministicName(componentName, componentType, resourceType string) string {
	return componentName + "-" + resourceType + "-" + stableSuffix(componentName, componentType, resourceType)
}

// HashSuffix appends a stable component-derived suffix to an original id.
func HashSuffix(originalID, componentName, componentType, resourceType string) string {
	return originalID + "-" + stableSuffix(componentName, componentType, resourceType)
}

func stableSuffix(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}
