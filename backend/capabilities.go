package backend

import "slices"

// BackendCapability represents a capability that a backend can provide
type BackendCapability string

const (
	CapabilityMetadata      BackendCapability = "metadata"
	CapabilityObjectStorage BackendCapability = "object_storage"
	CapabilityTransactions  BackendCapability = "transactions"
	CapabilityPersistent    BackendCapability = "persistent"
	CapabilityCompression   BackendCapability = "compression"
	CapabilityDeduplication BackendCapability = "deduplication"
	CapabilityEvents        BackendCapability = "events"
)

// BackendCapabilities describes what a backend supports
type BackendCapabilities struct {
	Capabilities  []BackendCapability `json:"capabilities"`
	MaxObjectSize int64               `json:"max_object_size"`
}

// Contains checks if a capability is supported
func (c *BackendCapabilities) Contains(capability BackendCapability) bool {
	return slices.Contains(c.Capabilities, capability)
}

// CheckSize reports whether size fits into MaxObjectSize.
// A zero MaxObjectSize means unlimited.
func (c *BackendCapabilities) CheckSize(size int64) bool {
	return c.MaxObjectSize <= 0 || size <= c.MaxObjectSize
}
