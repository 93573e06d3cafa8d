package metering

import "fmt"

// Capability is the kind of platform capability an event bills for.
type Capability string

const (
	CapabilityLLM       Capability = "llm"
	CapabilityImage     Capability = "image"
	CapabilityAudio     Capability = "audio"
	CapabilityEmbedding Capability = "embedding"
	CapabilitySearch    Capability = "search"
	CapabilityCompute   Capability = "compute"
	CapabilityStorage   Capability = "storage"
	CapabilityBandwidth Capability = "bandwidth"
)

// AllCapabilities returns every known capability.
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityLLM,
		CapabilityImage,
		CapabilityAudio,
		CapabilityEmbedding,
		CapabilitySearch,
		CapabilityCompute,
		CapabilityStorage,
		CapabilityBandwidth,
	}
}

// String returns the stored representation.
func (c Capability) String() string {
	return string(c)
}

// IsValid returns true if the capability is known.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityLLM,
		CapabilityImage,
		CapabilityAudio,
		CapabilityEmbedding,
		CapabilitySearch,
		CapabilityCompute,
		CapabilityStorage,
		CapabilityBandwidth:
		return true
	}
	return false
}

// ParseCapability converts a stored string into a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid capability: %q", s)
	}
	return c, nil
}
