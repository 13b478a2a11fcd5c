// Package registry implements the Service Registry: the live set of capability
// advertisements, staleness eviction, trust-floor filtering, and ordered lookup.
package registry

import (
	"fmt"
	"time"
)

// Availability is the lifecycle state of a Capability Advertisement.
type Availability string

const (
	AvailabilityOnline      Availability = "online"
	AvailabilityOffline     Availability = "offline"
	AvailabilityDegraded    Availability = "degraded"
	AvailabilityMaintenance Availability = "maintenance"
)

// Advertisement is a capability advertisement broadcast by an agent.
type Advertisement struct {
	CapabilityID   string
	AgentID        string
	Name           string
	Description    string
	Version        string
	InputSchemaRef string
	InputExample   any
	OutputSchemaRef string
	OutputExample   any
	Availability   Availability
	Tags           []string
	AccessPolicyID string
	DataFormats    []string

	// Receiver-side metadata, never part of the advertised payload itself.
	DirectSenderID string
	EffectiveTrust float64
	ReceivedAt     time.Time
}

// NewCapabilityID builds the stable id for (agentID, name, version).
func NewCapabilityID(agentID, name, version string) string {
	return fmt.Sprintf("%s/%s/%s", agentID, name, version)
}

func (a Advertisement) key() string {
	return a.AgentID + "\x00" + a.CapabilityID
}
