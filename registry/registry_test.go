package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hspmesh/hsp/registry"
	"github.com/hspmesh/hsp/types"
)

func TestIngestSupersedesPriorAdvertisement(t *testing.T) {
	clock := &tickingClock{at: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := registry.New(registry.DefaultConfig(), registry.DefaultTrustPolicy(), nil, clock)

	ad := registry.Advertisement{
		CapabilityID: registry.NewCapabilityID("agent-1", "arithmetic", "1.0"),
		AgentID:      "agent-1",
		Name:         "arithmetic",
		Version:      "1.0",
		Availability: registry.AvailabilityOnline,
	}
	r.Ingest(ad, "agent-1")
	ad.Description = "updated"
	r.Ingest(ad, "agent-1")

	found, ok := r.FindByID(ad.CapabilityID)
	require.True(t, ok)
	assert.Equal(t, "updated", found.Description)
	assert.Len(t, r.ListAll(nil), 1)
}

func TestFindByNameOrdersByTrustThenVersion(t *testing.T) {
	clock := &tickingClock{at: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	trust := registry.MapTrustPolicy{Scores: map[string]float64{"low-trust": 0.3, "high-trust": 0.9}, Default: 0.5}
	r := registry.New(registry.DefaultConfig(), trust, nil, clock)

	r.Ingest(registry.Advertisement{
		CapabilityID: registry.NewCapabilityID("agent-low", "arithmetic", "1.0"),
		AgentID:      "agent-low", Name: "arithmetic", Version: "1.0", Availability: registry.AvailabilityOnline,
	}, "low-trust")
	r.Ingest(registry.Advertisement{
		CapabilityID: registry.NewCapabilityID("agent-high", "arithmetic", "2.0"),
		AgentID:      "agent-high", Name: "arithmetic", Version: "2.0", Availability: registry.AvailabilityOnline,
	}, "high-trust")

	results := r.FindByName("arithmetic")
	require.Len(t, results, 2)
	assert.Equal(t, "agent-high", results[0].AgentID)
	assert.Equal(t, "agent-low", results[1].AgentID)
}

func TestStaleAdvertisementsExcludedFromFindByName(t *testing.T) {
	clock := &tickingClock{at: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := registry.DefaultConfig()
	cfg.AdvertisementTTL = 10 * time.Second
	r := registry.New(cfg, registry.DefaultTrustPolicy(), nil, clock)

	r.Ingest(registry.Advertisement{
		CapabilityID: registry.NewCapabilityID("agent-1", "arithmetic", "1.0"),
		AgentID:      "agent-1", Name: "arithmetic", Version: "1.0", Availability: registry.AvailabilityOnline,
	}, "agent-1")

	clock.advance(20 * time.Second)
	assert.Empty(t, r.FindByName("arithmetic"))
}

func TestWatchFirstAdvertisementFires(t *testing.T) {
	clock := &tickingClock{at: time.Now()}
	r := registry.New(registry.DefaultConfig(), registry.DefaultTrustPolicy(), nil, clock)

	ch, cancel := r.WatchFirstAdvertisement("spawned-agent")
	defer cancel()

	r.Ingest(registry.Advertisement{
		CapabilityID: registry.NewCapabilityID("spawned-agent", "image_gen", "1.0"),
		AgentID:      "spawned-agent", Name: "image_gen", Version: "1.0", Availability: registry.AvailabilityOnline,
	}, "spawned-agent")

	select {
	case ad := <-ch:
		assert.Equal(t, "spawned-agent", ad.AgentID)
	case <-time.After(time.Second):
		t.Fatal("watcher did not fire")
	}
}

type tickingClock struct {
	at time.Time
}

func (c *tickingClock) Now() time.Time {
	return c.at
}

func (c *tickingClock) advance(d time.Duration) {
	c.at = c.at.Add(d)
}

var _ types.Clock = (*tickingClock)(nil)
