package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hspmesh/hsp/lifecycle"
	"github.com/hspmesh/hsp/registry"
	"github.com/hspmesh/hsp/types"
)

func TestEnsureRunningIsNoOpWhenAlreadyAdvertised(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), registry.DefaultTrustPolicy(), nil, types.SystemClock{})
	reg.Ingest(registry.Advertisement{
		CapabilityID: registry.NewCapabilityID("agent-1", "arithmetic", "1.0"),
		AgentID:      "agent-1", Name: "arithmetic", Version: "1.0", Availability: registry.AvailabilityOnline,
	}, "agent-1")

	mgr := lifecycle.New(lifecycle.DefaultConfig(), reg, nil, nil, types.SystemClock{})
	id, err := mgr.EnsureRunning(context.Background(), "arithmetic")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", id)
}

func TestEnsureRunningFailsWithoutRecipeOrAdvertisement(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), registry.DefaultTrustPolicy(), nil, types.SystemClock{})
	mgr := lifecycle.New(lifecycle.DefaultConfig(), reg, nil, nil, types.SystemClock{})

	_, err := mgr.EnsureRunning(context.Background(), "image_gen")
	require.Error(t, err)
	assert.Equal(t, types.KindCapabilityNotFound, types.KindOf(err))
}

func TestEnsureRunningFailsWhenSpawnedAgentNeverAdvertises(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), registry.DefaultTrustPolicy(), nil, types.SystemClock{})
	cfg := lifecycle.DefaultConfig()
	cfg.SpawnTimeout = 2 * time.Second
	mgr := lifecycle.New(cfg, reg, nil, nil, types.SystemClock{})
	mgr.RegisterRecipe("image_gen", lifecycle.LaunchRecipe{Command: "sleep", Args: []string{"5"}})

	// No specialist ever advertises, so the spawn-timeout path fires.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := mgr.EnsureRunning(ctx, "image_gen")
	require.Error(t, err)
	assert.Equal(t, types.KindSpawnFailure, types.KindOf(err))
}

func TestShutdownIsIdempotent(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), registry.DefaultTrustPolicy(), nil, types.SystemClock{})
	mgr := lifecycle.New(lifecycle.DefaultConfig(), reg, nil, nil, types.SystemClock{})
	require.NoError(t, mgr.Shutdown("never-spawned"))
	require.NoError(t, mgr.Shutdown("never-spawned"))
}
