package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hspmesh/hsp/bus"
	"github.com/hspmesh/hsp/coordinator"
	"github.com/hspmesh/hsp/llmgateway"
	"github.com/hspmesh/hsp/registry"
	"github.com/hspmesh/hsp/types"
)

// runFakeSpecialist subscribes conn to capabilityID's task topic and answers every
// request with a success TaskResult wrapping reply, used to stand in for the
// Specialist Agent Runtime in coordinator tests.
func runFakeSpecialist(t *testing.T, conn *bus.Connector, capabilityID, agentID string, reply func(params map[string]any) any) {
	t.Helper()
	err := conn.Subscribe(context.Background(), bus.CapabilityTopic(capabilityID), func(ctx context.Context, env *types.Envelope) error {
		var req coordinator.TaskRequest
		if err := env.Decode(&req); err != nil {
			return err
		}
		result := coordinator.NewSuccessResult("res-"+req.RequestID, req.RequestID, agentID, reply(req.Parameters), time.Now())
		resp, err := types.AsResponseTo(env, types.SystemClock{}, agentID, result)
		if err != nil {
			return err
		}
		return conn.PublishEnvelope(context.Background(), env.SenderID, resp)
	})
	require.NoError(t, err)
}

func newTestBus(t *testing.T, addr string) *bus.Connector {
	t.Helper()
	cfg := bus.DefaultConfig()
	cfg.Endpoint = addr
	conn := bus.NewConnector(cfg, nil, types.SystemClock{})
	require.NoError(t, conn.Connect(context.Background()))
	return conn
}

func TestHandleProjectDispatchesInDependencyOrderAndIntegrates(t *testing.T) {
	srv := miniredis.RunT(t)

	coordBus := newTestBus(t, srv.Addr())
	defer coordBus.Disconnect()
	specBus := newTestBus(t, srv.Addr())
	defer specBus.Disconnect()

	reg := registry.New(registry.DefaultConfig(), nil, nil, types.SystemClock{})

	fetchCapID := registry.NewCapabilityID("fetcher-1", "fetch", "1.0")
	summarizeCapID := registry.NewCapabilityID("summarizer-1", "summarize", "1.0")
	reg.Ingest(registry.Advertisement{CapabilityID: fetchCapID, AgentID: "fetcher-1", Name: "fetch", Version: "1.0", Availability: registry.AvailabilityOnline}, "fetcher-1")
	reg.Ingest(registry.Advertisement{CapabilityID: summarizeCapID, AgentID: "summarizer-1", Name: "summarize", Version: "1.0", Availability: registry.AvailabilityOnline}, "summarizer-1")

	runFakeSpecialist(t, specBus, fetchCapID, "fetcher-1", func(params map[string]any) any {
		return map[string]any{"document": "the quick brown fox"}
	})
	runFakeSpecialist(t, specBus, summarizeCapID, "summarizer-1", func(params map[string]any) any {
		doc, _ := params["document"].(map[string]any)
		return map[string]any{"summary": "fox summary of " + doc["document"].(string)}
	})

	time.Sleep(50 * time.Millisecond)

	gateway := llmgateway.NewStubGateway()
	gateway.Decompositions["summarize the fox article"] = []llmgateway.SubtaskSpec{
		{Name: "fetch_doc", CapabilityName: "fetch", ParametersTemplate: map[string]any{"url": "https://example.invalid/fox"}},
		{Name: "summarize_doc", CapabilityName: "summarize", Dependencies: []string{"fetch_doc"},
			ParametersTemplate: map[string]any{"document": "<output_of_subtask:fetch_doc>"}},
	}

	coord := coordinator.New(coordinator.DefaultConfig(), "coordinator-1", coordBus, reg, nil, gateway, nil, types.SystemClock{})
	require.NoError(t, coord.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := coord.HandleProject(ctx, "summarize the fox article")
	require.NoError(t, err)

	assert.Equal(t, coordinator.NodeSucceeded, outcome.State.NodeStates["fetch_doc"])
	assert.Equal(t, coordinator.NodeSucceeded, outcome.State.NodeStates["summarize_doc"])
	assert.Contains(t, outcome.Response, "summarize_doc=")
}

func TestHandleProjectBestEffortContinuesPastAFailedBranch(t *testing.T) {
	srv := miniredis.RunT(t)

	coordBus := newTestBus(t, srv.Addr())
	defer coordBus.Disconnect()
	specBus := newTestBus(t, srv.Addr())
	defer specBus.Disconnect()

	reg := registry.New(registry.DefaultConfig(), nil, nil, types.SystemClock{})
	okCapID := registry.NewCapabilityID("ok-agent", "ok_cap", "1.0")
	reg.Ingest(registry.Advertisement{CapabilityID: okCapID, AgentID: "ok-agent", Name: "ok_cap", Version: "1.0", Availability: registry.AvailabilityOnline}, "ok-agent")
	runFakeSpecialist(t, specBus, okCapID, "ok-agent", func(params map[string]any) any {
		return map[string]any{"ok": true}
	})
	time.Sleep(50 * time.Millisecond)

	gateway := llmgateway.NewStubGateway()
	gateway.Decompositions["mixed"] = []llmgateway.SubtaskSpec{
		{Name: "will_succeed", CapabilityName: "ok_cap"},
		{Name: "will_fail", CapabilityName: "missing_cap"},
		{Name: "depends_on_failure", CapabilityName: "ok_cap", Dependencies: []string{"will_fail"}},
	}

	cfg := coordinator.DefaultConfig()
	cfg.SubtaskDeadline = 500 * time.Millisecond
	coord := coordinator.New(cfg, "coordinator-2", coordBus, reg, nil, gateway, nil, types.SystemClock{})
	require.NoError(t, coord.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := coord.HandleProject(ctx, "mixed")
	require.NoError(t, err)

	assert.Equal(t, coordinator.NodeSucceeded, outcome.State.NodeStates["will_succeed"])
	assert.Equal(t, coordinator.NodeFailed, outcome.State.NodeStates["will_fail"])
	assert.Equal(t, coordinator.NodeCancelled, outcome.State.NodeStates["depends_on_failure"])
}

func TestHandleProjectRejectsCyclicDecomposition(t *testing.T) {
	srv := miniredis.RunT(t)
	coordBus := newTestBus(t, srv.Addr())
	defer coordBus.Disconnect()

	reg := registry.New(registry.DefaultConfig(), nil, nil, types.SystemClock{})
	gateway := llmgateway.NewStubGateway()
	gateway.Decompositions["cyclic"] = []llmgateway.SubtaskSpec{
		{Name: "a", CapabilityName: "x", Dependencies: []string{"b"}},
		{Name: "b", CapabilityName: "x", Dependencies: []string{"a"}},
	}

	coord := coordinator.New(coordinator.DefaultConfig(), "coordinator-3", coordBus, reg, nil, gateway, nil, types.SystemClock{})
	require.NoError(t, coord.Start(context.Background()))

	_, err := coord.HandleProject(context.Background(), "cyclic")
	require.Error(t, err)
	assert.Equal(t, types.KindPlanningFailure, types.KindOf(err))
}
