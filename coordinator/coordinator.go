package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hspmesh/hsp/bus"
	"github.com/hspmesh/hsp/lifecycle"
	"github.com/hspmesh/hsp/llmgateway"
	"github.com/hspmesh/hsp/registry"
	"github.com/hspmesh/hsp/types"
)

var tracer = otel.Tracer("github.com/hspmesh/hsp/coordinator")

// Config configures the Project Coordinator's concurrency cap and deadlines.
type Config struct {
	InFlightCap     int
	SubtaskDeadline time.Duration
	ProjectDeadline time.Duration
	FailurePolicy   FailurePolicy
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InFlightCap:     8,
		SubtaskDeadline: 30 * time.Second,
		ProjectDeadline: 5 * time.Minute,
		FailurePolicy:   PolicyBestEffort,
	}
}

// Coordinator is the Project Coordinator: it decomposes a query into a subtask DAG
// via the llmgateway collaborator, schedules dispatch through the Registry and
// Lifecycle Manager over the Bus Connector, substitutes dependency outputs into
// downstream parameters, and integrates the results.
type Coordinator struct {
	cfg       Config
	agentID   string
	busConn   *bus.Connector
	reg       *registry.Registry
	lifecycle *lifecycle.Manager
	gateway   llmgateway.Gateway
	logger    *zap.Logger
	clock     types.Clock
}

// New builds a Coordinator identified on the bus as agentID (typically
// "coordinator" or a per-instance variant when several run for availability).
func New(cfg Config, agentID string, busConn *bus.Connector, reg *registry.Registry, lc *lifecycle.Manager, gateway llmgateway.Gateway, logger *zap.Logger, clock types.Clock) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if cfg.InFlightCap <= 0 {
		cfg.InFlightCap = 8
	}
	if cfg.SubtaskDeadline <= 0 {
		cfg.SubtaskDeadline = 30 * time.Second
	}
	if cfg.ProjectDeadline <= 0 {
		cfg.ProjectDeadline = 5 * time.Minute
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicyBestEffort
	}
	return &Coordinator{
		cfg:       cfg,
		agentID:   agentID,
		busConn:   busConn,
		reg:       reg,
		lifecycle: lc,
		gateway:   gateway,
		logger:    logger.With(zap.String("component", "coordinator")),
		clock:     clock,
	}
}

// Start subscribes the Coordinator's own agent id as a topic so correlated task
// results addressed back to it are picked up by the Bus Connector's response-pattern
// handling (see bus.Connector.deliver), independent of which capability topic the
// originating request was dispatched to.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.busConn.Subscribe(ctx, c.agentID, func(context.Context, *types.Envelope) error { return nil })
}

// ProjectOutcome is the result of HandleProject: the final integrated response plus
// the terminal state of every subtask, for callers that want more than the prose
// summary (e.g. cmd/hspd's HTTP surface).
type ProjectOutcome struct {
	ProjectID string
	Response  string
	State     *ProjectState
}

// HandleProject runs the full pipeline: decompose, validate the DAG, schedule and
// dispatch subtasks respecting dependencies and the in-flight cap, substitute
// dependency outputs into downstream parameters, and integrate.
func (c *Coordinator) HandleProject(ctx context.Context, query string) (*ProjectOutcome, error) {
	projectID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "handle_project", trace.WithAttributes(
		attribute.String("project_id", projectID),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProjectDeadline)
	defer cancel()

	log := c.logger.With(zap.String("project_id", projectID))
	log.Info("project started", zap.String("query", query))

	specs, err := c.gateway.Decompose(ctx, query)
	if err != nil {
		return nil, types.NewError(types.KindPlanningFailure, "decomposition failed").WithCause(err)
	}

	nodes, _, err := buildDAG(specs)
	if err != nil {
		return nil, err
	}

	state := &ProjectState{
		ProjectID:     projectID,
		Query:         query,
		Nodes:         nodes,
		NodeStates:    make(map[string]NodeState, len(nodes)),
		NodeResults:   make(map[string]any, len(nodes)),
		FailurePolicy: c.cfg.FailurePolicy,
		StartedAt:     c.clock.Now(),
		DeadlineAt:    c.clock.Now().Add(c.cfg.ProjectDeadline),
	}
	for name := range nodes {
		state.NodeStates[name] = NodePending
	}

	if err := c.schedule(ctx, state); err != nil {
		return nil, err
	}

	succeeded := make(map[string]any, len(state.NodeResults))
	for name, st := range state.NodeStates {
		if st == NodeSucceeded {
			succeeded[name] = state.NodeResults[name]
		}
	}

	response, err := c.gateway.Integrate(ctx, query, succeeded)
	if err != nil {
		return nil, types.NewError(types.KindPlanningFailure, "integration failed").WithCause(err)
	}

	log.Info("project completed",
		zap.Int("subtasks", len(nodes)),
		zap.Int("succeeded", len(succeeded)))

	return &ProjectOutcome{ProjectID: projectID, Response: response, State: state}, nil
}

// schedule runs every node of state's DAG to completion, respecting dependency
// order and the configured in-flight cap, via a recursive errgroup fan-out that
// releases a node's successors as soon as its dependencies finish.
func (c *Coordinator) schedule(ctx context.Context, state *ProjectState) error {
	successors := successorsOf(state.Nodes)
	remaining := make(map[string]int, len(state.Nodes))
	for name, n := range state.Nodes {
		remaining[name] = len(n.Dependencies)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.InFlightCap)

	var mu sync.Mutex
	var dispatch func(name string)

	markDone := func(name string) {
		mu.Lock()
		succs := successors[name]
		var toDispatch []string
		for _, succ := range succs {
			remaining[succ]--
			if remaining[succ] == 0 {
				toDispatch = append(toDispatch, succ)
			}
		}
		mu.Unlock()
		for _, succ := range toDispatch {
			dispatch(succ)
		}
	}

	dispatch = func(name string) {
		g.Go(func() error {
			node := state.Nodes[name]

			mu.Lock()
			depsOK := true
			for _, dep := range node.Dependencies {
				if s := state.NodeStates[dep]; s == NodeFailed || s == NodeCancelled {
					depsOK = false
					break
				}
			}
			mu.Unlock()

			if !depsOK {
				mu.Lock()
				state.NodeStates[name] = NodeCancelled
				mu.Unlock()
				markDone(name)
				return nil
			}
			if gctx.Err() != nil {
				mu.Lock()
				state.NodeStates[name] = NodeCancelled
				mu.Unlock()
				markDone(name)
				return nil
			}

			mu.Lock()
			state.NodeStates[name] = NodeRunning
			results := make(map[string]any, len(state.NodeResults))
			for k, v := range state.NodeResults {
				results[k] = v
			}
			mu.Unlock()

			params, err := substitute(node.ParameterTemplate, results)
			if err != nil {
				mu.Lock()
				state.NodeStates[name] = NodeFailed
				mu.Unlock()
				markDone(name)
				if state.FailurePolicy == PolicyStrict {
					return err
				}
				return nil
			}

			payload, execErr := c.dispatchSubtask(gctx, state.ProjectID, node, params)
			if execErr != nil {
				c.logger.Warn("subtask failed",
					zap.String("project_id", state.ProjectID),
					zap.String("subtask", name),
					zap.Error(execErr))
				mu.Lock()
				state.NodeStates[name] = NodeFailed
				mu.Unlock()
				markDone(name)
				if state.FailurePolicy == PolicyStrict {
					return execErr
				}
				return nil
			}

			mu.Lock()
			state.NodeStates[name] = NodeSucceeded
			state.NodeResults[name] = payload
			mu.Unlock()
			markDone(name)
			return nil
		})
	}

	for name, n := range state.Nodes {
		if len(n.Dependencies) == 0 {
			dispatch(name)
		}
	}

	if err := g.Wait(); err != nil {
		for name, st := range state.NodeStates {
			if st == NodePending || st == NodeReady {
				state.NodeStates[name] = NodeCancelled
			}
		}
		return err
	}
	return nil
}

// dispatchSubtask resolves a provider for node's capability (registry lookup,
// falling back to the Lifecycle Manager to spawn one), sends a correlated Task
// Request over the bus, and returns the resulting payload.
func (c *Coordinator) dispatchSubtask(ctx context.Context, projectID string, node *SubtaskNode, params map[string]any) (any, error) {
	ctx, span := tracer.Start(ctx, "dispatch_subtask", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("subtask", node.Name),
		attribute.String("capability", node.CapabilityName),
	))
	defer span.End()

	ads := c.reg.FindByName(node.CapabilityName)
	if len(ads) == 0 {
		if c.lifecycle == nil {
			return nil, types.NewError(types.KindCapabilityNotFound, "no provider for capability "+node.CapabilityName)
		}
		if _, err := c.lifecycle.EnsureRunning(ctx, node.CapabilityName); err != nil {
			return nil, err
		}
		ads = c.reg.FindByName(node.CapabilityName)
		if len(ads) == 0 {
			return nil, types.NewError(types.KindCapabilityNotFound, "capability "+node.CapabilityName+" spawned but not yet advertised")
		}
	}
	chosen := ads[0]

	deadline := c.cfg.SubtaskDeadline
	if node.Deadline != nil {
		deadline = *node.Deadline
	}
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req := TaskRequest{
		RequestID:          uuid.NewString(),
		RequesterID:        c.agentID,
		CapabilityIDFilter: chosen.CapabilityID,
		Parameters:         params,
		CallbackAddress:    c.agentID,
	}

	resp, err := c.busConn.Request(reqCtx, bus.CapabilityTopic(chosen.CapabilityID), c.agentID, types.MessageTypeTaskRequest, req)
	if err != nil {
		return nil, err
	}

	var result TaskResult
	if err := resp.Decode(&result); err != nil {
		return nil, types.NewError(types.KindExecutionFailure, "failed to decode task result").WithCause(err)
	}
	if result.Status != StatusSuccess {
		msg := fmt.Sprintf("subtask %s execution did not succeed", node.Name)
		if result.ErrorDetails != nil {
			msg = result.ErrorDetails.Message
		}
		return nil, types.NewError(types.KindExecutionFailure, msg)
	}
	return result.Payload, nil
}
