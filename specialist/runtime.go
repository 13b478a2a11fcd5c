// Package specialist implements the Specialist Agent Runtime: the base loop every
// specialist embeds (advertise, subscribe, dispatch, emit result, re-advertise,
// withdraw).
package specialist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hspmesh/hsp/bus"
	"github.com/hspmesh/hsp/coordinator"
	"github.com/hspmesh/hsp/registry"
	"github.com/hspmesh/hsp/types"
)

// Handler executes one capability invocation against decoded parameters, returning
// the structured result payload or an error.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// CapabilityDef is the static description of a capability this runtime offers,
// mirroring the advertised fields of registry.Advertisement.
type CapabilityDef struct {
	Name            string
	Description     string
	Version         string
	InputSchemaRef  string
	InputExample    any
	OutputSchemaRef string
	OutputExample   any
	Tags            []string
	AccessPolicyID  string
	DataFormats     []string
}

type registeredCapability struct {
	def          CapabilityDef
	capabilityID string
	handler      Handler
}

// Config configures the re-advertise cadence (TTL/2) and the default per-request
// handling deadline.
type Config struct {
	AdvertisementTTL time.Duration
	RequestTimeout   time.Duration
}

// DefaultConfig returns the documented defaults (60s TTL, 30s per-request timeout).
func DefaultConfig() Config {
	return Config{AdvertisementTTL: 60 * time.Second, RequestTimeout: 30 * time.Second}
}

// Runtime is the Specialist Agent Runtime: the embeddable loop a specialist agent
// uses to advertise capabilities, dispatch inbound requests, and report results.
type Runtime struct {
	cfg     Config
	agentID string
	busConn *bus.Connector
	logger  *zap.Logger
	clock   types.Clock

	mu           sync.Mutex
	capabilities map[string]*registeredCapability

	cancelReadvertise context.CancelFunc
	wg                sync.WaitGroup
}

// New builds a Runtime identified as agentID on the bus.
func New(cfg Config, agentID string, busConn *bus.Connector, logger *zap.Logger, clock types.Clock) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if cfg.AdvertisementTTL <= 0 {
		cfg.AdvertisementTTL = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Runtime{
		cfg:          cfg,
		agentID:      agentID,
		busConn:      busConn,
		logger:       logger.With(zap.String("component", "specialist"), zap.String("agent_id", agentID)),
		clock:        clock,
		capabilities: make(map[string]*registeredCapability),
	}
}

// RegisterCapability teaches the Runtime how to serve def, identified by the stable
// capability id derived from (agentID, def.Name, def.Version). Must be called before
// Start.
func (r *Runtime) RegisterCapability(def CapabilityDef, handler Handler) string {
	capabilityID := registry.NewCapabilityID(r.agentID, def.Name, def.Version)
	r.mu.Lock()
	r.capabilities[capabilityID] = &registeredCapability{def: def, capabilityID: capabilityID, handler: handler}
	r.mu.Unlock()
	return capabilityID
}

// Start advertises every registered capability, subscribes to each capability's
// request topic, and launches the TTL/2 re-advertise ticker.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	caps := make([]*registeredCapability, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		caps = append(caps, c)
	}
	r.mu.Unlock()

	for _, c := range caps {
		if err := r.advertise(ctx, c, registry.AvailabilityOnline); err != nil {
			return err
		}
		if err := r.busConn.Subscribe(ctx, bus.CapabilityTopic(c.capabilityID), r.handlerFor(c)); err != nil {
			return err
		}
	}

	readvertiseCtx, cancel := context.WithCancel(ctx)
	r.cancelReadvertise = cancel
	r.wg.Add(1)
	go r.readvertiseLoop(readvertiseCtx, caps)
	return nil
}

// Shutdown publishes an offline advertisement for every registered capability and
// stops the re-advertise loop. It does not disconnect the shared bus.Connector.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.cancelReadvertise != nil {
		r.cancelReadvertise()
	}
	r.wg.Wait()

	r.mu.Lock()
	caps := make([]*registeredCapability, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		caps = append(caps, c)
	}
	r.mu.Unlock()

	var firstErr error
	for _, c := range caps {
		if err := r.advertise(ctx, c, registry.AvailabilityOffline); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Runtime) advertise(ctx context.Context, c *registeredCapability, availability registry.Availability) error {
	ad := registry.Advertisement{
		CapabilityID:    c.capabilityID,
		AgentID:         r.agentID,
		Name:            c.def.Name,
		Description:     c.def.Description,
		Version:         c.def.Version,
		InputSchemaRef:  c.def.InputSchemaRef,
		InputExample:    c.def.InputExample,
		OutputSchemaRef: c.def.OutputSchemaRef,
		OutputExample:   c.def.OutputExample,
		Availability:    availability,
		Tags:            c.def.Tags,
		AccessPolicyID:  c.def.AccessPolicyID,
		DataFormats:     c.def.DataFormats,
	}
	return r.busConn.Publish(ctx, bus.AdvertisementsTopic, r.agentID, types.MessageTypeCapabilityAdvertisement, ad)
}

func (r *Runtime) readvertiseLoop(ctx context.Context, caps []*registeredCapability) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.AdvertisementTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range caps {
				if err := r.advertise(ctx, c, registry.AvailabilityOnline); err != nil {
					r.logger.Warn("re-advertise failed", zap.String("capability_id", c.capabilityID), zap.Error(err))
				}
			}
		}
	}
}

// handlerFor builds the bus.Handler that decodes a Task Request, invokes c's
// Handler within the request's deadline (or the runtime default), and replies with a
// correlated Task Result — success or failure, never a propagated panic/error back
// to the Bus Connector.
func (r *Runtime) handlerFor(c *registeredCapability) bus.Handler {
	return func(ctx context.Context, env *types.Envelope) error {
		var req coordinator.TaskRequest
		if err := env.Decode(&req); err != nil {
			return err
		}

		timeout := r.cfg.RequestTimeout
		if req.Deadline != nil {
			if d := req.Deadline.Sub(r.clock.Now()); d > 0 {
				timeout = d
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result := r.invoke(reqCtx, c, req)
		resp, err := types.AsResponseTo(env, r.clock, r.agentID, result)
		if err != nil {
			return err
		}
		return r.busConn.PublishEnvelope(ctx, env.SenderID, resp)
	}
}

// invoke runs c's Handler, converting a panic or error into a failure Task Result
// rather than letting it escape to the Bus Connector's dispatch loop.
func (r *Runtime) invoke(ctx context.Context, c *registeredCapability, req coordinator.TaskRequest) (result coordinator.TaskResult) {
	resultID := uuid.NewString()
	defer func() {
		if rec := recover(); rec != nil {
			result = coordinator.NewFailureResult(resultID, req.RequestID, r.agentID, coordinator.ErrorDetails{
				Code:    "panic",
				Message: fmt.Sprintf("handler panicked: %v", rec),
			}, r.clock.Now())
		}
	}()

	payload, err := c.handler(ctx, req.Parameters)
	if err != nil {
		code := string(types.KindExecutionFailure)
		if kind := types.KindOf(err); kind != "" {
			code = string(kind)
		}
		return coordinator.NewFailureResult(resultID, req.RequestID, r.agentID, coordinator.ErrorDetails{
			Code:    code,
			Message: err.Error(),
		}, r.clock.Now())
	}
	return coordinator.NewSuccessResult(resultID, req.RequestID, r.agentID, payload, r.clock.Now())
}
