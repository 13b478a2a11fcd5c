// Package lifecycle implements the Agent Lifecycle Manager: launching, monitoring,
// and reaping specialist processes on behalf of the Project Coordinator.
package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hspmesh/hsp/registry"
	"github.com/hspmesh/hsp/types"
)

// LaunchRecipe describes how to spawn the specialist process that provides a given
// capability name.
type LaunchRecipe struct {
	Command string
	Args    []string
	Env     []string
}

// ProcessRecord tracks one spawned specialist process and its health state.
type ProcessRecord struct {
	AgentID        string
	Recipe         LaunchRecipe
	Process        *exec.Cmd
	StartedAt      time.Time
	LastHeartbeat  time.Time
	DesiredRunning bool
	ActualRunning  bool
	unhealthyCount int
}

// Config configures spawn, health-poll, and grace-window behavior.
type Config struct {
	SpawnTimeout       time.Duration
	KillGrace          time.Duration
	HealthPollInterval time.Duration
	UnhealthyThreshold int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SpawnTimeout:       15 * time.Second,
		KillGrace:          5 * time.Second,
		HealthPollInterval: 30 * time.Second,
		UnhealthyThreshold: 3,
	}
}

// HealthChecker is implemented by whatever can report a spawned agent's liveness.
// The Specialist Agent Runtime does not expose a health method, so no bus-backed
// implementation exists; New treats a nil HealthChecker (as tests and cmd/hspd pass)
// as reporting every agent healthy, and HealthCheckerFunc adapts a plain function.
type HealthChecker interface {
	Healthy(ctx context.Context, agentID string) bool
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context, agentID string) bool

func (f HealthCheckerFunc) Healthy(ctx context.Context, agentID string) bool { return f(ctx, agentID) }

// Manager is the Agent Lifecycle Manager.
type Manager struct {
	cfg     Config
	reg     *registry.Registry
	health  HealthChecker
	logger  *zap.Logger
	clock   types.Clock

	mu          sync.Mutex
	launchTable map[string]LaunchRecipe // capability name -> recipe
	processes   map[string]*ProcessRecord

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Manager backed by reg for readiness observation.
func New(cfg Config, reg *registry.Registry, health HealthChecker, logger *zap.Logger, clock types.Clock) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if health == nil {
		health = HealthCheckerFunc(func(context.Context, string) bool { return true })
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = 15 * time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = 30 * time.Second
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 3
	}
	return &Manager{
		cfg:         cfg,
		reg:         reg,
		health:      health,
		logger:      logger.With(zap.String("component", "lifecycle")),
		clock:       clock,
		launchTable: make(map[string]LaunchRecipe),
		processes:   make(map[string]*ProcessRecord),
		done:        make(chan struct{}),
	}
}

// RegisterRecipe teaches the Manager how to spawn the specialist that provides
// capabilityName. Recipes are registered explicitly; the Manager never discovers
// launchable capabilities by reflection.
func (m *Manager) RegisterRecipe(capabilityName string, recipe LaunchRecipe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launchTable[capabilityName] = recipe
}

// EnsureRunning returns the agent id providing capabilityName, spawning it if
// necessary and blocking on the readiness handshake.
func (m *Manager) EnsureRunning(ctx context.Context, capabilityName string) (string, error) {
	// Any live advertisement, spawned by this manager or reachable remotely,
	// counts as "already running" — no spawn needed.
	if ads := m.reg.FindByName(capabilityName); len(ads) > 0 {
		return ads[0].AgentID, nil
	}

	m.mu.Lock()
	recipe, ok := m.launchTable[capabilityName]
	m.mu.Unlock()
	if !ok {
		return "", types.NewError(types.KindCapabilityNotFound, "no advertisement and no launch recipe for "+capabilityName)
	}

	agentID := capabilityName + "-" + uuidLike(m.clock)
	watchCh, cancelWatch := m.reg.WatchFirstAdvertisement(agentID)
	defer cancelWatch()

	cmd := exec.CommandContext(context.Background(), recipe.Command, append(recipe.Args, "--agent-id", agentID)...)
	cmd.Env = recipe.Env
	if err := cmd.Start(); err != nil {
		return "", types.NewError(types.KindSpawnFailure, "failed to spawn specialist process").WithCause(err)
	}

	record := &ProcessRecord{
		AgentID:        agentID,
		Recipe:         recipe,
		Process:        cmd,
		StartedAt:      m.clock.Now(),
		DesiredRunning: true,
		ActualRunning:  true,
	}
	m.mu.Lock()
	m.processes[agentID] = record
	m.mu.Unlock()

	spawnCtx, cancel := context.WithTimeout(ctx, m.cfg.SpawnTimeout)
	defer cancel()

	select {
	case <-watchCh:
		record.LastHeartbeat = m.clock.Now()
		go m.healthLoop(agentID)
		return agentID, nil
	case <-spawnCtx.Done():
		_ = m.terminate(record)
		m.mu.Lock()
		delete(m.processes, agentID)
		m.mu.Unlock()
		return "", types.NewError(types.KindSpawnFailure, "specialist did not advertise before spawn-timeout").WithCause(spawnCtx.Err())
	}
}

// Shutdown sends a terminate signal, then kills after the grace window. Idempotent:
// a second call on an already-stopped agent id is a no-op.
func (m *Manager) Shutdown(agentID string) error {
	m.mu.Lock()
	record, ok := m.processes[agentID]
	if ok {
		delete(m.processes, agentID)
	}
	m.mu.Unlock()
	if !ok || !record.ActualRunning {
		return nil
	}
	return m.terminate(record)
}

// ShutdownAll stops every managed process, used on orderly service shutdown.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.processes))
	for id := range m.processes {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Shutdown(id)
	}
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) terminate(record *ProcessRecord) error {
	if record.Process == nil || record.Process.Process == nil {
		return nil
	}
	_ = record.Process.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_ = record.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.KillGrace):
		_ = record.Process.Process.Kill()
	}
	record.ActualRunning = false
	return nil
}

// healthLoop polls the specialist's health on a ticker and reaps it after
// UnhealthyThreshold consecutive failures.
func (m *Manager) healthLoop(agentID string) {
	ticker := time.NewTicker(m.cfg.HealthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			record, ok := m.processes[agentID]
			m.mu.Unlock()
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HealthPollInterval)
			healthy := m.health.Healthy(ctx, agentID)
			cancel()
			if healthy {
				record.unhealthyCount = 0
				record.LastHeartbeat = m.clock.Now()
				continue
			}
			record.unhealthyCount++
			if record.unhealthyCount >= m.cfg.UnhealthyThreshold {
				m.logger.Warn("reaping unhealthy specialist", zap.String("agent_id", agentID))
				_ = m.Shutdown(agentID)
				return
			}
		}
	}
}

func uuidLike(clock types.Clock) string {
	return clock.Now().Format("20060102150405.000000000")
}
