package registry

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hspmesh/hsp/types"
)

// Config configures staleness and trust filtering for a Registry.
type Config struct {
	AdvertisementTTL time.Duration
	TrustFloor       float64
}

// DefaultConfig returns the documented defaults (60s TTL, eviction every TTL/3).
func DefaultConfig() Config {
	return Config{AdvertisementTTL: 60 * time.Second, TrustFloor: 0.0}
}

// Registry is a mutex-guarded map of live capability advertisements, with a
// background eviction ticker and trust-floor filtering on lookup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Advertisement

	cfg    Config
	trust  TrustPolicy
	clock  types.Clock
	logger *zap.Logger

	watchMu  sync.Mutex
	watchers map[string][]chan Advertisement

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Registry. Call Start to begin the background eviction loop.
func New(cfg Config, trust TrustPolicy, logger *zap.Logger, clock types.Clock) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if trust == nil {
		trust = DefaultTrustPolicy()
	}
	if cfg.AdvertisementTTL <= 0 {
		cfg.AdvertisementTTL = 60 * time.Second
	}
	return &Registry{
		entries:  make(map[string]Advertisement),
		cfg:      cfg,
		trust:    trust,
		clock:    clock,
		logger:   logger.With(zap.String("component", "registry")),
		watchers: make(map[string][]chan Advertisement),
		done:     make(chan struct{}),
	}
}

// Start launches the background staleness-eviction loop, running every TTL/3.
func (r *Registry) Start(ctx context.Context) {
	interval := r.cfg.AdvertisementTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				r.evictStale()
			}
		}
	}()
}

// Close stops the background eviction loop.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Ingest upserts an advertisement keyed by (agent id, capability id); a new
// advertisement supersedes any prior one for the same key. directSenderID is the
// agent that relayed this advertisement over the bus, used to resolve effective
// trust (which need not equal the owning agent).
func (r *Registry) Ingest(ad Advertisement, directSenderID string) {
	ad.DirectSenderID = directSenderID
	ad.EffectiveTrust = r.trust.Trust(directSenderID)
	ad.ReceivedAt = r.clock.Now()

	r.mu.Lock()
	r.entries[ad.key()] = ad
	r.mu.Unlock()

	r.logger.Debug("advertisement ingested",
		zap.String("agent_id", ad.AgentID),
		zap.String("capability_id", ad.CapabilityID),
		zap.Float64("effective_trust", ad.EffectiveTrust),
	)
	r.notifyWatchers(ad)
}

// Withdraw removes an advertisement explicitly, e.g. on an agent's offline notice.
func (r *Registry) Withdraw(agentID, capabilityID string) {
	r.mu.Lock()
	delete(r.entries, agentID+"\x00"+capabilityID)
	r.mu.Unlock()
}

func (r *Registry) evictStale() {
	now := r.clock.Now()
	r.mu.Lock()
	for key, ad := range r.entries {
		if now.Sub(ad.ReceivedAt) > r.cfg.AdvertisementTTL {
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()
}

func (r *Registry) isStale(ad Advertisement, now time.Time) bool {
	return now.Sub(ad.ReceivedAt) > r.cfg.AdvertisementTTL
}

// FindByName returns all non-stale, non-offline, trust-floor-passing advertisements
// matching capabilityName, sorted by a strict total order: trust desc, version desc,
// freshness desc, capability id asc.
func (r *Registry) FindByName(capabilityName string) []Advertisement {
	now := r.clock.Now()
	r.mu.RLock()
	var matches []Advertisement
	for _, ad := range r.entries {
		if ad.Name != capabilityName {
			continue
		}
		if ad.Availability == AvailabilityOffline {
			continue
		}
		if r.isStale(ad, now) {
			continue
		}
		if ad.EffectiveTrust < r.cfg.TrustFloor {
			continue
		}
		matches = append(matches, ad)
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return less(matches[i], matches[j])
	})
	return matches
}

// FindByID returns the advertisement for capabilityID across all agents, or false if
// none is registered (regardless of staleness/trust, for audit visibility).
func (r *Registry) FindByID(capabilityID string) (Advertisement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ad := range r.entries {
		if ad.CapabilityID == capabilityID {
			return ad, true
		}
	}
	return Advertisement{}, false
}

// ListAll returns every advertisement matching filter (nil filter returns all),
// including stale and below-floor entries, for audit visibility.
func (r *Registry) ListAll(filter func(Advertisement) bool) []Advertisement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Advertisement
	for _, ad := range r.entries {
		if filter == nil || filter(ad) {
			out = append(out, ad)
		}
	}
	return out
}

// less implements the strict total order: trust desc, version desc, freshness desc,
// capability id asc.
func less(a, b Advertisement) bool {
	if a.EffectiveTrust != b.EffectiveTrust {
		return a.EffectiveTrust > b.EffectiveTrust
	}
	if cmp := compareVersions(a.Version, b.Version); cmp != 0 {
		return cmp > 0
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.After(b.ReceivedAt)
	}
	return a.CapabilityID < b.CapabilityID
}

// compareVersions compares dotted numeric version strings ("1.0" vs "1.2"),
// falling back to lexicographic comparison for non-numeric segments.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		var aok, bok bool
		if i < len(as) {
			if n, err := strconv.Atoi(as[i]); err == nil {
				av, aok = n, true
			}
		}
		if i < len(bs) {
			if n, err := strconv.Atoi(bs[i]); err == nil {
				bv, bok = n, true
			}
		}
		if aok && bok {
			if av != bv {
				if av < bv {
					return -1
				}
				return 1
			}
			continue
		}
		return strings.Compare(a, b)
	}
	return 0
}

// WatchFirstAdvertisement registers a single-consumer channel that fires the first
// time an advertisement from agentID is ingested. Used by the Lifecycle Manager's
// readiness handshake instead of a fixed sleep. Cancel releases the watcher; it is
// safe to call more than once.
func (r *Registry) WatchFirstAdvertisement(agentID string) (<-chan Advertisement, func()) {
	ch := make(chan Advertisement, 1)
	r.watchMu.Lock()
	r.watchers[agentID] = append(r.watchers[agentID], ch)
	r.watchMu.Unlock()

	cancel := func() {
		r.watchMu.Lock()
		defer r.watchMu.Unlock()
		list := r.watchers[agentID]
		for i, c := range list {
			if c == ch {
				r.watchers[agentID] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

func (r *Registry) notifyWatchers(ad Advertisement) {
	r.watchMu.Lock()
	list := r.watchers[ad.AgentID]
	delete(r.watchers, ad.AgentID)
	r.watchMu.Unlock()

	for _, ch := range list {
		select {
		case ch <- ad:
		default:
		}
	}
}

// IsReachable reports whether any non-stale advertisement exists for capabilityName.
// Any live advertisement counts, whether or not this manager spawned the owning
// agent (see DESIGN.md for the remote-reachable decision).
func (r *Registry) IsReachable(capabilityName string) bool {
	return len(r.FindByName(capabilityName)) > 0
}
