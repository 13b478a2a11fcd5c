package knowledge

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hspmesh/hsp/registry"
	"github.com/hspmesh/hsp/types"
)

// Config configures the ingestion floor, novelty bonus, and duplicate-confidence
// epsilon.
type Config struct {
	IngestionFloor   float64
	NoveltyBonus     float64
	DuplicateEpsilon float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{IngestionFloor: 0.2, NoveltyBonus: 0.05, DuplicateEpsilon: 0.01}
}

// Ingestor is the Knowledge Ingestor (Fact Scorecard): it resolves each inbound
// Fact against existing records at the same semantic key via trust/novelty-weighted
// conflict resolution.
type Ingestor struct {
	cfg      Config
	store    Store
	trust    registry.TrustPolicy
	analyzer ContentAnalyzer
	clock    types.Clock
	logger   *zap.Logger

	stripeMu sync.Mutex
	stripes  map[string]*sync.Mutex
}

// New builds an Ingestor. A nil analyzer defaults to NaiveContentAnalyzer.
func New(cfg Config, store Store, trust registry.TrustPolicy, analyzer ContentAnalyzer, logger *zap.Logger, clock types.Clock) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if trust == nil {
		trust = registry.DefaultTrustPolicy()
	}
	if analyzer == nil {
		analyzer = NaiveContentAnalyzer{}
	}
	if cfg.IngestionFloor == 0 && cfg.NoveltyBonus == 0 && cfg.DuplicateEpsilon == 0 {
		cfg = DefaultConfig()
	}
	return &Ingestor{
		cfg:      cfg,
		store:    store,
		trust:    trust,
		analyzer: analyzer,
		clock:    clock,
		logger:   logger.With(zap.String("component", "knowledge")),
		stripes:  make(map[string]*sync.Mutex),
	}
}

func (in *Ingestor) lockFor(key string) *sync.Mutex {
	in.stripeMu.Lock()
	defer in.stripeMu.Unlock()
	mu, ok := in.stripes[key]
	if !ok {
		mu = &sync.Mutex{}
		in.stripes[key] = mu
	}
	return mu
}

// Ingest resolves an inbound Fact from directSenderID against any existing record
// at its semantic key, serialized per (subject, predicate) pair of the semantic key
// so facts with distinct pairs proceed in parallel.
func (in *Ingestor) Ingest(ctx context.Context, fact Fact, directSenderID string) (Resolution, error) {
	key, err := in.analyzer.SemanticKey(ctx, fact)
	if err != nil {
		return Resolution{}, types.NewError(types.KindExecutionFailure, "failed to compute semantic key").WithCause(err)
	}

	effectiveConfidence := fact.Confidence * in.trust.Trust(directSenderID)
	meta := Metadata{
		InternalID:          uuid.NewString(),
		DirectSenderID:      directSenderID,
		EffectiveConfidence: effectiveConfidence,
		ProcessedAt:         in.clock.Now(),
		SemanticKey:         key,
		CorroborationCount:  1,
	}

	if effectiveConfidence < in.cfg.IngestionFloor {
		meta.ResolutionStrategy = "quarantine"
		meta.Status = StatusQuarantined
		rec := Record{Fact: fact, Metadata: meta}
		if err := in.store.StoreFact(ctx, rec); err != nil {
			return Resolution{}, err
		}
		return Resolution{Strategy: "quarantine", Record: rec}, nil
	}

	mu := in.lockFor(key.SubjectURI + "\x1f" + key.Predicate)
	mu.Lock()
	defer mu.Unlock()

	existing, err := in.store.QueryBySemanticKey(ctx, key)
	if err != nil {
		return Resolution{}, err
	}

	for _, e := range existing {
		if e.Fact.ID == fact.ID {
			return in.handleRepetition(ctx, e)
		}
	}

	var sameObject, differentObject *Record
	for i := range existing {
		e := existing[i]
		if e.Metadata.SemanticKey.Object == key.Object {
			sameObject = &e
			break
		}
		if differentObject == nil {
			differentObject = &e
		}
	}

	if sameObject != nil {
		return in.handleRepetition(ctx, *sameObject)
	}
	if differentObject != nil {
		return in.handleConflict(ctx, *differentObject, fact, meta)
	}
	return in.handleNovelty(ctx, fact, meta)
}

// handleRepetition never raises stored confidence (Type-1/Type-2 duplicate): it
// only increments the corroboration counter. The new sender is not recorded: the
// stored record keeps its original DirectSenderID and no provenance list is kept.
func (in *Ingestor) handleRepetition(ctx context.Context, stored Record) (Resolution, error) {
	if err := in.store.IncrementCorroboration(ctx, stored.Metadata.InternalID, 1); err != nil {
		return Resolution{}, err
	}
	stored.Metadata.CorroborationCount++
	stored.Metadata.ResolutionStrategy = "repetition"
	return Resolution{Strategy: "repetition", Record: stored}, nil
}

// handleConflict resolves a Fact conflicting with an existing record at the same
// semantic key: supersede on strictly-greater effective confidence,
// log-as-unresolved-contradiction within epsilon, else reject.
func (in *Ingestor) handleConflict(ctx context.Context, stored Record, incoming Fact, meta Metadata) (Resolution, error) {
	diff := meta.EffectiveConfidence - stored.Metadata.EffectiveConfidence

	switch {
	case diff > in.cfg.DuplicateEpsilon:
		meta.ResolutionStrategy = "supersede"
		meta.Status = StatusCommitted
		meta.SupersededIDs = append(meta.SupersededIDs, stored.Metadata.InternalID)
		newRecord := Record{Fact: incoming, Metadata: meta}
		if err := in.store.StoreFact(ctx, newRecord); err != nil {
			return Resolution{}, err
		}
		if err := in.store.Supersede(ctx, stored.Metadata.InternalID, meta.InternalID); err != nil {
			return Resolution{}, err
		}
		return Resolution{Strategy: "supersede", Record: newRecord, Superseded: &stored}, nil

	case math.Abs(diff) <= in.cfg.DuplicateEpsilon:
		meta.ResolutionStrategy = "contradiction"
		meta.Status = StatusConflicting
		meta.ConflictingIDs = append(meta.ConflictingIDs, stored.Metadata.InternalID)
		newRecord := Record{Fact: incoming, Metadata: meta}
		if err := in.store.StoreFact(ctx, newRecord); err != nil {
			return Resolution{}, err
		}
		in.logger.Warn("unresolved contradiction",
			zap.String("subject", meta.SemanticKey.SubjectURI),
			zap.String("predicate", meta.SemanticKey.Predicate))
		return Resolution{Strategy: "contradiction", Record: newRecord}, nil

	default:
		meta.ResolutionStrategy = "reject"
		return Resolution{Strategy: "reject", Record: Record{Fact: incoming, Metadata: meta}}, nil
	}
}

// handleNovelty commits a fact with no existing record at its semantic key, applying
// the configured novelty bonus capped at 1.0.
func (in *Ingestor) handleNovelty(ctx context.Context, fact Fact, meta Metadata) (Resolution, error) {
	boosted := fact.Confidence + in.cfg.NoveltyBonus
	if boosted > 1.0 {
		boosted = 1.0
	}
	fact.Confidence = boosted
	meta.EffectiveConfidence = boosted * in.trust.Trust(meta.DirectSenderID)
	meta.ResolutionStrategy = "novelty"
	meta.Status = StatusCommitted

	rec := Record{Fact: fact, Metadata: meta}
	if err := in.store.StoreFact(ctx, rec); err != nil {
		return Resolution{}, err
	}
	return Resolution{Strategy: "novelty", Record: rec}, nil
}
