// Package knowledge implements the Knowledge Ingestor (Fact Scorecard): fact ingest
// with trust/novelty-weighted conflict resolution and corroboration counting.
package knowledge

import (
	"context"
	"time"
)

// StatementType tags whether a Fact carries a natural-language string, a
// semantic-triple, or a structured document.
type StatementType string

const (
	StatementNL     StatementType = "nl"
	StatementTriple StatementType = "triple"
	StatementDoc    StatementType = "doc"
)

// ValidityWindow is the optional time range over which a Fact is considered valid.
type ValidityWindow struct {
	From time.Time
	To   time.Time
}

// Fact is the wire-level representation of a single piece of knowledge.
type Fact struct {
	ID              string
	StatementType   StatementType
	NL              string
	Structured      map[string]any
	OriginAgentID   string
	UpstreamSource  string
	CreatedAt       time.Time
	ObservationAt   *time.Time
	Confidence      float64
	Weight          float64
	ValidityWindow  *ValidityWindow
	Context         map[string]any
	Tags            []string
}

// SemanticKey normalizes a Fact's subject/predicate/object so semantic duplicates
// can be detected even when fact ids differ.
type SemanticKey struct {
	SubjectURI string
	Predicate  string
	Object     string
}

// String renders the key as a stable map/lock-stripe key.
func (k SemanticKey) String() string {
	return k.SubjectURI + "\x1f" + k.Predicate + "\x1f" + k.Object
}

// Status is the resolution outcome of a committed record.
type Status string

const (
	StatusCommitted   Status = "committed"
	StatusSuperseded  Status = "superseded"
	StatusConflicting Status = "conflicting"
	StatusQuarantined Status = "quarantined"
)

// Metadata is receiver-side bookkeeping attached to a Fact, never carried on the wire.
type Metadata struct {
	InternalID          string
	DirectSenderID      string
	EffectiveConfidence float64
	ProcessedAt         time.Time
	ResolutionStrategy  string
	SupersededIDs       []string
	ConflictingIDs      []string
	MergedIDs           []string
	CorroborationCount  int
	SemanticKey         SemanticKey
	Status              Status
}

// Record is a committed Fact paired with its receiver-side Metadata — the unit
// persisted by a Store.
type Record struct {
	Fact     Fact
	Metadata Metadata
}

// Resolution describes the strategy the Ingestor applied to one inbound Fact.
type Resolution struct {
	Strategy   string
	Record     Record
	Superseded *Record
}

// ContentAnalyzer computes a Fact's normalized semantic key. This is an external
// collaborator; this package ships a deterministic default alongside the interface.
type ContentAnalyzer interface {
	SemanticKey(ctx context.Context, fact Fact) (SemanticKey, error)
}

// Store persists committed/superseded/conflicting/quarantined records. Named
// knowledgestore.Store at the Coordinator's interface boundary; defined here so
// the Ingestor depends on its own domain types without a package cycle.
type Store interface {
	StoreFact(ctx context.Context, rec Record) error
	// QueryBySemanticKey returns every record sharing key's (SubjectURI, Predicate)
	// pair, regardless of Object — the caller distinguishes Type-2 duplicates
	// (matching Object) from conflicts (differing Object) among the results.
	QueryBySemanticKey(ctx context.Context, key SemanticKey) ([]Record, error)
	Supersede(ctx context.Context, oldInternalID, newInternalID string) error
	IncrementCorroboration(ctx context.Context, internalID string, delta int) error
}
