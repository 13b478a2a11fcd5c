package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hspmesh/hsp/knowledge"
)

// FactStore is the GORM-backed knowledge.Store, persisting
// committed/superseded/conflicting/quarantined records into the facts table.
type FactStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewFactStore builds a FactStore backed by db (already migrated).
func NewFactStore(db *gorm.DB, logger *zap.Logger) *FactStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactStore{db: db, logger: logger.With(zap.String("component", "persistence.fact_store"))}
}

var _ knowledge.Store = (*FactStore)(nil)

func (s *FactStore) StoreFact(ctx context.Context, rec knowledge.Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode fact record: %w", err)
	}
	model := FactModel{
		InternalID:          rec.Metadata.InternalID,
		FactID:              rec.Fact.ID,
		SemanticSubject:     rec.Metadata.SemanticKey.SubjectURI,
		SemanticPredicate:   rec.Metadata.SemanticKey.Predicate,
		SemanticObject:      rec.Metadata.SemanticKey.Object,
		Statement:           blob,
		StoredConfidence:    rec.Fact.Confidence,
		EffectiveConfidence: rec.Metadata.EffectiveConfidence,
		CorroborationCount:  rec.Metadata.CorroborationCount,
		Status:              string(rec.Metadata.Status),
		SenderID:            rec.Metadata.DirectSenderID,
		CreatedAt:           rec.Metadata.ProcessedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// QueryBySemanticKey returns every non-superseded record sharing key's
// (SubjectURI, Predicate) pair, regardless of Object, per the knowledge.Store
// contract.
func (s *FactStore) QueryBySemanticKey(ctx context.Context, key knowledge.SemanticKey) ([]knowledge.Record, error) {
	var models []FactModel
	err := s.db.WithContext(ctx).
		Where("semantic_subject = ? AND semantic_predicate = ? AND status != ?",
			key.SubjectURI, key.Predicate, string(knowledge.StatusSuperseded)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]knowledge.Record, 0, len(models))
	for _, m := range models {
		var rec knowledge.Record
		if err := json.Unmarshal(m.Statement, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode fact record %s: %w", m.InternalID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Supersede marks oldID superseded by newID, rewriting the stored Statement blob so
// a subsequent QueryBySemanticKey reflects the new status (the blob is the
// canonical round-trip source, the flat columns only serve indexed lookups).
func (s *FactStore) Supersede(ctx context.Context, oldID, newID string) error {
	rec, err := s.load(ctx, oldID)
	if err != nil {
		return err
	}
	rec.Metadata.Status = knowledge.StatusSuperseded
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode fact record: %w", err)
	}
	return s.db.WithContext(ctx).Model(&FactModel{}).Where("internal_id = ?", oldID).
		Updates(map[string]any{
			"statement":     blob,
			"status":        string(knowledge.StatusSuperseded),
			"superseded_by": newID,
		}).Error
}

// IncrementCorroboration increments id's corroboration count both in the indexed
// column and in the Statement blob, so a later decode sees the updated count.
func (s *FactStore) IncrementCorroboration(ctx context.Context, id string, delta int) error {
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	rec.Metadata.CorroborationCount += delta
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode fact record: %w", err)
	}
	return s.db.WithContext(ctx).Model(&FactModel{}).Where("internal_id = ?", id).
		Updates(map[string]any{
			"statement":           blob,
			"corroboration_count": rec.Metadata.CorroborationCount,
		}).Error
}

func (s *FactStore) load(ctx context.Context, internalID string) (knowledge.Record, error) {
	var m FactModel
	if err := s.db.WithContext(ctx).Where("internal_id = ?", internalID).First(&m).Error; err != nil {
		return knowledge.Record{}, err
	}
	var rec knowledge.Record
	if err := json.Unmarshal(m.Statement, &rec); err != nil {
		return knowledge.Record{}, fmt.Errorf("failed to decode fact record %s: %w", internalID, err)
	}
	return rec, nil
}
