package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hspmesh/hsp/coordinator"
	"github.com/hspmesh/hsp/knowledge"
	"github.com/hspmesh/hsp/persistence"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&persistence.ProjectExecutionModel{}, &persistence.FactModel{}))
	return db
}

func TestProjectStoreSaveAndReopenInterrupted(t *testing.T) {
	db := newTestDB(t)
	store := persistence.NewProjectStore(db, nil)

	state := &coordinator.ProjectState{
		ProjectID:     "proj-1",
		Query:         "summarize the fox article",
		Nodes:         map[string]*coordinator.SubtaskNode{"fetch": {Name: "fetch", CapabilityName: "fetch"}},
		NodeStates:    map[string]coordinator.NodeState{"fetch": coordinator.NodeRunning},
		FailurePolicy: coordinator.PolicyBestEffort,
		StartedAt:     time.Now(),
		DeadlineAt:    time.Now().Add(time.Minute),
	}
	require.NoError(t, store.Save(context.Background(), state, persistence.ProjectStatusRunning))

	// Saving again with a different node state upserts rather than duplicating.
	state.NodeStates["fetch"] = coordinator.NodeSucceeded
	require.NoError(t, store.Save(context.Background(), state, persistence.ProjectStatusRunning))

	var count int64
	require.NoError(t, db.Model(&persistence.ProjectExecutionModel{}).Where("project_id = ?", "proj-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	ids, err := store.ReopenInterrupted(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "proj-1")

	var row persistence.ProjectExecutionModel
	require.NoError(t, db.Where("project_id = ?", "proj-1").First(&row).Error)
	assert.Equal(t, persistence.ProjectStatusInterrupted, row.Status)
}

func TestFactStoreRoundTripsSemanticQueries(t *testing.T) {
	db := newTestDB(t)
	store := persistence.NewFactStore(db, nil)
	ctx := context.Background()

	rec := knowledge.Record{
		Fact: knowledge.Fact{ID: "f1", StatementType: knowledge.StatementTriple, Confidence: 0.8},
		Metadata: knowledge.Metadata{
			InternalID:          "internal-1",
			DirectSenderID:      "sender-a",
			EffectiveConfidence: 0.72,
			ProcessedAt:         time.Now(),
			SemanticKey:         knowledge.SemanticKey{SubjectURI: "Sky", Predicate: "hasColor", Object: "blue"},
			CorroborationCount:  1,
			Status:              knowledge.StatusCommitted,
		},
	}
	require.NoError(t, store.StoreFact(ctx, rec))

	results, err := store.QueryBySemanticKey(ctx, knowledge.SemanticKey{SubjectURI: "Sky", Predicate: "hasColor"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "internal-1", results[0].Metadata.InternalID)

	require.NoError(t, store.IncrementCorroboration(ctx, "internal-1", 2))
	results, err = store.QueryBySemanticKey(ctx, knowledge.SemanticKey{SubjectURI: "Sky", Predicate: "hasColor"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Metadata.CorroborationCount)

	rec2 := rec
	rec2.Fact.ID = "f2"
	rec2.Metadata.InternalID = "internal-2"
	rec2.Metadata.SemanticKey.Object = "grey"
	require.NoError(t, store.StoreFact(ctx, rec2))
	require.NoError(t, store.Supersede(ctx, "internal-1", "internal-2"))

	results, err = store.QueryBySemanticKey(ctx, knowledge.SemanticKey{SubjectURI: "Sky", Predicate: "hasColor"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "internal-2", results[0].Metadata.InternalID)
}
