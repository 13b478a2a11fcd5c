package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hspmesh/hsp/coordinator"
)

// Project status values stored in project_executions.status.
const (
	ProjectStatusRunning     = "running"
	ProjectStatusSucceeded   = "succeeded"
	ProjectStatusFailed      = "failed"
	ProjectStatusInterrupted = "interrupted"
)

// ProjectStore persists coordinator.ProjectState.
type ProjectStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewProjectStore builds a ProjectStore backed by db (already migrated).
func NewProjectStore(db *gorm.DB, logger *zap.Logger) *ProjectStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectStore{db: db, logger: logger.With(zap.String("component", "persistence.project_store"))}
}

// Save upserts state under status, used both to record a newly started project and
// to checkpoint it as it runs.
func (s *ProjectStore) Save(ctx context.Context, state *coordinator.ProjectState, status string) error {
	dag, err := json.Marshal(state.Nodes)
	if err != nil {
		return fmt.Errorf("failed to encode dag: %w", err)
	}
	nodeStates, err := json.Marshal(state.NodeStates)
	if err != nil {
		return fmt.Errorf("failed to encode node states: %w", err)
	}

	model := ProjectExecutionModel{
		ProjectID:     state.ProjectID,
		Query:         state.Query,
		DAG:           dag,
		NodeStates:    nodeStates,
		FailurePolicy: string(state.FailurePolicy),
		Status:        status,
		StartedAt:     state.StartedAt,
		DeadlineAt:    state.DeadlineAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

// MarkFinished sets a project's terminal status and finished_at timestamp.
func (s *ProjectStore) MarkFinished(ctx context.Context, projectID, status string, finishedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&ProjectExecutionModel{}).
		Where("project_id = ?", projectID).
		Updates(map[string]any{"status": status, "finished_at": finishedAt}).Error
}

// ReopenInterrupted marks every `running` row `interrupted` on service restart and
// returns their project ids for status-polling visibility. An interrupted project
// is never auto-resumed.
func (s *ProjectStore) ReopenInterrupted(ctx context.Context) ([]string, error) {
	var rows []ProjectExecutionModel
	if err := s.db.WithContext(ctx).Where("status = ?", ProjectStatusRunning).Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if err := s.db.WithContext(ctx).Model(&ProjectExecutionModel{}).
			Where("project_id = ?", row.ProjectID).
			Update("status", ProjectStatusInterrupted).Error; err != nil {
			return nil, err
		}
		ids = append(ids, row.ProjectID)
		s.logger.Warn("reopened interrupted project execution", zap.String("project_id", row.ProjectID))
	}
	return ids, nil
}
