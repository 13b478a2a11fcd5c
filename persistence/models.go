package persistence

import "time"

// ProjectExecutionModel is the GORM mapping of the project_executions table.
type ProjectExecutionModel struct {
	ProjectID     string `gorm:"column:project_id;primaryKey"`
	Query         string `gorm:"column:query"`
	DAG           []byte `gorm:"column:dag"`
	NodeStates    []byte `gorm:"column:node_states"`
	FailurePolicy string `gorm:"column:failure_policy"`
	Status        string `gorm:"column:status"`
	StartedAt     time.Time  `gorm:"column:started_at"`
	DeadlineAt    time.Time  `gorm:"column:deadline_at"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
}

// TableName pins the table name so it survives GORM's pluralization rules.
func (ProjectExecutionModel) TableName() string { return "project_executions" }

// FactModel is the GORM mapping of the facts table. Statement carries the full
// JSON-encoded knowledge.Record (Fact + Metadata); the flat columns alongside it
// exist for indexed lookups and must be kept in lockstep with Statement by every
// write path (see FactStore.Supersede / IncrementCorroboration).
type FactModel struct {
	InternalID          string `gorm:"column:internal_id;primaryKey"`
	FactID              string `gorm:"column:fact_id"`
	SemanticSubject     string `gorm:"column:semantic_subject;index:idx_facts_semantic"`
	SemanticPredicate   string `gorm:"column:semantic_predicate;index:idx_facts_semantic"`
	SemanticObject      string `gorm:"column:semantic_object"`
	Statement           []byte `gorm:"column:statement"`
	StoredConfidence    float64 `gorm:"column:stored_confidence"`
	EffectiveConfidence float64 `gorm:"column:effective_confidence"`
	CorroborationCount  int     `gorm:"column:corroboration_count"`
	SupersededBy        *string `gorm:"column:superseded_by"`
	Status              string  `gorm:"column:status"`
	SenderID            string  `gorm:"column:sender_id"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

func (FactModel) TableName() string { return "facts" }
