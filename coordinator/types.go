// Package coordinator implements the Project Coordinator: query -> plan -> DAG ->
// dispatch -> substitute -> integrate, with partial-failure semantics.
package coordinator

import "time"

// Status is a TaskResult's completion status.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailure    Status = "failure"
	StatusInProgress Status = "in-progress"
	StatusQueued     Status = "queued"
	StatusRejected   Status = "rejected"
)

// ErrorDetails is the Task Result error descriptor, present only on
// failure/rejected.
type ErrorDetails struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// TaskRequest dispatches one subtask to a specialist agent. Exactly one of
// CapabilityIDFilter or NameFilter is populated.
type TaskRequest struct {
	RequestID             string         `json:"request_id"`
	RequesterID           string         `json:"requester_id"`
	TargetAgentID         string         `json:"target_agent_id,omitempty"`
	CapabilityIDFilter    string         `json:"capability_id_filter,omitempty"`
	NameFilter            string         `json:"name_filter,omitempty"`
	Parameters            map[string]any `json:"parameters"`
	RequestedOutputFormat string         `json:"requested_output_format,omitempty"`
	Priority              int            `json:"priority,omitempty"`
	Deadline              *time.Time     `json:"deadline,omitempty"`
	CallbackAddress       string         `json:"callback_address"`
}

// ExecutionMetadata is the Task Result's "time, retries, etc." execution metadata.
type ExecutionMetadata struct {
	DurationMillis int64 `json:"duration_millis"`
	Retries        int   `json:"retries"`
}

// TaskResult is a specialist agent's response to a TaskRequest. Payload and
// ErrorDetails are mutually exclusive per status, enforced by the constructors
// below.
type TaskResult struct {
	ResultID            string            `json:"result_id"`
	RequestID           string            `json:"request_id"`
	ExecutingAgentID    string            `json:"executing_agent_id"`
	Status              Status            `json:"status"`
	Payload             any               `json:"payload,omitempty"`
	OutputFormat        string            `json:"output_format,omitempty"`
	ErrorDetails        *ErrorDetails     `json:"error_details,omitempty"`
	CompletionTimestamp time.Time         `json:"completion_timestamp"`
	ExecutionMetadata   ExecutionMetadata `json:"execution_metadata"`
}

// NewSuccessResult builds a success TaskResult carrying payload, no error details.
func NewSuccessResult(resultID, requestID, agentID string, payload any, completedAt time.Time) TaskResult {
	return TaskResult{
		ResultID:            resultID,
		RequestID:           requestID,
		ExecutingAgentID:    agentID,
		Status:              StatusSuccess,
		Payload:             payload,
		CompletionTimestamp: completedAt,
	}
}

// NewFailureResult builds a failure TaskResult carrying error details, no payload.
func NewFailureResult(resultID, requestID, agentID string, details ErrorDetails, completedAt time.Time) TaskResult {
	return TaskResult{
		ResultID:            resultID,
		RequestID:           requestID,
		ExecutingAgentID:    agentID,
		Status:              StatusFailure,
		ErrorDetails:        &details,
		CompletionTimestamp: completedAt,
	}
}

// SubtaskNode is one node in a project's dependency DAG.
type SubtaskNode struct {
	Name              string
	CapabilityName    string
	ParameterTemplate map[string]any
	Dependencies      []string
	Deadline          *time.Duration
}

// NodeState is one state in the per-node state machine
// pending -> ready -> running -> (succeeded | failed | cancelled).
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeReady     NodeState = "ready"
	NodeRunning   NodeState = "running"
	NodeSucceeded NodeState = "succeeded"
	NodeFailed    NodeState = "failed"
	NodeCancelled NodeState = "cancelled"
)

// FailurePolicy governs whether a project continues past a failed subtask.
type FailurePolicy string

const (
	PolicyStrict     FailurePolicy = "strict"
	PolicyBestEffort FailurePolicy = "best-effort"
)

// ProjectState is the execution state of one project, owned by the Coordinator for
// its lifetime.
type ProjectState struct {
	ProjectID     string
	Query         string
	Nodes         map[string]*SubtaskNode
	NodeStates    map[string]NodeState
	NodeResults   map[string]any
	FailurePolicy FailurePolicy
	StartedAt     time.Time
	DeadlineAt    time.Time
}
