// Package llmgateway declares the Coordinator's interface to the external LLM
// gateway collaborator. The gateway itself — model choice, prompting, token
// budgeting — is out of scope; this package only carries the typed contract plus
// a deterministic stub used by tests and the cmd/hspd demo wiring.
package llmgateway

import "context"

// SubtaskSpec is one entry of a decomposition response: a subtask name, the
// capability it requires, its parameter template (which may embed dependency
// references), and the names of subtasks it depends on.
type SubtaskSpec struct {
	Name             string
	CapabilityName   string
	ParametersTemplate map[string]any
	Dependencies     []string
}

// Gateway is the two-call interface the Project Coordinator uses: decomposition of
// a natural-language query into a subtask DAG, and integration of subtask results
// back into a final response.
type Gateway interface {
	Decompose(ctx context.Context, query string) ([]SubtaskSpec, error)
	Integrate(ctx context.Context, query string, resultsByName map[string]any) (string, error)
}
