package llmgateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// StubGateway is a deterministic, non-LLM-backed Gateway used by tests and the
// cmd/hspd demo wiring. It is explicitly not a real LLM integration.
type StubGateway struct {
	// Decompositions maps a literal query to the subtasks it should produce,
	// letting tests script end-to-end scenarios without a real LLM call.
	Decompositions map[string][]SubtaskSpec
}

// NewStubGateway builds a StubGateway with an empty decomposition table.
func NewStubGateway() *StubGateway {
	return &StubGateway{Decompositions: make(map[string][]SubtaskSpec)}
}

// Decompose looks the query up in Decompositions, falling back to a single
// free-text subtask addressed to a "general" capability when no script matches.
func (g *StubGateway) Decompose(ctx context.Context, query string) ([]SubtaskSpec, error) {
	if specs, ok := g.Decompositions[query]; ok {
		return specs, nil
	}
	return []SubtaskSpec{{
		Name:           "t1",
		CapabilityName: "general",
		ParametersTemplate: map[string]any{"query": query},
	}}, nil
}

// Integrate renders a deterministic summary of the successful results, sorted by
// subtask name for reproducibility.
func (g *StubGateway) Integrate(ctx context.Context, query string, resultsByName map[string]any) (string, error) {
	if len(resultsByName) == 0 {
		return fmt.Sprintf("no subtasks succeeded for query %q", query), nil
	}
	names := make([]string, 0, len(resultsByName))
	for name := range resultsByName {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, resultsByName[name]))
	}
	return fmt.Sprintf("integrated result for %q: %s", query, strings.Join(parts, ", ")), nil
}
