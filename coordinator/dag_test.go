package coordinator

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hspmesh/hsp/llmgateway"
	"github.com/hspmesh/hsp/types"
)

func TestBuildDAGRejectsDuplicateNames(t *testing.T) {
	_, _, err := buildDAG([]llmgateway.SubtaskSpec{
		{Name: "a", CapabilityName: "x"},
		{Name: "a", CapabilityName: "y"},
	})
	require.Error(t, err)
	assert.Equal(t, types.KindPlanningFailure, types.KindOf(err))
}

func TestBuildDAGRejectsUnknownDependency(t *testing.T) {
	_, _, err := buildDAG([]llmgateway.SubtaskSpec{
		{Name: "a", CapabilityName: "x", Dependencies: []string{"ghost"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.KindPlanningFailure, types.KindOf(err))
}

func TestBuildDAGRejectsCycle(t *testing.T) {
	_, _, err := buildDAG([]llmgateway.SubtaskSpec{
		{Name: "a", CapabilityName: "x", Dependencies: []string{"b"}},
		{Name: "b", CapabilityName: "x", Dependencies: []string{"a"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.KindPlanningFailure, types.KindOf(err))
}

// genAcyclicChain builds a linear chain s0 -> s1 -> ... -> s(n-1), where each
// subtask depends only on its immediate predecessor: acyclic by construction.
func genAcyclicChain() gopter.Gen {
	return gen.IntRange(1, 12).Map(func(n int) []llmgateway.SubtaskSpec {
		specs := make([]llmgateway.SubtaskSpec, n)
		for i := 0; i < n; i++ {
			spec := llmgateway.SubtaskSpec{Name: fmt.Sprintf("s%d", i), CapabilityName: "cap"}
			if i > 0 {
				spec.Dependencies = []string{fmt.Sprintf("s%d", i-1)}
			}
			specs[i] = spec
		}
		return specs
	})
}

// TestTopologicalOrderRespectsDependencies verifies that for any acyclic chain,
// buildDAG accepts it and produces an order where every dependency precedes its
// dependent.
func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("topological order respects every dependency edge", prop.ForAll(
		func(specs []llmgateway.SubtaskSpec) bool {
			nodes, order, err := buildDAG(specs)
			if err != nil {
				return false
			}
			if len(order) != len(nodes) {
				return false
			}
			position := make(map[string]int, len(order))
			for i, name := range order {
				position[name] = i
			}
			for name, n := range nodes {
				for _, dep := range n.Dependencies {
					if position[dep] >= position[name] {
						return false
					}
				}
			}
			return true
		},
		genAcyclicChain(),
	))

	properties.TestingRun(t)
}
