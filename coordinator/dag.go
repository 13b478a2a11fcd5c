package coordinator

import (
	"fmt"

	"github.com/hspmesh/hsp/llmgateway"
	"github.com/hspmesh/hsp/types"
)

// buildDAG validates a decomposition response's invariants (unique names,
// dependencies resolve, acyclic) and returns the node table plus a valid
// topological order.
func buildDAG(specs []llmgateway.SubtaskSpec) (map[string]*SubtaskNode, []string, error) {
	nodes := make(map[string]*SubtaskNode, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, nil, types.NewError(types.KindPlanningFailure, "subtask with empty name")
		}
		if _, dup := nodes[s.Name]; dup {
			return nil, nil, types.NewError(types.KindPlanningFailure, fmt.Sprintf("duplicate subtask name %q", s.Name))
		}
		nodes[s.Name] = &SubtaskNode{
			Name:              s.Name,
			CapabilityName:    s.CapabilityName,
			ParameterTemplate: s.ParametersTemplate,
			Dependencies:      s.Dependencies,
		}
	}

	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if _, ok := nodes[dep]; !ok {
				return nil, nil, types.NewError(types.KindPlanningFailure,
					fmt.Sprintf("subtask %q depends on unknown subtask %q", n.Name, dep))
			}
			if dep == n.Name {
				return nil, nil, types.NewError(types.KindPlanningFailure,
					fmt.Sprintf("subtask %q depends on itself", n.Name))
			}
		}
	}

	order, err := topologicalOrder(nodes)
	if err != nil {
		return nil, nil, err
	}
	return nodes, order, nil
}

// topologicalOrder runs Kahn's algorithm over nodes, returning KindPlanningFailure
// if a cycle is detected.
func topologicalOrder(nodes map[string]*SubtaskNode) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	successors := make(map[string][]string, len(nodes))
	for name, n := range nodes {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range n.Dependencies {
			indegree[name]++
			successors[dep] = append(successors[dep], name)
		}
	}

	var queue, order []string
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)
		for _, succ := range successors[next] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, types.NewError(types.KindPlanningFailure, "subtask dependency graph contains a cycle")
	}
	return order, nil
}

// successorsOf returns, for every node, the names of nodes directly depending on it.
func successorsOf(nodes map[string]*SubtaskNode) map[string][]string {
	out := make(map[string][]string, len(nodes))
	for name, n := range nodes {
		for _, dep := range n.Dependencies {
			out[dep] = append(out[dep], name)
		}
		if _, ok := out[name]; !ok {
			out[name] = nil
		}
	}
	return out
}
