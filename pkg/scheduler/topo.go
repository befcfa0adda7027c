package scheduler

import "fmt"

// CyclicDependencyError reports that a dependency graph contains a cycle,
// naming the task ids that never reached zero in-degree.
type CyclicDependencyError struct {
	Remaining []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected among tasks: %v", e.Remaining)
}

// topologicalOrder runs Kahn's algorithm over a task-id -> dependency-ids
// graph, the same cycle-detection shape as
// None9527-NGOClaw/gateway/internal/domain/agent/dag.go's validate().
func topologicalOrder(nodeIDs []string, deps map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodeIDs))
	dependents := make(map[string][]string, len(nodeIDs))
	for _, id := range nodeIDs {
		inDegree[id] = 0
	}
	for id, ds := range deps {
		for _, d := range ds {
			if _, ok := inDegree[id]; !ok {
				continue
			}
			inDegree[id]++
			dependents[d] = append(dependents[d], id)
		}
	}

	queue := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(nodeIDs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(nodeIDs) {
		remaining := make([]string, 0, len(nodeIDs)-len(order))
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for _, id := range nodeIDs {
			if !seen[id] {
				remaining = append(remaining, id)
			}
		}
		return nil, &CyclicDependencyError{Remaining: remaining}
	}
	return order, nil
}

// parallelGroups partitions the graph into successive anti-chains: group 0
// has no dependencies, group 1 depends only on group 0, and so on. Tasks in
// the same group can run concurrently.
func parallelGroups(nodeIDs []string, deps map[string][]string) ([][]string, error) {
	order, err := topologicalOrder(nodeIDs, deps)
	if err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, id := range order {
		d := 0
		for _, dep := range deps[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	groups := make([][]string, maxDepth+1)
	for _, id := range order {
		d := depth[id]
		groups[d] = append(groups[d], id)
	}
	return groups, nil
}
