// Package scheduler implements the DAG task-fetching unit (C5): the
// dependency-aware scheduler that decides which tasks in a plan are ready to
// run, tracks their execution, resolves variable references between tasks,
// and propagates failures according to a configurable strategy.
//
// Grounded on None9527-NGOClaw/gateway/internal/domain/agent/dag.go for the
// concurrency shape (semaphore-bounded dispatch handed to the caller,
// ready/done bookkeeping, Kahn's-algorithm cycle detection) and on the
// original Rust TaskFetchingUnit (task_fetcher.rs) for the queue/event-loop
// design this package's Go idiom replaces channel-for-channel.
package scheduler

import "time"

// TaskStatus is a task node's position in its lifecycle.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskReady
	TaskExecuting
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskReady:
		return "ready"
	case TaskExecuting:
		return "executing"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TaskNode is one node of a DAG execution plan.
type TaskNode struct {
	ID           string
	Name         string
	ToolName     string
	Inputs       map[string]any
	Dependencies []string
	Priority     int // ascending = higher priority, matches spec.md §4.5
	Status       TaskStatus
	RetryCount   int
	Tags         []string
	VariableRefs []string // cleared once inputs are resolved
	CreatedAt    time.Time
}

// clone returns a deep-enough copy for safe reuse across retry/fallback
// reconstruction (inputs map and dependency/tag slices are copied).
func (t *TaskNode) clone() *TaskNode {
	cp := *t
	cp.Inputs = make(map[string]any, len(t.Inputs))
	for k, v := range t.Inputs {
		cp.Inputs[k] = v
	}
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	cp.Tags = append([]string(nil), t.Tags...)
	cp.VariableRefs = append([]string(nil), t.VariableRefs...)
	return &cp
}

// TaskResult is the outcome of one task's execution, reported back to the
// scheduler via CompleteTask. Task carries the originating node so a failed
// task can be reconstructed for retry without the Rust original's
// "reconstruction not fully implemented" gap (task_fetcher.rs's
// reconstruct_task_from_failure) — the caller already has the node in hand
// when it reports the result, so there's nothing to reconstruct.
type TaskResult struct {
	TaskID      string
	Task        *TaskNode
	Status      TaskStatus
	Outputs     map[string]any
	Error       string
	DurationMs  int64
	StartedAt   time.Time
	CompletedAt time.Time
	RetryCount  int
	Metadata    map[string]any
}

// Plan is a DAG execution plan: the task set, their dependency edges, and
// the variable mappings/global config available to variable resolution.
type Plan struct {
	Name             string
	Version          string
	Nodes            []*TaskNode
	DependencyGraph  map[string][]string // task id -> dependency ids
	VariableMappings map[string]string
	GlobalConfig     map[string]any
}
