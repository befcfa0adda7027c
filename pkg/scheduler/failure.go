package scheduler

import "fmt"

// FailurePropagationStrategy controls what happens to a task's dependents
// when it finally fails (retries exhausted). Grounded on task_fetcher.rs's
// four handle_*_propagation functions.
type FailurePropagationStrategy int

const (
	// FailFast cancels the failed task's transitive dependents.
	FailFast FailurePropagationStrategy = iota
	// BestEffort drops the failed dependency edge from direct dependents,
	// letting them proceed without that input.
	BestEffort
	// Fallback injects a synthetic empty result in place of the failed
	// task's output, then proceeds like BestEffort for anything the
	// fallback doesn't satisfy.
	Fallback
	// Continue takes no action; dependents stay waiting on a dependency
	// that will never complete (the caller is expected to have already
	// decided that's acceptable, e.g. for purely informational tasks).
	Continue
)

func (s FailurePropagationStrategy) String() string {
	switch s {
	case FailFast:
		return "fail_fast"
	case BestEffort:
		return "best_effort"
	case Fallback:
		return "fallback"
	case Continue:
		return "continue"
	default:
		return "unknown"
	}
}

// ParseFailureStrategy maps the config string form (SchedulerConfig's
// FailureStrategy field) to its typed value, defaulting to FailFast for
// anything unrecognized.
func ParseFailureStrategy(s string) FailurePropagationStrategy {
	switch s {
	case "best_effort":
		return BestEffort
	case "fallback":
		return Fallback
	case "continue":
		return Continue
	default:
		return FailFast
	}
}

// propagateFailure applies the scheduler's configured strategy after
// failedID has exhausted its retries. Caller must hold s.mu.
func (s *Scheduler) propagateFailure(failedID string) {
	switch s.strategy {
	case FailFast:
		s.cancelDependentsTransitively(failedID)
	case BestEffort:
		s.dropDependencyEverywhere(failedID)
		s.updateWaitingTasksLocked()
	case Fallback:
		s.injectFallback(failedID)
		s.updateWaitingTasksLocked()
	case Continue:
		// no-op: dependents stay waiting, per spec.md §4.5.
	}
}

// cancelDependentsTransitively walks the dependents graph breadth-first
// from failedID and moves every dependent still in the waiting queue to
// failed, with a "cancelled due to dependency failure" error. A dependent
// of a failed task can only be in the waiting queue (never ready or
// executing), since update_waiting_tasks only promotes a task once all its
// dependencies have completed.
func (s *Scheduler) cancelDependentsTransitively(failedID string) {
	frontier := []string{failedID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, dep := range s.dependents[id] {
			if s.cancelWaitingTask(dep, failedID) {
				frontier = append(frontier, dep)
			}
		}
	}
}

func (s *Scheduler) cancelWaitingTask(id, rootCause string) bool {
	for i, t := range s.waiting {
		if t.ID != id {
			continue
		}
		s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
		t.Status = TaskCancelled
		s.failed[id] = &TaskResult{
			TaskID: id,
			Task:   t,
			Status: TaskCancelled,
			Error:  fmt.Sprintf("cancelled due to dependency failure: %s", rootCause),
		}
		return true
	}
	return false
}

// dropDependencyEverywhere removes failedID from every other task's
// dependency list (direct dependents only, matching
// handle_best_effort_propagation's get_dependent_tasks scope).
func (s *Scheduler) dropDependencyEverywhere(failedID string) {
	for _, dependentID := range s.dependents[failedID] {
		s.dependencyGraph[dependentID] = removeString(s.dependencyGraph[dependentID], failedID)
		for _, t := range s.waiting {
			if t.ID == dependentID {
				t.Dependencies = removeString(t.Dependencies, failedID)
			}
		}
	}
	delete(s.dependents, failedID)
}

// injectFallback synthesizes an empty completed result for failedID so
// dependents that reference its outputs resolve to an empty value instead
// of failing outright, then still drops the dependency edge the way
// BestEffort does (there's nothing left to "wait" for).
func (s *Scheduler) injectFallback(failedID string) {
	fallback := &TaskResult{
		TaskID:   failedID,
		Status:   TaskCompleted,
		Outputs:  map[string]any{},
		Metadata: map[string]any{"is_fallback": true},
	}
	s.vars.recordCompletion(failedID, fallback)
	s.dropDependencyEverywhere(failedID)
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
