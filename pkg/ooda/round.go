package ooda

import (
	"context"
	"time"

	"github.com/sentinelai/engine/pkg/scheduler"
)

// StepExecutor runs a single scheduler.TaskNode to completion and returns
// its outputs. Implementations wrap the tool router (C2) and streaming
// executor (C4) — ooda stays decoupled from their concrete wiring the same
// way pkg/joiner and pkg/planner stay decoupled from agent.ExecutionContext.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, node *scheduler.TaskNode) (outputs map[string]any, err error)
}

// drainPollInterval is how often driveRound polls scheduler.Status while
// waiting for in-flight steps to finish, mirroring the require.Eventually
// polling idiom pkg/scheduler's own tests use to observe event-loop-driven
// state transitions from outside the scheduler's lock.
const drainPollInterval = 20 * time.Millisecond

// driveRound runs one scheduler.Scheduler to completion against one plan:
// repeatedly fetches ready tasks (up to maxConcurrent at a time), executes
// them concurrently via exec, reports each outcome back to the scheduler,
// and waits for the dependency graph to fully drain (every node reaches a
// terminal status) before returning. One call is one "round" in the sense
// pkg/joiner.AnalyzeAndDecide and pkg/planner.RoundSummary use the term.
func driveRound(ctx context.Context, sched *scheduler.Scheduler, plan *scheduler.Plan, exec StepExecutor, maxConcurrent int) ([]*scheduler.TaskResult, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- sched.StartEventLoop(loopCtx) }()

	resultsCh := make(chan *scheduler.TaskResult, len(plan.Nodes))
	inFlight := 0

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	results := make([]*scheduler.TaskResult, 0, len(plan.Nodes))

	for countTerminal(sched, plan) < len(plan.Nodes) {
		if slots := maxConcurrent - inFlight; slots > 0 {
			for _, node := range sched.FetchReady(slots) {
				inFlight++
				go runStep(ctx, sched, exec, node, resultsCh)
			}
		}

		select {
		case <-ctx.Done():
			sched.CancelPending()
			<-loopDone
			return results, ctx.Err()
		case result := <-resultsCh:
			inFlight--
			results = append(results, result)
		case <-ticker.C:
			// re-check countTerminal: the event loop may have retried or
			// propagated a failure without runStep delivering a new result.
		}
	}

	sched.CancelPending()
	<-loopDone
	return results, nil
}

// runStep executes one task and reports its outcome back to the scheduler,
// translating a StepExecutor error into a TaskFailed result rather than
// propagating it — a failed step is scheduler business (retry/propagation),
// not a driveRound-fatal error.
func runStep(ctx context.Context, sched *scheduler.Scheduler, exec StepExecutor, node *scheduler.TaskNode, out chan<- *scheduler.TaskResult) {
	stepCtx, cancel := context.WithCancel(ctx)
	sched.MarkExecuting(node.ID, cancel)
	defer cancel()

	started := time.Now()
	outputs, err := exec.ExecuteStep(stepCtx, node)

	result := &scheduler.TaskResult{
		TaskID:      node.ID,
		Task:        node,
		StartedAt:   started,
		CompletedAt: time.Now(),
		DurationMs:  time.Since(started).Milliseconds(),
		RetryCount:  node.RetryCount,
	}
	if err != nil {
		result.Status = scheduler.TaskFailed
		result.Error = err.Error()
	} else {
		result.Status = scheduler.TaskCompleted
		result.Outputs = outputs
	}

	_ = sched.CompleteTask(result)
	out <- result
}

// countTerminal counts how many of the plan's nodes have reached a
// terminal status (Completed/Failed/Cancelled) according to the
// scheduler's current bookkeeping.
func countTerminal(sched *scheduler.Scheduler, plan *scheduler.Plan) int {
	n := 0
	for _, node := range plan.Nodes {
		status, ok := sched.Status(node.ID)
		if ok && isTerminalStatus(status) {
			n++
		}
	}
	return n
}

func isTerminalStatus(s scheduler.TaskStatus) bool {
	switch s {
	case scheduler.TaskCompleted, scheduler.TaskFailed, scheduler.TaskCancelled:
		return true
	default:
		return false
	}
}
