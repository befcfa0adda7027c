package ooda

import (
	"context"
	"fmt"
	"time"
)

// PhaseFunc runs one phase of a cycle. vars is the shared, mutable
// investigation context threaded across phases and cycles (the Go
// equivalent of ooda_executor.rs's `context: &mut HashMap<String, Value>`);
// a phase both reads prior phases' outputs from it and writes its own.
// The returned map is merged into vars after the phase completes.
type PhaseFunc func(ctx context.Context, cycleNumber int, phase Phase, vars map[string]any) (map[string]any, error)

// Controller drives the four-phase Observe-Orient-Decide-Act loop (C9).
// Each phase's concrete work (tool calls, LLM analysis) is supplied by the
// caller as a PhaseFunc; the controller only owns sequencing, recording,
// and rollback — it shares the Scheduler/Executor/Joiner the caller wires
// into those funcs, per spec.md §4.9's closing sentence, rather than
// depending on them directly.
type Controller struct {
	cfg     Config
	observe PhaseFunc
	orient  PhaseFunc
	decide  PhaseFunc
	act     PhaseFunc
}

// New creates a Controller. All four PhaseFuncs are required.
func New(cfg Config, observe, orient, decide, act PhaseFunc) *Controller {
	return &Controller{cfg: cfg, observe: observe, orient: orient, decide: decide, act: act}
}

// RunCycle implements execute_cycle: runs Observe, Orient, Decide, Act in
// order. Observe failure fails the cycle outright (there is nothing to roll
// back to). An Orient/Decide/Act failure attempts a rollback per
// cfg.Rollback; when the rollback itself fails (policy is NoRollback, or
// PreviousPhase from Observe), the cycle fails. Otherwise — matching
// ooda_executor.rs's execute_cycle exactly — the rollback only records
// where the cycle would resume from and marks the failed phase
// RolledBack; execution falls through to the next phase in sequence
// regardless, rather than re-running the rollback target immediately.
func (c *Controller) RunCycle(ctx context.Context, cycleNumber int, vars map[string]any) *Cycle {
	cycle := &Cycle{Number: cycleNumber, Status: CycleRunning}

	if err := c.runPhase(ctx, cycle, cycleNumber, PhaseObserve, c.observe, vars); err != nil {
		cycle.fail(fmt.Sprintf("observe phase error: %s", err))
		return cycle
	}

	if err := c.runPhase(ctx, cycle, cycleNumber, PhaseOrient, c.orient, vars); err != nil {
		if rbErr := c.rollback(cycle, PhaseOrient, err.Error()); rbErr != nil {
			cycle.fail(fmt.Sprintf("orient phase error with failed rollback: %s", err))
			return cycle
		}
	}

	if err := c.runPhase(ctx, cycle, cycleNumber, PhaseDecide, c.decide, vars); err != nil {
		if rbErr := c.rollback(cycle, PhaseDecide, err.Error()); rbErr != nil {
			cycle.fail(fmt.Sprintf("decide phase error with failed rollback: %s", err))
			return cycle
		}
	}

	if err := c.runPhase(ctx, cycle, cycleNumber, PhaseAct, c.act, vars); err != nil {
		if rbErr := c.rollback(cycle, PhaseAct, err.Error()); rbErr != nil {
			cycle.fail(fmt.Sprintf("act phase error with failed rollback: %s", err))
			return cycle
		}
	}

	cycle.complete(buildCycleResult(vars))
	return cycle
}

// runPhase executes one PhaseFunc, recording a PhaseExecution into the
// cycle's history regardless of outcome.
func (c *Controller) runPhase(ctx context.Context, cycle *Cycle, cycleNumber int, phase Phase, fn PhaseFunc, vars map[string]any) error {
	exec := PhaseExecution{Phase: phase, Input: snapshot(vars), StartedAt: time.Now()}

	out, err := fn(ctx, cycleNumber, phase, vars)
	exec.CompletedAt = time.Now()

	if err != nil {
		exec.Status = PhaseFailed
		exec.Error = err.Error()
		cycle.History = append(cycle.History, exec)
		return err
	}

	for k, v := range out {
		vars[k] = v
	}
	exec.Output = out
	exec.Status = PhaseCompleted
	cycle.History = append(cycle.History, exec)
	return nil
}

// rollback resolves the rollback target for a failed phase and marks the
// last recorded phase execution RolledBack, matching handle_error_rollback.
func (c *Controller) rollback(cycle *Cycle, failed Phase, errText string) error {
	target, err := resolveRollback(c.cfg, failed, errText)
	if err != nil {
		return err
	}
	cycle.CurrentPhase = target
	if n := len(cycle.History); n > 0 {
		cycle.History[n-1].Status = PhaseRolledBack
		cycle.History[n-1].Error = errText
	}
	return nil
}

// snapshot makes a shallow copy of vars for a PhaseExecution's recorded
// input, so later mutation of the live map doesn't retroactively change
// what an earlier phase execution is shown to have seen.
func snapshot(vars map[string]any) map[string]any {
	cp := make(map[string]any, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return cp
}

// buildCycleResult extracts the cycle's reportable result from vars, the Go
// counterpart of build_cycle_result.
func buildCycleResult(vars map[string]any) map[string]any {
	if result, ok := vars["execution_result"].(map[string]any); ok {
		return result
	}
	return map[string]any{}
}

// Run implements the cycle-driving loop from engine_adapter.rs's
// should_stop_cycles/is_task_complete: runs cycles until the task reports
// complete, a cycle fails, or cfg.MaxCycles is reached.
func (c *Controller) Run(ctx context.Context, vars map[string]any) ([]*Cycle, error) {
	var cycles []*Cycle

	for n := 1; n <= c.cfg.MaxCycles; n++ {
		if ctx.Err() != nil {
			return cycles, ctx.Err()
		}

		cycle := c.RunCycle(ctx, n, vars)
		cycles = append(cycles, cycle)

		if cycle.Status == CycleFailed {
			return cycles, fmt.Errorf("cycle %d failed: %s", n, cycle.Error)
		}
		if isTaskComplete(vars) {
			return cycles, nil
		}
	}

	return cycles, nil
}

// isTaskComplete mirrors is_task_complete: the task is done once vars
// carries an execution_result whose status is success/completed, or any
// execution_result at all when it carries no status field.
func isTaskComplete(vars map[string]any) bool {
	result, ok := vars["execution_result"].(map[string]any)
	if !ok {
		return false
	}
	status, ok := result["status"].(string)
	if !ok {
		return true
	}
	return status == "success" || status == "completed"
}
