package ooda

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okPhase(out map[string]any) PhaseFunc {
	return func(ctx context.Context, cycleNumber int, phase Phase, vars map[string]any) (map[string]any, error) {
		return out, nil
	}
}

func failingPhase(msg string) PhaseFunc {
	return func(ctx context.Context, cycleNumber int, phase Phase, vars map[string]any) (map[string]any, error) {
		return nil, errors.New(msg)
	}
}

func TestRunCycle_AllPhasesSucceed(t *testing.T) {
	c := New(DefaultConfig(),
		okPhase(map[string]any{"observed": true}),
		okPhase(map[string]any{"oriented": true}),
		okPhase(map[string]any{"decided": true}),
		okPhase(map[string]any{"execution_result": map[string]any{"status": "success"}}),
	)

	vars := map[string]any{}
	cycle := c.RunCycle(context.Background(), 1, vars)

	require.Equal(t, CycleCompleted, cycle.Status)
	assert.Len(t, cycle.History, 4)
	for _, p := range cycle.History {
		assert.Equal(t, PhaseCompleted, p.Status)
	}
	assert.Equal(t, true, vars["observed"])
	assert.Equal(t, true, vars["oriented"])
}

func TestRunCycle_ObserveFailureEndsCycleImmediately(t *testing.T) {
	c := New(DefaultConfig(),
		failingPhase("sensor unreachable"),
		okPhase(nil),
		okPhase(nil),
		okPhase(nil),
	)

	cycle := c.RunCycle(context.Background(), 1, map[string]any{})

	require.Equal(t, CycleFailed, cycle.Status)
	assert.Len(t, cycle.History, 1, "no phase after Observe should have run")
	assert.Equal(t, PhaseFailed, cycle.History[0].Status)
}

func TestRunCycle_SuccessfulRollbackFallsThroughToNextPhase(t *testing.T) {
	cfg := Config{MaxCycles: 1, Rollback: RollbackIntelligent, SpecificTarget: PhaseObserve}
	c := New(cfg,
		okPhase(map[string]any{}),
		failingPhase("analysis failed: bad signal"),
		okPhase(map[string]any{"decided": true}),
		okPhase(map[string]any{"execution_result": map[string]any{"status": "success"}}),
	)

	vars := map[string]any{}
	cycle := c.RunCycle(context.Background(), 1, vars)

	require.Equal(t, CycleCompleted, cycle.Status, "a successful rollback must not end the cycle")
	require.Len(t, cycle.History, 4, "Decide and Act must still run after Orient's rollback")
	assert.Equal(t, PhaseRolledBack, cycle.History[1].Status)
	assert.Equal(t, PhaseCompleted, cycle.History[2].Status)
	assert.Equal(t, PhaseCompleted, cycle.History[3].Status)
	assert.Equal(t, PhaseOrient, cycle.CurrentPhase, "analysis failed routes back to Orient")
}

func TestRunCycle_FailedRollbackEndsCycle(t *testing.T) {
	cfg := Config{MaxCycles: 1, Rollback: RollbackNone}
	c := New(cfg,
		okPhase(map[string]any{}),
		failingPhase("some error"),
		okPhase(map[string]any{}),
		okPhase(map[string]any{}),
	)

	cycle := c.RunCycle(context.Background(), 1, map[string]any{})

	require.Equal(t, CycleFailed, cycle.Status)
	assert.Len(t, cycle.History, 2, "Decide/Act must not run once rollback itself fails")
}

func TestRun_StopsOnTaskComplete(t *testing.T) {
	cfg := Config{MaxCycles: 5, Rollback: RollbackIntelligent, SpecificTarget: PhaseObserve}
	calls := 0
	c := New(cfg,
		okPhase(map[string]any{}),
		okPhase(map[string]any{}),
		okPhase(map[string]any{}),
		PhaseFunc(func(ctx context.Context, cycleNumber int, phase Phase, vars map[string]any) (map[string]any, error) {
			calls++
			if calls < 2 {
				return map[string]any{"execution_result": map[string]any{"status": "running"}}, nil
			}
			return map[string]any{"execution_result": map[string]any{"status": "completed"}}, nil
		}),
	)

	cycles, err := c.Run(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Len(t, cycles, 2, "should stop the cycle after the one reporting completed")
}

func TestRun_StopsOnMaxCyclesWithoutCompletion(t *testing.T) {
	cfg := Config{MaxCycles: 3, Rollback: RollbackIntelligent, SpecificTarget: PhaseObserve}
	c := New(cfg,
		okPhase(map[string]any{}),
		okPhase(map[string]any{}),
		okPhase(map[string]any{}),
		okPhase(map[string]any{"execution_result": map[string]any{"status": "running"}}),
	)

	cycles, err := c.Run(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Len(t, cycles, 3)
}

func TestRun_StopsOnCycleFailure(t *testing.T) {
	cfg := Config{MaxCycles: 5, Rollback: RollbackIntelligent}
	c := New(cfg,
		failingPhase("sensor down"),
		okPhase(nil),
		okPhase(nil),
		okPhase(nil),
	)

	cycles, err := c.Run(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Len(t, cycles, 1)
}
