package ooda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRollback_None(t *testing.T) {
	cfg := Config{Rollback: RollbackNone}
	_, err := resolveRollback(cfg, PhaseDecide, "timeout")
	require.Error(t, err)
}

func TestResolveRollback_PreviousPhase(t *testing.T) {
	cfg := Config{Rollback: RollbackPrevious}

	target, err := resolveRollback(cfg, PhaseOrient, "boom")
	require.NoError(t, err)
	assert.Equal(t, PhaseObserve, target)

	target, err = resolveRollback(cfg, PhaseAct, "boom")
	require.NoError(t, err)
	assert.Equal(t, PhaseOrient, target)

	_, err = resolveRollback(cfg, PhaseObserve, "boom")
	assert.Error(t, err, "Observe has no predecessor")
}

func TestResolveRollback_SpecificPhase(t *testing.T) {
	cfg := Config{Rollback: RollbackSpecific, SpecificTarget: PhaseOrient}
	target, err := resolveRollback(cfg, PhaseAct, "anything")
	require.NoError(t, err)
	assert.Equal(t, PhaseOrient, target)
}

func TestResolveRollback_IntelligentErrorSubstringWins(t *testing.T) {
	cfg := Config{Rollback: RollbackIntelligent}

	target, err := resolveRollback(cfg, PhaseAct, "Insufficient Data to proceed")
	require.NoError(t, err)
	assert.Equal(t, PhaseObserve, target, "insufficient data always rolls back to Observe regardless of failed phase")

	target, err = resolveRollback(cfg, PhaseDecide, "threat intel lookup failed")
	require.NoError(t, err)
	assert.Equal(t, PhaseOrient, target)
}

func TestResolveRollback_IntelligentPhaseDefault(t *testing.T) {
	cfg := Config{Rollback: RollbackIntelligent}

	target, err := resolveRollback(cfg, PhaseOrient, "some unrelated error")
	require.NoError(t, err)
	assert.Equal(t, PhaseObserve, target)

	target, err = resolveRollback(cfg, PhaseDecide, "some unrelated error")
	require.NoError(t, err)
	assert.Equal(t, PhaseOrient, target)

	target, err = resolveRollback(cfg, PhaseAct, "some unrelated error")
	require.NoError(t, err)
	assert.Equal(t, PhaseOrient, target)
}
