package ooda

import (
	"fmt"
	"strings"
)

// resolveRollback implements handle_error_rollback's policy switch: given
// the phase that just failed and its error, decide which phase the cycle
// should resume from. Returns an error when rollback is disabled or
// impossible (failing from Observe with RollbackPrevious), matching
// ooda_executor.rs's own refusal in those cases.
func resolveRollback(cfg Config, failed Phase, errText string) (Phase, error) {
	switch cfg.Rollback {
	case RollbackNone:
		return "", fmt.Errorf("rollback disabled: %s", errText)
	case RollbackPrevious:
		return previousPhase(failed)
	case RollbackSpecific:
		return cfg.SpecificTarget, nil
	case RollbackIntelligent:
		return intelligentTarget(failed, errText), nil
	default:
		return intelligentTarget(failed, errText), nil
	}
}

// previousPhase maps a failed phase to the phase immediately before it in
// the OODA sequence. Observe has no predecessor to roll back to.
func previousPhase(failed Phase) (Phase, error) {
	switch failed {
	case PhaseOrient:
		return PhaseObserve, nil
	case PhaseDecide:
		return PhaseOrient, nil
	case PhaseAct:
		return PhaseOrient, nil
	default:
		return "", fmt.Errorf("cannot rollback from %s phase", failed)
	}
}

// intelligentTarget mirrors determine_rollback_target: error substrings
// take priority over the phase-based default, in the literal order
// ooda_executor.rs checks them.
func intelligentTarget(failed Phase, errText string) Phase {
	lower := strings.ToLower(errText)

	if strings.Contains(lower, "insufficient data") || strings.Contains(lower, "missing information") {
		return PhaseObserve
	}
	if strings.Contains(lower, "analysis failed") || strings.Contains(lower, "threat intel") {
		return PhaseOrient
	}

	switch failed {
	case PhaseOrient:
		return PhaseObserve
	case PhaseDecide, PhaseAct:
		return PhaseOrient
	default:
		return PhaseObserve
	}
}
