package config

// OODAConfig contains Orchestrator/OODA controller (C9) tuning: cycle
// bounds and the rollback policy applied on phase failure. Mirrors
// SchedulerConfig's/JoinerConfig's shape.
type OODAConfig struct {
	// MaxCycles bounds how many Observe-Orient-Decide-Act cycles a task may
	// run before the controller gives up and reports MaxCyclesReached.
	MaxCycles int `yaml:"max_cycles"`

	// RollbackPolicy selects the phase-failure recovery strategy:
	// "none", "previous_phase", "specific_phase", or "intelligent".
	RollbackPolicy string `yaml:"rollback_policy"`

	// SpecificPhase names the target phase ("observe", "orient", "decide",
	// "act") when RollbackPolicy is "specific_phase".
	SpecificPhase string `yaml:"specific_phase"`

	// MaxReviewSteps caps how many Plan→Execute→Review steps a plan may
	// run per round of sub-agent dispatch, mirroring the scheduler's own
	// max_concurrency-style backpressure cap.
	MaxConcurrentSteps int `yaml:"max_concurrent_steps"`
}

// DefaultOODAConfig returns the built-in orchestrator defaults.
func DefaultOODAConfig() *OODAConfig {
	return &OODAConfig{
		MaxCycles:          10,
		RollbackPolicy:     "intelligent",
		SpecificPhase:      "observe",
		MaxConcurrentSteps: 4,
	}
}
