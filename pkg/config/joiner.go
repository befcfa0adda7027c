package config

// JoinerConfig contains Joiner/Decision (C6) tuning: the thresholds the
// synthesis step applies when combining goal-completion, success-rate, and
// risk signals into a Complete/Continue decision. Mirrors SchedulerConfig's
// shape.
type JoinerConfig struct {
	// MaxIterations is the round at which the joiner forces Complete
	// regardless of other signals.
	MaxIterations int `yaml:"max_iterations"`

	// GoalCompletionThreshold is the goal-completion score (0-1) above which
	// the joiner completes outright.
	GoalCompletionThreshold float64 `yaml:"goal_completion_threshold"`

	// PartialCompletionThreshold is the lower goal-completion score that,
	// combined with PartialCompletionMinRound, also triggers Complete.
	PartialCompletionThreshold float64 `yaml:"partial_completion_threshold"`
	PartialCompletionMinRound  int     `yaml:"partial_completion_min_round"`

	// LowSuccessRateThreshold completes early when the round's success rate
	// falls below it (further rounds are unlikely to help).
	LowSuccessRateThreshold float64 `yaml:"low_success_rate_threshold"`

	// HighRiskThreshold completes when the combined risk score exceeds it.
	HighRiskThreshold float64 `yaml:"high_risk_threshold"`

	// HighSuccessRateThreshold, combined with HighSuccessMinRound, completes
	// once a chain has sustained a high success rate for long enough.
	HighSuccessRateThreshold float64 `yaml:"high_success_rate_threshold"`
	HighSuccessMinRound      int     `yaml:"high_success_min_round"`
}

// DefaultJoinerConfig returns the built-in joiner defaults, matching the
// thresholds spec.md §4.6 names.
func DefaultJoinerConfig() *JoinerConfig {
	return &JoinerConfig{
		MaxIterations:              10,
		GoalCompletionThreshold:    0.7,
		PartialCompletionThreshold: 0.5,
		PartialCompletionMinRound:  3,
		LowSuccessRateThreshold:    0.3,
		HighRiskThreshold:          0.8,
		HighSuccessRateThreshold:   0.9,
		HighSuccessMinRound:        2,
	}
}
