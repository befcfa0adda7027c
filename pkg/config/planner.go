package config

import "time"

// PlannerConfig contains planner/re-planning (C7/C8) tuning: which
// planner prompt kind is active by default, plan cache sizing, and the
// re-planning heuristics' window sizes. Mirrors SchedulerConfig's shape.
type PlannerConfig struct {
	// DefaultKind selects the planner prompt used when a chain doesn't
	// specify one: "ooda_observe", "rewoo", or "plan_and_execute".
	DefaultKind string `yaml:"default_kind"`

	// CacheEnabled toggles the (sha256(query) ⨁ sha256(context))-keyed plan
	// cache.
	CacheEnabled bool `yaml:"cache_enabled"`

	// CacheSize is the max number of cached plans kept (LRU eviction beyond
	// this).
	CacheSize int `yaml:"cache_size"`

	// CacheTTL bounds how long a cached plan remains valid.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// RepeatedFailureWindow is how many consecutive same-signature failed
	// rounds trigger a RepeatedFailures replan reason.
	RepeatedFailureWindow int `yaml:"repeated_failure_window"`

	// StagnationWindow is how many consecutive rounds with a flat
	// completed/total ratio trigger a StuckNoProgress replan reason.
	StagnationWindow int `yaml:"stagnation_window"`

	// LowConfidenceThreshold is the plan-generation confidence below which
	// a replan is triggered outright.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

// DefaultPlannerConfig returns the built-in planner defaults.
func DefaultPlannerConfig() *PlannerConfig {
	return &PlannerConfig{
		DefaultKind:            "plan_and_execute",
		CacheEnabled:           true,
		CacheSize:              256,
		CacheTTL:               10 * time.Minute,
		RepeatedFailureWindow:  3,
		StagnationWindow:       3,
		LowConfidenceThreshold: 0.3,
	}
}
