package config

import "time"

// SchedulerConfig contains DAG scheduler (C5) tuning: retry policy, failure
// propagation, and tool-call cache sizing. Mirrors QueueConfig's shape.
type SchedulerConfig struct {
	// MaxTaskRetries is the number of times a failed task is retried before
	// being marked finally failed and triggering failure propagation.
	MaxTaskRetries int `yaml:"max_task_retries"`

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff applied
	// between retries: delay = min(RetryBaseDelay*2^n, RetryMaxDelay) ± 25% jitter.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`

	// FailureStrategy is the default failure-propagation strategy applied
	// when a task exhausts its retries. Individual runs may override it.
	FailureStrategy string `yaml:"failure_strategy"`

	// MaxParallelTasks bounds how many ready tasks fetch_ready will hand out
	// at once; callers enforce their own execution concurrency on top.
	MaxParallelTasks int `yaml:"max_parallel_tasks"`

	// ToolCallCacheSize is the max number of cached tool-call results kept
	// (LRU eviction beyond this).
	ToolCallCacheSize int `yaml:"tool_call_cache_size"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxTaskRetries:    2,
		RetryBaseDelay:    1 * time.Second,
		RetryMaxDelay:     60 * time.Second,
		FailureStrategy:   "fail_fast",
		MaxParallelTasks:  8,
		ToolCallCacheSize: 1000,
	}
}
