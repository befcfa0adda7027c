package registry

import (
	"sync"
	"time"
)

// ToolUsageStats is the read-only view of a tool's accumulated call history,
// supplementing spec.md with the statistics original_source/tool_router.rs
// keeps (TOOL_USAGE_RECORDS) for router tie-breaking and observability.
type ToolUsageStats struct {
	ToolID          string
	CallCount       int64
	SuccessCount    int64
	FailureCount    int64
	TotalDurationMs int64
	LastUsedAt      time.Time
}

// SuccessRate returns the fraction of calls that succeeded, or 0 when the
// tool has never been called.
func (s ToolUsageStats) SuccessRate() float64 {
	if s.CallCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.CallCount)
}

// statsTracker accumulates per-tool usage counters in memory for the
// lifetime of the process.
type statsTracker struct {
	mu    sync.Mutex
	byTool map[string]*ToolUsageStats
}

func newStatsTracker() *statsTracker {
	return &statsTracker{byTool: make(map[string]*ToolUsageStats)}
}

func (t *statsTracker) record(toolID string, success bool, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byTool[toolID]
	if !ok {
		s = &ToolUsageStats{ToolID: toolID}
		t.byTool[toolID] = s
	}
	s.CallCount++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.TotalDurationMs += elapsed.Milliseconds()
	s.LastUsedAt = time.Now()
}

func (t *statsTracker) snapshot() map[string]ToolUsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ToolUsageStats, len(t.byTool))
	for k, v := range t.byTool {
		out[k] = *v
	}
	return out
}

func (t *statsTracker) get(toolID string) (ToolUsageStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byTool[toolID]
	if !ok {
		return ToolUsageStats{}, false
	}
	return *s, true
}
