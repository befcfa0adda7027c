package joiner

import (
	"strconv"
	"strings"

	"github.com/sentinelai/engine/pkg/scheduler"
)

// computeBasicMetrics is signal 1: totals, success rate, total/avg duration.
func computeBasicMetrics(results []*scheduler.TaskResult) basicMetrics {
	var completed, failed int
	var totalDuration int64
	for _, r := range results {
		switch r.Status {
		case scheduler.TaskCompleted:
			completed++
		case scheduler.TaskFailed:
			failed++
		}
		totalDuration += r.DurationMs
	}

	total := len(results)
	var successRate, avgDuration float64
	if total > 0 {
		successRate = float64(completed) / float64(total)
		avgDuration = float64(totalDuration) / float64(total)
	}

	return basicMetrics{
		TotalTasks:     total,
		CompletedTasks: completed,
		FailedTasks:    failed,
		SuccessRate:    successRate,
		TotalDuration:  totalDuration,
		AvgDuration:    avgDuration,
	}
}

// computeEfficiencyScore is signal 3: completed / (round * total_time_s).
func computeEfficiencyScore(metrics basicMetrics, round int) float64 {
	if round <= 0 || metrics.TotalDuration <= 0 {
		return 0
	}
	totalTimeSeconds := float64(metrics.TotalDuration) / 1000.0
	return float64(metrics.CompletedTasks) / (float64(round) * totalTimeSeconds)
}

// computeRisk is signal 4: a weighted blend of round exhaustion, failure
// rate, and elapsed time, clipped to 1. totalElapsedMs is the cumulative
// duration across all rounds so far, not just this round's.
func computeRisk(round, maxIterations int, metrics basicMetrics, totalElapsedMs int64) riskAssessment {
	var roundRisk float64
	if maxIterations <= 0 || round >= maxIterations {
		roundRisk = 1.0
	} else {
		roundRisk = float64(round) / float64(maxIterations)
	}

	var failureRisk float64
	if metrics.TotalTasks > 0 {
		failureRisk = float64(metrics.FailedTasks) / float64(metrics.TotalTasks)
	}

	const timeRiskCeilingMs = 300_000 // 5 minutes
	timeRisk := float64(totalElapsedMs) / timeRiskCeilingMs
	if timeRisk > 1.0 {
		timeRisk = 1.0
	}

	overall := roundRisk*0.4 + failureRisk*0.3 + timeRisk*0.3
	if overall > 1.0 {
		overall = 1.0
	}

	return riskAssessment{
		RoundRisk:   roundRisk,
		FailureRisk: failureRisk,
		TimeRisk:    timeRisk,
		OverallRisk: overall,
	}
}

// domainOutputKeys are the result-output keys the heuristic goal-completion
// fallback treats as evidence of substantive progress, grouped by the
// weight they contribute when present on at least one completed task.
var domainFindingKeys = []string{"vulnerabilities", "open_ports", "subdomains", "urls_found"}
var domainScanKeys = []string{"scan_results", "scanned_ports", "closed_ports", "scan_summary", "execution_success"}

// heuristicGoalCompletion estimates goal completion from completed tasks'
// output shape when the LLM-based estimate (parseGoalCompletionScore) is
// unavailable, e.g. the LLM call failed. Mirrors
// IntelligentJoiner::heuristic_completion_estimate's three-factor blend.
func heuristicGoalCompletion(results []*scheduler.TaskResult) float64 {
	var score float64
	var factors int

	for _, r := range results {
		if r.Status != scheduler.TaskCompleted {
			continue
		}
		if hasAnyKey(r.Outputs, domainFindingKeys) {
			score += 0.3
			factors++
		}
		if hasAnyKey(r.Outputs, domainScanKeys) {
			score += 0.4
			factors++
		}
		if truthy(r.Outputs["success"]) || truthy(r.Outputs["execution_success"]) {
			score += 0.3
			factors++
		}
	}

	if factors == 0 {
		if hasCompleted(results) {
			return 0.3 // output present but of unknown quality
		}
		return 0.0
	}
	result := score / float64(factors)
	if result > 1.0 {
		return 1.0
	}
	return result
}

func hasCompleted(results []*scheduler.TaskResult) bool {
	for _, r := range results {
		if r.Status == scheduler.TaskCompleted {
			return true
		}
	}
	return false
}

func hasAnyKey(outputs map[string]any, keys []string) bool {
	for _, k := range keys {
		if v, ok := outputs[k]; ok && v != nil {
			if arr, isArr := v.([]any); isArr && len(arr) == 0 {
				continue
			}
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// parseGoalCompletionScore parses the LLM's goal-completion response,
// tolerating markdown code fences, a bare decimal, or a score embedded in a
// line of prose ("Score: 0.8"). Mirrors joiner.rs's
// strip_markdown_fences/parse_completion_score two-stage tolerance.
func parseGoalCompletionScore(text string) (float64, error) {
	cleaned := stripMarkdownFences(text)

	if score, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64); err == nil {
		return clamp01(score), nil
	}

	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		if score, err := strconv.ParseFloat(line, 64); err == nil {
			return clamp01(score), nil
		}
		for _, word := range strings.Fields(line) {
			trimmed := strings.TrimFunc(word, func(r rune) bool {
				return !isDigitOrDot(r)
			})
			if trimmed == "" {
				continue
			}
			if score, err := strconv.ParseFloat(trimmed, 64); err == nil {
				return clamp01(score), nil
			}
		}
	}

	return 0, errNoScoreFound
}

func isDigitOrDot(r rune) bool {
	return (r >= '0' && r <= '9') || r == '.'
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "```json"):
		text = strings.TrimPrefix(text, "```json")
	case strings.HasPrefix(text, "```"):
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
