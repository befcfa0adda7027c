package joiner

import (
	"fmt"

	"github.com/sentinelai/engine/pkg/config"
	"github.com/sentinelai/engine/pkg/scheduler"
)

// signalSet bundles the round's five computed/extracted signals before
// synthesis, the Go-side equivalent of joiner.rs's tuple of analysis
// results threaded through synthesize_decision.
type signalSet struct {
	metrics        basicMetrics
	goalCompletion float64
	efficiency     float64
	risk           riskAssessment
	ai             *aiDecision // nil if the AI-decision call failed or was skipped
	round          int
	totalElapsedMs int64
}

// synthesizeDecision combines the round's signals into a final Decision,
// applying spec.md §4.6's threshold list in order. Any one matching
// threshold is enough to complete; none matching continues. Mirrors
// joiner.rs's synthesize_decision, which checks the same conditions in the
// same order and short-circuits on the first match.
func synthesizeDecision(cfg *config.JoinerConfig, s signalSet) Decision {
	reason, complete := decideCompletion(cfg, s)
	confidence := calculateConfidence(s, complete)

	if complete {
		response := ""
		if s.ai != nil && s.ai.Response != "" {
			response = s.ai.Response
		} else {
			response = fmt.Sprintf("Investigation complete: %s", reason)
		}
		return Complete{
			Response:   response,
			Confidence: confidence,
			Summary:    buildExecutionSummary(s),
		}
	}

	feedback := reason
	var suggested []*scheduler.TaskNode
	if s.ai != nil {
		if s.ai.Feedback != "" {
			feedback = s.ai.Feedback
		}
		suggested = s.ai.SuggestedTasks
	}

	return Continue{
		Feedback:       feedback,
		SuggestedTasks: suggested,
		Confidence:     confidence,
	}
}

// decideCompletion applies the threshold list and returns whether the round
// should complete along with a human-readable reason for the decision taken.
func decideCompletion(cfg *config.JoinerConfig, s signalSet) (reason string, complete bool) {
	switch {
	case s.round >= cfg.MaxIterations:
		return "maximum iterations reached", true

	case s.goalCompletion >= cfg.GoalCompletionThreshold:
		return "goal completion threshold met", true

	case s.goalCompletion >= cfg.PartialCompletionThreshold && s.round >= cfg.PartialCompletionMinRound:
		return "partial completion sustained across rounds", true

	case s.metrics.SuccessRate < cfg.LowSuccessRateThreshold && s.metrics.TotalTasks > 0:
		return "success rate too low to continue productively", true

	case s.risk.OverallRisk > cfg.HighRiskThreshold:
		return "continuation risk too high", true

	case s.metrics.SuccessRate >= cfg.HighSuccessRateThreshold && s.round >= cfg.HighSuccessMinRound:
		return "sustained high success rate", true

	case s.ai != nil && s.ai.Complete:
		return "AI decision", true

	default:
		if s.ai != nil && s.ai.Feedback != "" {
			return s.ai.Feedback, false
		}
		return "more evidence needed", false
	}
}

// calculateConfidence blends the AI's self-reported confidence (when
// available) with point additions for corroborating signals, mirroring
// joiner.rs's calculate_decision_confidence: the AI confidence anchors the
// score, and each signal that agrees with the final decision nudges it up.
func calculateConfidence(s signalSet, complete bool) float64 {
	confidence := 0.5
	if s.ai != nil {
		confidence = s.ai.Confidence
	}

	if complete {
		if s.goalCompletion >= 0.7 {
			confidence += 0.15
		}
		if s.metrics.SuccessRate >= 0.9 {
			confidence += 0.1
		}
		if s.risk.OverallRisk < 0.3 {
			confidence += 0.05
		}
	} else {
		if s.goalCompletion < 0.3 {
			confidence += 0.1
		}
		if s.risk.OverallRisk > 0.5 {
			confidence += 0.1
		}
	}

	return clamp01(confidence)
}

// buildExecutionSummary aggregates the round's metrics into the summary
// attached to a Complete decision.
func buildExecutionSummary(s signalSet) ExecutionSummary {
	var avgParallelism float64
	if s.round > 0 {
		avgParallelism = float64(s.metrics.TotalTasks) / float64(s.round)
	}

	return ExecutionSummary{
		TotalTasks:      s.metrics.TotalTasks,
		SuccessfulTasks: s.metrics.CompletedTasks,
		FailedTasks:     s.metrics.FailedTasks,
		TotalDurationMs: s.totalElapsedMs,
		EfficiencyMetrics: EfficiencyMetrics{
			AverageParallelism:    avgParallelism,
			ResourceUtilization:   s.efficiency,
			TaskSuccessRate:       s.metrics.SuccessRate,
			AverageTaskDurationMs: s.metrics.AvgDuration,
		},
	}
}
