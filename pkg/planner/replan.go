package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/config"
	"github.com/sentinelai/engine/pkg/scheduler"
)

// EvaluateReplanNeed implements evaluate_replan_need(plan, snapshot,
// summaries) → {should_replan, reason, progress_score} (C8). planConfidence
// is the confidence the plan was generated with (GlobalConfigConfidence).
// cfg may be nil, in which case config.DefaultPlannerConfig's window sizes
// and threshold apply.
func EvaluateReplanNeed(plan *scheduler.Plan, snapshot Snapshot, planConfidence float64, cfg *config.PlannerConfig) ReplanEvaluation {
	if cfg == nil {
		cfg = config.DefaultPlannerConfig()
	}
	progress := progressScore(snapshot)

	if reason, ok := missingCapabilityReason(snapshot); ok {
		return ReplanEvaluation{ShouldReplan: true, Reason: reason, ProgressScore: progress}
	}

	if reason, ok := repeatedFailuresReason(snapshot, cfg.RepeatedFailureWindow); ok {
		return ReplanEvaluation{ShouldReplan: true, Reason: reason, ProgressScore: progress}
	}

	if reason, ok := stuckNoProgressReason(snapshot, cfg.StagnationWindow); ok {
		return ReplanEvaluation{ShouldReplan: true, Reason: reason, ProgressScore: progress}
	}

	if planConfidence > 0 && planConfidence < cfg.LowConfidenceThreshold {
		return ReplanEvaluation{ShouldReplan: true, Reason: ReasonLowConfidence, ProgressScore: progress}
	}

	return ReplanEvaluation{ShouldReplan: false, Reason: ReasonNone, ProgressScore: progress}
}

// progressScore is completed/total averaged across all rounds in the
// snapshot, the same ratio stuckNoProgressReason checks for flatness.
func progressScore(snapshot Snapshot) float64 {
	if len(snapshot.Rounds) == 0 {
		return 0
	}
	var sum float64
	for _, r := range snapshot.Rounds {
		if r.TotalTasks > 0 {
			sum += float64(r.CompletedTasks) / float64(r.TotalTasks)
		}
	}
	return sum / float64(len(snapshot.Rounds))
}

// missingCapabilityReason fires when any round recorded a tool the router
// couldn't resolve.
func missingCapabilityReason(snapshot Snapshot) (ReplanReason, bool) {
	for _, r := range snapshot.Rounds {
		if len(r.MissingTools) > 0 {
			return ReasonMissingCapability, true
		}
	}
	return ReasonNone, false
}

// repeatedFailuresReason fires when the last window rounds all failed with
// similar-looking errors (same first word, a cheap proxy for "same error
// class" without a full similarity metric).
func repeatedFailuresReason(snapshot Snapshot, window int) (ReplanReason, bool) {
	if window <= 0 || len(snapshot.Rounds) < window {
		return ReasonNone, false
	}
	recent := snapshot.Rounds[len(snapshot.Rounds)-window:]

	var signature string
	for i, r := range recent {
		if r.FailedTasks == 0 || r.CompletedTasks > 0 || len(r.Errors) == 0 {
			return ReasonNone, false
		}
		sig := errorSignature(r.Errors[0])
		if i == 0 {
			signature = sig
		} else if sig != signature {
			return ReasonNone, false
		}
	}
	return ReasonRepeatedFailures, true
}

// errorSignature reduces an error string to its first word, a cheap
// similarity proxy (e.g. "timeout: dial tcp ..." and "timeout: context
// deadline ..." both signature to "timeout:").
func errorSignature(errText string) string {
	fields := strings.Fields(errText)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// stuckNoProgressReason fires when the completed/total ratio stays within
// a narrow band across window consecutive rounds despite tasks still being
// attempted.
func stuckNoProgressReason(snapshot Snapshot, window int) (ReplanReason, bool) {
	if window <= 0 || len(snapshot.Rounds) < window {
		return ReasonNone, false
	}
	recent := snapshot.Rounds[len(snapshot.Rounds)-window:]

	var first float64
	const flatBand = 0.05
	for i, r := range recent {
		if r.TotalTasks == 0 {
			return ReasonNone, false
		}
		ratio := float64(r.CompletedTasks) / float64(r.TotalTasks)
		if i == 0 {
			first = ratio
			continue
		}
		if diff := ratio - first; diff > flatBand || diff < -flatBand {
			return ReasonNone, false
		}
	}
	return ReasonStuckNoProgress, true
}

// Replan implements replan(query, context, snapshot, evaluation) → Plan
// (C8): injects the snapshot (attempted approaches, error history) into
// the prompt so the regenerated plan avoids past unproductive paths.
// Bypasses the plan cache — a replan is, by definition, a response to the
// cached plan no longer being viable.
func (p *Planner) Replan(ctx context.Context, llmCfg LLMConfig, query, planContext string, snapshot Snapshot, eval ReplanEvaluation) (*scheduler.Plan, error) {
	text, err := callLLM(ctx, p.client, &agent.GenerateInput{
		SessionID:   llmCfg.SessionID,
		ExecutionID: llmCfg.ExecutionID,
		Config:      llmCfg.Provider,
		Backend:     llmCfg.Backend,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: replanSystemPrompt(p.cfg.Kind)},
			{Role: agent.RoleUser, Content: buildReplanUserPrompt(query, planContext, snapshot, eval)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("replan LLM call failed: %w", err)
	}

	raw, err := parsePlanJSON(text)
	if err != nil {
		return nil, fmt.Errorf("replan response did not parse: %w", err)
	}

	plan := toSchedulerPlan(raw, p.cfg.Kind)
	p.cache.put(query, planContext, plan)
	return plan, nil
}
