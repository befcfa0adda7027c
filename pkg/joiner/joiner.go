package joiner

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/config"
	"github.com/sentinelai/engine/pkg/scheduler"
)

// LLMConfig bundles the resolved LLM connection details a Joiner needs to
// make its goal-completion and AI-decision calls. Deliberately narrower than
// agent.ResolvedAgentConfig: the joiner does not drive a ReAct loop or tool
// calling, so it only needs the provider/backend the agent resolved.
type LLMConfig struct {
	SessionID   string
	ExecutionID string
	Provider    *config.LLMProviderConfig
	Backend     config.LLMBackend
}

// Joiner is the decision component (C6): given a round's scheduled plan and
// task results, it decides whether the investigation should continue or is
// done. One Joiner instance is created per investigation and reused across
// rounds so its decision history accumulates.
type Joiner struct {
	client  agent.LLMClient
	cfg     *config.JoinerConfig
	history []decisionRecord

	totalElapsedMs int64
	replanCount    int
}

// New creates a Joiner. cfg may be nil, in which case config.DefaultJoinerConfig
// is used.
func New(client agent.LLMClient, cfg *config.JoinerConfig) *Joiner {
	if cfg == nil {
		cfg = config.DefaultJoinerConfig()
	}
	return &Joiner{client: client, cfg: cfg}
}

// RecordReplan increments the re-planning counter surfaced in the eventual
// Complete decision's ExecutionSummary. Called by the re-planning engine
// (C8) each time it produces a revised plan.
func (j *Joiner) RecordReplan() {
	j.replanCount++
}

// AnalyzeAndDecide runs the five-signal pipeline for one round and returns a
// Complete or Continue decision. query is the original investigation
// question; plan is the DAG driving this round; results are this round's
// completed/failed task outcomes; round is the 1-based round number.
func (j *Joiner) AnalyzeAndDecide(
	ctx context.Context,
	llmCfg LLMConfig,
	query string,
	plan *scheduler.Plan,
	results []*scheduler.TaskResult,
	round int,
) (Decision, error) {
	metrics := computeBasicMetrics(results)
	j.totalElapsedMs += metrics.TotalDuration

	goalCompletion := j.estimateGoalCompletion(ctx, llmCfg, query, results)
	efficiency := computeEfficiencyScore(metrics, round)
	risk := computeRisk(round, j.cfg.MaxIterations, metrics, j.totalElapsedMs)

	ai, err := j.getAIDecision(ctx, llmCfg, query, plan, results, round)
	if err != nil {
		// The AI decision is advisory: synthesis still works from the other
		// four signals when the call or parse fails.
		ai = nil
	}

	signals := signalSet{
		metrics:        metrics,
		goalCompletion: goalCompletion,
		efficiency:     efficiency,
		risk:           risk,
		ai:             ai,
		round:          round,
		totalElapsedMs: j.totalElapsedMs,
	}

	decision := synthesizeDecision(j.cfg, signals)
	if complete, ok := decision.(Complete); ok {
		complete.Summary.ReplanningCount = j.replanCount
		decision = complete
	}

	j.recordDecision(decision, round, metrics)

	return decision, nil
}

// estimateGoalCompletion asks the LLM to score how completely the results
// answer query, falling back to the heuristic output-shape estimate if the
// call fails or the response doesn't parse.
func (j *Joiner) estimateGoalCompletion(ctx context.Context, llmCfg LLMConfig, query string, results []*scheduler.TaskResult) float64 {
	outputs := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if r.Status == scheduler.TaskCompleted {
			outputs = append(outputs, r.Outputs)
		}
	}

	if j.client == nil {
		return heuristicGoalCompletion(results)
	}

	resp, err := callLLM(ctx, j.client, &agent.GenerateInput{
		SessionID:   llmCfg.SessionID,
		ExecutionID: llmCfg.ExecutionID,
		Config:      llmCfg.Provider,
		Backend:     llmCfg.Backend,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: goalCompletionSystemPrompt},
			{Role: agent.RoleUser, Content: buildGoalCompletionUserPrompt(query, outputs)},
		},
	})
	if err != nil {
		return heuristicGoalCompletion(results)
	}

	score, err := parseGoalCompletionScore(resp.Text)
	if err != nil {
		return heuristicGoalCompletion(results)
	}
	return score
}

// getAIDecision asks the LLM for a direct COMPLETE/CONTINUE verdict,
// returning nil (not an error) when the call cannot produce a parseable
// decision — callers fall back to the threshold-only signals.
func (j *Joiner) getAIDecision(
	ctx context.Context,
	llmCfg LLMConfig,
	query string,
	plan *scheduler.Plan,
	results []*scheduler.TaskResult,
	round int,
) (*aiDecision, error) {
	if j.client == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}

	history := formatDecisionHistory(j.history)

	resp, err := callLLM(ctx, j.client, &agent.GenerateInput{
		SessionID:   llmCfg.SessionID,
		ExecutionID: llmCfg.ExecutionID,
		Config:      llmCfg.Provider,
		Backend:     llmCfg.Backend,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: defaultJoinerSystemPrompt},
			{Role: agent.RoleUser, Content: buildAIDecisionUserPrompt(query, plan, results, round, j.cfg.MaxIterations, history)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("AI decision LLM call failed: %w", err)
	}

	return parseAIDecision(resp.Text)
}

func (j *Joiner) recordDecision(decision Decision, round int, metrics basicMetrics) {
	rec := decisionRecord{
		Timestamp:      time.Now(),
		Decision:       decision,
		Round:          round,
		CompletedTasks: metrics.CompletedTasks,
		FailedTasks:    metrics.FailedTasks,
	}

	switch d := decision.(type) {
	case Complete:
		rec.Reason = d.Response
		rec.Confidence = d.Confidence
	case Continue:
		rec.Reason = d.Feedback
		rec.Confidence = d.Confidence
	}

	j.history = append(j.history, rec)
}
