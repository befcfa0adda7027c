package joiner

import (
	"fmt"
	"strings"

	"github.com/sentinelai/engine/pkg/scheduler"
)

// defaultJoinerSystemPrompt is the humanized decision-assistant prompt used
// when no chain-level override is configured. It asks for a free-form
// [THINKING] section followed by a machine-parseable [DECISION] block,
// matching the response shape decisionFromText expects.
const defaultJoinerSystemPrompt = `You are a careful analyst reviewing the results of an automated investigation. Your job is to decide whether enough has been learned to answer the user's question, or whether another round of work is needed.

Think through the evidence in your own words first, then give a precise decision.

Response format:

[THINKING]
(your reasoning about what was found and whether it answers the question)

[DECISION]
` + "```json" + `
{
  "decision": "COMPLETE" or "CONTINUE",
  "response": "the answer to give the user (only when COMPLETE)",
  "feedback": "why more work is needed (only when CONTINUE)",
  "suggested_tasks": [],
  "confidence": 0.9
}
` + "```"

// goalCompletionSystemPrompt asks for a single completion score, no
// decision — used for signal 2 (goal_completion).
const goalCompletionSystemPrompt = `You are a strict results evaluator. Judge whether the given results are sufficient to answer the original question.
Reason privately, then output only a single decimal number between 0 and 1 representing completeness. Output nothing else.`

func buildGoalCompletionUserPrompt(query string, outputs []map[string]any) string {
	var b strings.Builder
	b.WriteString("Original question: ")
	b.WriteString(query)
	b.WriteString("\n\nResults so far:\n")
	for i, o := range outputs {
		fmt.Fprintf(&b, "Result %d: %v\n", i+1, o)
	}
	b.WriteString("\nReturn only the completeness score (0-1).")
	return b.String()
}

func buildAIDecisionUserPrompt(query string, plan *scheduler.Plan, results []*scheduler.TaskResult, round, maxIterations int, history string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question:\n%s\n\n", query)
	fmt.Fprintf(&b, "Round: %d/%d\n\n", round, maxIterations)
	b.WriteString("Plan summary:\n")
	b.WriteString(formatPlanSummary(plan))
	b.WriteString("\n\nThis round's results:\n")
	b.WriteString(formatResultsSummary(results))

	if errInfo := formatErrorSummary(results); errInfo != "" {
		b.WriteString("\n\nErrors:\n")
		b.WriteString(errInfo)
	}

	b.WriteString("\n\nPrevious decisions:\n")
	if history == "" {
		b.WriteString("none")
	} else {
		b.WriteString(history)
	}

	b.WriteString("\n\nThink it through, then decide COMPLETE or CONTINUE.")
	return b.String()
}

func formatPlanSummary(plan *scheduler.Plan) string {
	if plan == nil {
		return "(no plan)"
	}
	return fmt.Sprintf("name=%s version=%s tasks=%d", plan.Name, plan.Version, len(plan.Nodes))
}

func formatResultsSummary(results []*scheduler.TaskResult) string {
	var b strings.Builder
	for _, r := range results {
		status := "? unknown"
		switch r.Status {
		case scheduler.TaskCompleted:
			status = "done"
		case scheduler.TaskFailed:
			status = "failed"
		}
		errText := r.Error
		if errText == "" {
			errText = "no error"
		}
		fmt.Fprintf(&b, "task %s: %s - %s (%dms)\n", r.TaskID, status, errText, r.DurationMs)
	}
	return b.String()
}

func formatErrorSummary(results []*scheduler.TaskResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Status == scheduler.TaskFailed && r.Error != "" {
			fmt.Fprintf(&b, "task %s: %s\n", r.TaskID, r.Error)
		}
	}
	return b.String()
}

// formatDecisionHistory renders the last few decision records for inclusion
// in the next round's AI-decision prompt, newest last 3 only — matching
// joiner.rs's format_decision_history (take(3)).
func formatDecisionHistory(history []decisionRecord) string {
	if len(history) == 0 {
		return ""
	}
	start := 0
	if len(history) > 3 {
		start = len(history) - 3
	}
	var b strings.Builder
	for _, rec := range history[start:] {
		kind := "Continue"
		if _, ok := rec.Decision.(Complete); ok {
			kind = "Complete"
		}
		fmt.Fprintf(&b, "round %d: %s (confidence %.2f) - %s\n", rec.Round, kind, rec.Confidence, rec.Reason)
	}
	return b.String()
}
