package planner

import (
	"fmt"
	"strings"
)

const planJSONSchema = `Respond with JSON only, no other text:
{
  "steps": [
    { "id": "string", "objective": "string", "sub_agent_kind": "string (optional)", "actions": ["string"], "dependencies": ["string"], "parameters": {} }
  ],
  "reasoning": "string",
  "confidence": 0.0
}`

// systemPromptFor returns the planner kind's system prompt. The three
// kinds share everything but their framing sentence, per spec.md §4.7
// ("they differ in prompt content only").
func systemPromptFor(kind Kind) string {
	var framing string
	switch kind {
	case KindOODAObserve:
		framing = "You are the Observe-phase planner for an OODA security-testing loop. Plan only the reconnaissance steps needed before orientation and decision."
	case KindReWOO:
		framing = "You are a ReWOO-style planner: produce the full worker plan up front, with no intermediate reasoning steps, so it can be executed without further planner calls."
	case KindPlanAndExecute:
		fallthrough
	default:
		framing = "You are a planner for an automated security-testing investigation. Produce a DAG of steps that, executed in dependency order, will answer the user's question."
	}

	return framing + "\n\n" + planJSONSchema
}

func buildUserPrompt(query, context string) string {
	var b strings.Builder
	b.WriteString("Query:\n")
	b.WriteString(query)
	if context != "" {
		b.WriteString("\n\nContext:\n")
		b.WriteString(context)
	}
	return b.String()
}

// replanSystemPrompt extends the base planner prompt with an instruction to
// avoid previously attempted, unproductive paths.
func replanSystemPrompt(kind Kind) string {
	return systemPromptFor(kind) + "\n\nA previous plan for this query did not make sufficient progress. Use the snapshot of what was already tried to produce a materially different plan — do not repeat failed approaches."
}

func buildReplanUserPrompt(query, context string, snapshot Snapshot, eval ReplanEvaluation) string {
	var b strings.Builder
	b.WriteString(buildUserPrompt(query, context))
	b.WriteString("\n\nWhy the previous plan was abandoned: ")
	fmt.Fprintf(&b, "%s (progress score %.2f)\n", eval.Reason, eval.ProgressScore)

	if len(snapshot.Rounds) > 0 {
		b.WriteString("\nPrevious rounds:\n")
		for _, r := range snapshot.Rounds {
			fmt.Fprintf(&b, "round %d: %d/%d tasks completed, %d failed\n", r.Round, r.CompletedTasks, r.TotalTasks, r.FailedTasks)
			for _, e := range r.Errors {
				fmt.Fprintf(&b, "  error: %s\n", e)
			}
		}
	}

	if len(snapshot.AttemptedTools) > 0 {
		fmt.Fprintf(&b, "\nTools already tried: %s\n", strings.Join(snapshot.AttemptedTools, ", "))
	}
	if len(snapshot.AbandonedSteps) > 0 {
		fmt.Fprintf(&b, "Steps abandoned: %s\n", strings.Join(snapshot.AbandonedSteps, ", "))
	}

	return b.String()
}
