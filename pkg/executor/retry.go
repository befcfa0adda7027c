package executor

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/messages"
)

// buildRetryHistory rebuilds the message history for a retry attempt,
// grounded directly in run_with_tools.rs's `build_retry_history` closure:
// dedupe the accumulated tool calls by id (first write wins), sort by
// sequence, replay them as one synthetic assistant tool-call message
// followed by one tool-result message per call, then append the
// accumulated plain-text output as a trailing assistant message.
func buildRetryHistory(base []agent.ConversationMessage, accumulated []ToolCallRecord, accumulatedOutput string, attempt int) []agent.ConversationMessage {
	history := append([]agent.ConversationMessage(nil), base...)
	if attempt == 0 {
		return history
	}

	seen := make(map[string]ToolCallRecord, len(accumulated))
	order := make([]string, 0, len(accumulated))
	for _, call := range accumulated {
		if _, ok := seen[call.ID]; !ok {
			order = append(order, call.ID)
		}
		seen[call.ID] = call
	}
	ordered := make([]ToolCallRecord, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, seen[id])
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	if len(ordered) > 0 {
		toolCalls := make([]agent.ToolCall, 0, len(ordered))
		for _, call := range ordered {
			toolCalls = append(toolCalls, agent.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		}
		history = append(history, agent.ConversationMessage{Role: agent.RoleAssistant, ToolCalls: toolCalls})

		for _, call := range ordered {
			if call.Result != "" {
				history = append(history, agent.ConversationMessage{
					Role:       agent.RoleTool,
					Content:    call.Result,
					ToolCallID: call.ID,
					ToolName:   call.Name,
				})
			}
		}
	}

	if trimmed := strings.TrimSpace(accumulatedOutput); trimmed != "" {
		history = append(history, agent.ConversationMessage{Role: agent.RoleAssistant, Content: accumulatedOutput})
	}

	return history
}

// saveFinalAssistantMessage persists the turn's canonical assistant message
// — the one carrying the full tool_calls slice and reasoning_content, per
// spec.md §4.4's "save the final assistant message with tool_calls slice
// and reasoning_content".
func (e *Executor) saveFinalAssistantMessage(req RunRequest, messageID, finalOutput string, calls []ToolCallRecord, reasoning string) error {
	toolRefs := make([]messages.ToolCallRef, 0, len(calls))
	for _, c := range calls {
		toolRefs = append(toolRefs, messages.ToolCallRef{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	e.store.Upsert(&messages.Message{
		ID:               messageID,
		ConversationID:   req.ConversationID,
		ExecutionID:      req.ExecutionID,
		Role:             messages.RoleAssistant,
		Content:          finalOutput,
		ReasoningContent: reasoning,
		ToolCalls:        toolRefs,
		TimestampMs:      e.monotonicMs(),
	})
	return nil
}

// runFinalReview runs the optional end-of-run adversarial review ("Tenth
// Man Rule: Adversarial Review" in the original) and stores its critique as
// a system-role message, best-effort — a failed or empty review never fails
// the run.
func (e *Executor) runFinalReview(ctx context.Context, req RunRequest) {
	critique, err := req.FinalReview.ReviewWithHistory(ctx, req.ConversationID)
	if err != nil || strings.TrimSpace(critique) == "" {
		return
	}

	msgID := uuid.NewString()
	e.store.Upsert(&messages.Message{
		ID:             msgID,
		ConversationID: req.ConversationID,
		ExecutionID:    req.ExecutionID,
		Role:           messages.RoleSystem,
		Content:        critique,
		TimestampMs:    e.monotonicMs(),
		Metadata: map[string]any{
			"kind":    "tenth_man_critique",
			"trigger": "final_review",
		},
	})
	_ = e.emit.EmitTenthManCritique(ctx, msgID, critique)
}
