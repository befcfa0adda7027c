package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/events"
	"github.com/sentinelai/engine/pkg/models"
)

// accumulateUsage adds resp's token usage onto a running total, used across
// controllers to report cumulative usage for a multi-iteration execution.
func accumulateUsage(total *agent.TokenUsage, resp *LLMResponse) {
	if resp == nil || resp.Usage == nil {
		return
	}
	accumulateTokenUsage(total, resp.Usage)
}

func accumulateTokenUsage(total *agent.TokenUsage, usage *agent.TokenUsage) {
	if usage == nil {
		return
	}
	total.InputTokens += usage.InputTokens
	total.OutputTokens += usage.OutputTokens
	total.TotalTokens += usage.TotalTokens
	total.ThinkingTokens += usage.ThinkingTokens
}

// recordLLMInteraction persists a debug record of a single LLM call and
// publishes interaction.created for trace-view live updates. Best-effort:
// logs and returns on failure rather than aborting the iteration loop.
func recordLLMInteraction(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	iteration int,
	interactionType string,
	messagesCount int,
	resp *LLMResponse,
	lastMessageID *string,
	startTime time.Time,
) {
	durationMs := int(time.Since(startTime).Milliseconds())

	var thinkingContentPtr *string
	var inputTokens, outputTokens, totalTokens *int
	textLen := 0
	toolCallCount := 0
	if resp != nil {
		textLen = len(resp.Text)
		toolCallCount = len(resp.ToolCalls)
		if resp.ThinkingText != "" {
			thinking := resp.ThinkingText
			thinkingContentPtr = &thinking
		}
		if resp.Usage != nil {
			inputTokens = &resp.Usage.InputTokens
			outputTokens = &resp.Usage.OutputTokens
			totalTokens = &resp.Usage.TotalTokens
		}
	}

	interaction, err := execCtx.Services.Interaction.CreateLLMInteraction(ctx, models.CreateLLMInteractionRequest{
		SessionID:       execCtx.SessionID,
		StageID:         &execCtx.StageID,
		ExecutionID:     &execCtx.ExecutionID,
		InteractionType: interactionType,
		ModelName:       execCtx.Config.LLMProvider.Model,
		LastMessageID:   lastMessageID,
		LLMRequest: map[string]any{
			"messages_count": messagesCount,
			"iteration":      iteration,
		},
		LLMResponse: map[string]any{
			"text_length":      textLen,
			"tool_calls_count": toolCallCount,
		},
		ThinkingContent: thinkingContentPtr,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		TotalTokens:     totalTokens,
		DurationMs:      &durationMs,
	})
	if err != nil {
		slog.Error("Failed to record LLM interaction",
			"session_id", execCtx.SessionID, "execution_id", execCtx.ExecutionID, "error", err)
		return
	}

	publishInteractionCreated(ctx, execCtx, interaction.ID, events.InteractionTypeLLM)
}

// publishExecutionProgress broadcasts a transient execution.progress event
// for per-agent progress display. Not persisted — nil-safe and best-effort.
func publishExecutionProgress(ctx context.Context, execCtx *agent.ExecutionContext, phase, message string) {
	if execCtx.EventPublisher == nil {
		return
	}
	if err := execCtx.EventPublisher.PublishExecutionProgress(ctx, execCtx.SessionID, events.ExecutionProgressPayload{
		BasePayload: events.BasePayload{
			Type:      events.EventTypeExecutionProgress,
			SessionID: execCtx.SessionID,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
		StageID:     execCtx.StageID,
		ExecutionID: execCtx.ExecutionID,
		Phase:       phase,
		Message:     message,
	}); err != nil {
		slog.Warn("Failed to publish execution progress",
			"session_id", execCtx.SessionID, "phase", phase, "error", err)
	}
}

// publishInteractionCreated broadcasts interaction.created for trace-view
// live updates after an LLM or MCP interaction record is persisted.
func publishInteractionCreated(ctx context.Context, execCtx *agent.ExecutionContext, interactionID, interactionType string) {
	if execCtx.EventPublisher == nil {
		return
	}
	if err := execCtx.EventPublisher.PublishInteractionCreated(ctx, execCtx.SessionID, events.InteractionCreatedPayload{
		BasePayload: events.BasePayload{
			Type:      events.EventTypeInteractionCreated,
			SessionID: execCtx.SessionID,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
		StageID:         execCtx.StageID,
		ExecutionID:     execCtx.ExecutionID,
		InteractionID:   interactionID,
		InteractionType: interactionType,
	}); err != nil {
		slog.Warn("Failed to publish interaction created",
			"session_id", execCtx.SessionID, "interaction_id", interactionID, "error", err)
	}
}

// isTimeoutError reports whether err represents an operation timing out,
// either via context.DeadlineExceeded or a provider error string that names
// a timeout.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out")
}

func generateCallID() string {
	return uuid.New().String()
}

func buildToolNameSet(tools []agent.ToolDefinition) map[string]bool {
	set := make(map[string]bool, len(tools))
	for _, t := range tools {
		set[t.Name] = true
	}
	return set
}

// failedResult builds an ExecutionResult for an iteration loop that ran out
// of budget or hit an unrecoverable error without ever reaching a final
// answer.
func failedResult(state *agent.IterationState, totalUsage agent.TokenUsage) *agent.ExecutionResult {
	return &agent.ExecutionResult{
		Status:     agent.ExecutionStatusFailed,
		Error:      errors.New(state.LastErrorMessage),
		TokensUsed: totalUsage,
	}
}

func tokenUsageFromResp(resp *LLMResponse) agent.TokenUsage {
	if resp == nil || resp.Usage == nil {
		return agent.TokenUsage{}
	}
	return *resp.Usage
}
