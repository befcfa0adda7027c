package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/messages"
)

// runOneAttempt drains one LLM streaming call, handling every chunk kind
// spec.md §4.4 lists, and returns the collected assistant text. Tool calls
// are executed synchronously as they complete — agent.ToolCallChunk arrives
// as a single already-complete event (the LLM providers wired so far don't
// stream individual tool-call arg deltas), so this method itself synthesizes
// the ToolCallStart → ToolCallDelta → ToolCallComplete event sequence around
// each one, rather than relaying a native delta stream.
func (e *Executor) runOneAttempt(ctx context.Context, req RunRequest, history []agent.ConversationMessage, state *attemptState) (string, agent.TokenUsage, error) {
	input := &agent.GenerateInput{
		SessionID:   req.ConversationID,
		ExecutionID: req.ExecutionID,
		Messages:    buildMessages(req.SystemPrompt, req.Task, history),
		Config:      req.Config,
		Tools:       req.Tools,
		Backend:     req.Backend,
		Image:       req.Image,
	}

	stream, err := e.llm.Generate(ctx, input)
	if err != nil {
		return "", agent.TokenUsage{}, fmt.Errorf("LLM Generate failed: %w", err)
	}

	var usage agent.TokenUsage
	var textBuf strings.Builder
	lastLoopCheck := 0

	for chunk := range stream {
		if req.Cancelled != nil && req.Cancelled() {
			return "", usage, fmt.Errorf("execution cancelled")
		}

		switch c := chunk.(type) {
		case *agent.TextChunk:
			state.mu.Lock()
			state.segmentBuf.WriteString(c.Content)
			msgID := state.messageID
			state.mu.Unlock()
			textBuf.WriteString(c.Content)
			_ = e.emit.EmitText(ctx, req.ConversationID, msgID, c.Content)

			if textBuf.Len()-lastLoopCheck >= loopCheckInterval {
				lastLoopCheck = textBuf.Len()
				if detected, truncAt := detectTextLoop(textBuf.String()); detected {
					return "", usage, &PartialOutputError{
						Cause:       fmt.Errorf("degenerate repetition detected in streamed output"),
						PartialText: textBuf.String()[:truncAt],
						IsLoop:      true,
					}
				}
			}

		case *agent.ThinkingChunk:
			state.mu.Lock()
			state.reasoningBuf.WriteString(c.Content)
			msgID := state.messageID
			state.mu.Unlock()
			_ = e.emit.EmitReasoning(ctx, req.ConversationID, msgID, c.Content)

		case *agent.ToolCallChunk:
			if err := e.handleToolCall(ctx, req, state, c); err != nil {
				return "", usage, err
			}

		case *agent.UsageChunk:
			usage.InputTokens += c.InputTokens
			usage.OutputTokens += c.OutputTokens
			usage.TotalTokens += c.TotalTokens
			usage.ThinkingTokens += c.ThinkingTokens
			_ = e.emit.EmitUsage(ctx, req.ConversationID, c.InputTokens, c.OutputTokens)

		case *agent.ErrorChunk:
			return "", usage, fmt.Errorf("%s", c.Message)

		case *agent.CodeExecutionChunk:
			// Native code-execution output; not part of the tool-call
			// accounting contract, surfaced via EmitMeta for visibility.
			_ = e.emit.EmitMeta(ctx, req.ConversationID, formatCodeExecution(c))

		case *agent.GroundingChunk:
			_ = e.emit.EmitMeta(ctx, req.ConversationID, formatGrounding(c))
		}
	}

	_ = e.emit.EmitDone(ctx, req.ConversationID)

	// Drop segment_buffer: the final response is persisted once by Run's
	// caller-visible save step, not here, matching the Rust original's
	// Done-handler comment about avoiding a duplicate assistant message.
	state.mu.Lock()
	state.segmentBuf.Reset()
	state.mu.Unlock()

	return textBuf.String(), usage, nil
}

// handleToolCall synthesizes the full tool-call event lifecycle around one
// already-complete agent.ToolCallChunk, executes the tool, and persists both
// the flushed text segment that preceded it and the tool message itself —
// grounded in run_with_tools.rs's ToolCallComplete/ToolResult handlers.
func (e *Executor) handleToolCall(ctx context.Context, req RunRequest, state *attemptState, c *agent.ToolCallChunk) error {
	count := int(atomic.AddInt32(&state.toolCallCounter, 1))
	_ = e.emit.EmitToolCallStart(ctx, req.ConversationID, c.CallID, c.Name)

	if req.Intervention != nil {
		reviewer := req.Intervention
		ictx := InterventionContext{
			ExecutionID:   req.ExecutionID,
			Task:          req.Task,
			ToolCallCount: count,
			CurrentText:   fmt.Sprintf("Preparing to call tool: %s", c.Name),
		}
		go func() {
			warning, ok, err := reviewer.QuickReview(context.Background(), ictx)
			if err != nil || !ok {
				return
			}
			_ = e.emit.EmitTenthManWarning(context.Background(), c.CallID, c.Name, warning)
		}()
	}

	// ToolCallChunk arrives whole — the "delta" we relay is the complete
	// argument string, there being no native incremental stream to pass
	// through.
	_ = e.emit.EmitToolCallDelta(ctx, req.ConversationID, c.CallID, c.Arguments)

	state.mu.Lock()
	seq := state.toolSeq
	state.toolSeq++
	startedAtMs := e.monotonicMs() + int64(seq)
	state.pending[c.CallID] = &pendingCall{Name: c.Name, Args: c.Arguments, StartedAtMs: startedAtMs, Seq: seq}

	segment := strings.TrimSpace(state.segmentBuf.String())
	state.segmentBuf.Reset()
	reasoning := state.reasoningBuf.String()
	segmentMsgID := state.messageID
	state.messageID = uuid.NewString() // any text after this tool call belongs to a new segment
	state.mu.Unlock()

	_ = e.emit.EmitToolCallComplete(ctx, req.ConversationID, c.CallID, c.Name, c.Arguments)

	// Flush the assistant segment BEFORE the tool message, timestamped
	// strictly earlier, so replay never reorders them.
	if segment != "" {
		e.store.Upsert(&messages.Message{
			ID:               segmentMsgID,
			ConversationID:   req.ConversationID,
			ExecutionID:      req.ExecutionID,
			Role:             messages.RoleAssistant,
			Content:          segment,
			ReasoningContent: reasoning, // empty string is still set, some providers require the field
			TimestampMs:      e.clock.Before(startedAtMs),
		})
	}

	e.store.Upsert(&messages.Message{
		ID:             c.CallID,
		ConversationID: req.ConversationID,
		ExecutionID:    req.ExecutionID,
		Role:           messages.RoleTool,
		ToolCallID:     c.CallID,
		ToolName:       c.Name,
		TimestampMs:    startedAtMs,
		Metadata: map[string]any{
			messages.MetaKind:        messages.KindToolCall,
			messages.MetaToolName:    c.Name,
			messages.MetaToolArgs:    decodeArgs(c.Arguments),
			messages.MetaStatus:      messages.StatusRunning,
			messages.MetaSequence:    seq,
			messages.MetaStartedAtMs: startedAtMs,
		},
	})

	result, execErr := e.tools.Execute(ctx, agent.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})

	var resultText string
	var isError bool
	if execErr != nil {
		resultText = execErr.Error()
		isError = true
	} else {
		resultText = result.Content
		isError = result.IsError
	}
	success := !isError && !strings.Contains(strings.ToLower(resultText), "error")
	completedAtMs := e.monotonicMs()
	durationMs := completedAtMs - startedAtMs

	state.mu.Lock()
	delete(state.pending, c.CallID)
	state.completed = append(state.completed, ToolCallRecord{
		ID:            c.CallID,
		Name:          c.Name,
		Arguments:     c.Arguments,
		Result:        resultText,
		Success:       success,
		Sequence:      seq,
		StartedAtMs:   startedAtMs,
		CompletedAtMs: completedAtMs,
		DurationMs:    durationMs,
	})
	state.mu.Unlock()

	e.store.Upsert(&messages.Message{
		ID:             c.CallID,
		ConversationID: req.ConversationID,
		ExecutionID:    req.ExecutionID,
		Role:           messages.RoleTool,
		ToolCallID:     c.CallID,
		ToolName:       c.Name,
		TimestampMs:    startedAtMs,
		Metadata: map[string]any{
			messages.MetaKind:          messages.KindToolCall,
			messages.MetaToolName:      c.Name,
			messages.MetaToolArgs:      decodeArgs(c.Arguments),
			messages.MetaStatus:        messages.StatusCompleted,
			messages.MetaSequence:      seq,
			messages.MetaStartedAtMs:   startedAtMs,
			messages.MetaCompletedAtMs: completedAtMs,
			messages.MetaDurationMs:    durationMs,
			messages.MetaToolResult:    resultText,
			messages.MetaSuccess:       success,
		},
	})

	_ = e.emit.EmitToolResult(ctx, req.ConversationID, c.CallID, c.Name, resultText, success)
	return nil
}

func decodeArgs(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]any{"raw": raw}
	}
	return v
}

func formatCodeExecution(c *agent.CodeExecutionChunk) string {
	return fmt.Sprintf("code_execution: %s\nresult: %s", c.Code, c.Result)
}

func formatGrounding(c *agent.GroundingChunk) string {
	var b strings.Builder
	b.WriteString("grounding sources:")
	for _, s := range c.Sources {
		b.WriteString(" ")
		b.WriteString(s.Title)
		b.WriteString(" <")
		b.WriteString(s.URI)
		b.WriteString(">")
	}
	return b.String()
}

// buildMessages assembles the GenerateInput.Messages slice: an optional
// system message, the prior history, and the current task as the trailing
// user message.
func buildMessages(systemPrompt, task string, history []agent.ConversationMessage) []agent.ConversationMessage {
	out := make([]agent.ConversationMessage, 0, len(history)+2)
	if systemPrompt != "" {
		out = append(out, agent.ConversationMessage{Role: agent.RoleSystem, Content: systemPrompt})
	}
	out = append(out, history...)
	out = append(out, agent.ConversationMessage{Role: agent.RoleUser, Content: task})
	return out
}
