package messages

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sentinelai/engine/pkg/events"
)

// Emitter is the structured-event-emission half of C3: every method maps
// 1:1 onto one of the event names spec.md §4.3 lists ("chunk", "tool_call_*",
// "plan_info", "retry", "ability_selected", "tools_selected",
// "tenth_man_warning", "tenth_man_critique"), stamping each with a monotonic
// per-execution sequence number as the spec requires ("Each event carries
// execution_id, message_id, optional conversation_id, architecture tag, and
// monotonic sequence").
type Emitter struct {
	publisher    *events.EventPublisher
	sessionID    string
	executionID  string
	architecture string
	seq          int64
}

// NewEmitter creates an Emitter bound to one session/execution. architecture
// names the controlling macro-loop (e.g. "react", "ooda",
// "plan_execute_review") for downstream UI grouping.
func NewEmitter(publisher *events.EventPublisher, sessionID, executionID, architecture string) *Emitter {
	return &Emitter{publisher: publisher, sessionID: sessionID, executionID: executionID, architecture: architecture}
}

func (e *Emitter) nextSeq() int64 {
	return atomic.AddInt64(&e.seq, 1)
}

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339Nano)
}

func (e *Emitter) chunk(ctx context.Context, kind, conversationID, messageID string, mutate func(*events.AgentChunkPayload)) error {
	p := events.AgentChunkPayload{
		Type:           events.EventTypeAgentChunk,
		ExecutionID:    e.executionID,
		MessageID:      messageID,
		ConversationID: conversationID,
		Architecture:   e.architecture,
		Sequence:       e.nextSeq(),
		Kind:           kind,
		Timestamp:      nowRFC3339(),
	}
	if mutate != nil {
		mutate(&p)
	}
	return e.publisher.PublishAgentChunk(ctx, e.sessionID, p)
}

// EmitText emits a chunk{text} event for an incremental assistant-text delta.
func (e *Emitter) EmitText(ctx context.Context, conversationID, messageID, delta string) error {
	return e.chunk(ctx, events.ChunkKindText, conversationID, messageID, func(p *events.AgentChunkPayload) {
		p.Text = delta
	})
}

// EmitReasoning emits a chunk{reasoning} event for an incremental
// reasoning/thinking delta.
func (e *Emitter) EmitReasoning(ctx context.Context, conversationID, messageID, delta string) error {
	return e.chunk(ctx, events.ChunkKindReasoning, conversationID, messageID, func(p *events.AgentChunkPayload) {
		p.Text = delta
	})
}

// EmitToolCallStart emits a chunk{tool_call_start} event.
func (e *Emitter) EmitToolCallStart(ctx context.Context, conversationID, toolCallID, toolName string) error {
	return e.chunk(ctx, events.ChunkKindToolCallStart, conversationID, "", func(p *events.AgentChunkPayload) {
		p.ToolCallID = toolCallID
		p.ToolName = toolName
	})
}

// EmitToolCallDelta emits a chunk{tool_call_delta} event (pass-through of
// incremental tool-argument JSON).
func (e *Emitter) EmitToolCallDelta(ctx context.Context, conversationID, toolCallID, delta string) error {
	return e.chunk(ctx, events.ChunkKindToolCallDelta, conversationID, "", func(p *events.AgentChunkPayload) {
		p.ToolCallID = toolCallID
		p.ToolArgs = delta
	})
}

// EmitToolCallComplete emits a chunk{tool_call_complete} event.
func (e *Emitter) EmitToolCallComplete(ctx context.Context, conversationID, toolCallID, toolName, args string) error {
	return e.chunk(ctx, events.ChunkKindToolCallComplete, conversationID, "", func(p *events.AgentChunkPayload) {
		p.ToolCallID = toolCallID
		p.ToolName = toolName
		p.ToolArgs = args
	})
}

// EmitToolResult emits a chunk{tool_result} event.
func (e *Emitter) EmitToolResult(ctx context.Context, conversationID, toolCallID, toolName, result string, success bool) error {
	return e.chunk(ctx, events.ChunkKindToolResult, conversationID, "", func(p *events.AgentChunkPayload) {
		p.ToolCallID = toolCallID
		p.ToolName = toolName
		p.ToolResult = result
		p.ToolSuccess = success
	})
}

// EmitUsage emits a chunk{usage} event.
func (e *Emitter) EmitUsage(ctx context.Context, conversationID string, inputTokens, outputTokens int) error {
	return e.chunk(ctx, events.ChunkKindUsage, conversationID, "", func(p *events.AgentChunkPayload) {
		p.InputTokens = inputTokens
		p.OutputTokens = outputTokens
	})
}

// EmitMeta emits a chunk{meta} event carrying a free-form text payload.
func (e *Emitter) EmitMeta(ctx context.Context, conversationID, text string) error {
	return e.chunk(ctx, events.ChunkKindMeta, conversationID, "", func(p *events.AgentChunkPayload) {
		p.Text = text
	})
}

// EmitDone emits the terminal chunk{done} event for an execution attempt.
func (e *Emitter) EmitDone(ctx context.Context, conversationID string) error {
	return e.chunk(ctx, events.ChunkKindDone, conversationID, "", nil)
}

// EmitPlanInfo announces a new or revised plan.
func (e *Emitter) EmitPlanInfo(ctx context.Context, planID string, version, taskCount int, reason string) error {
	return e.publisher.PublishPlanInfo(ctx, e.sessionID, events.PlanInfoPayload{
		Type: events.EventTypePlanInfo, ExecutionID: e.executionID,
		PlanID: planID, Version: version, TaskCount: taskCount, Reason: reason,
		Timestamp: nowRFC3339(),
	})
}

// EmitRetry announces a retried executor attempt.
func (e *Emitter) EmitRetry(ctx context.Context, attempt, maxRetries int, reason string, accumulatedCalls, accumulatedOutputLen int) error {
	return e.publisher.PublishRetry(ctx, e.sessionID, events.RetryPayload{
		Type: events.EventTypeRetry, ExecutionID: e.executionID,
		Attempt: attempt, MaxRetries: maxRetries, Reason: reason,
		AccumulatedCalls: accumulatedCalls, AccumulatedOutputLen: accumulatedOutputLen,
		Timestamp: nowRFC3339(),
	})
}

// EmitAbilitySelected announces the router's ability-group choice.
func (e *Emitter) EmitAbilitySelected(ctx context.Context, abilityGroup, injectedSystemPrompt string) error {
	return e.publisher.PublishAbilitySelected(ctx, e.sessionID, events.AbilitySelectedPayload{
		Type: events.EventTypeAbilitySelected, ExecutionID: e.executionID,
		AbilityGroup: abilityGroup, InjectedSystemPrompt: injectedSystemPrompt,
		Timestamp: nowRFC3339(),
	})
}

// EmitToolsSelected announces the router's final tool selection.
func (e *Emitter) EmitToolsSelected(ctx context.Context, strategy string, toolIDs []string) error {
	return e.publisher.PublishToolsSelected(ctx, e.sessionID, events.ToolsSelectedPayload{
		Type: events.EventTypeToolsSelected, ExecutionID: e.executionID,
		Strategy: strategy, ToolIDs: toolIDs,
		Timestamp: nowRFC3339(),
	})
}

// EmitTenthManWarning emits a fire-and-forget pre-tool-call adversarial
// warning — grounded in the supplemented "tenth-man review" feature.
func (e *Emitter) EmitTenthManWarning(ctx context.Context, toolCallID, toolName, warning string) error {
	return e.publisher.PublishTenthManWarning(ctx, e.sessionID, events.TenthManWarningPayload{
		Type: events.EventTypeTenthManWarning, ExecutionID: e.executionID,
		ToolCallID: toolCallID, ToolName: toolName, Warning: warning,
		Timestamp: nowRFC3339(),
	})
}

// EmitTenthManCritique emits the end-of-run adversarial critique.
func (e *Emitter) EmitTenthManCritique(ctx context.Context, messageID, critique string) error {
	return e.publisher.PublishTenthManCritique(ctx, e.sessionID, events.TenthManCritiquePayload{
		Type: events.EventTypeTenthManCritique, ExecutionID: e.executionID,
		MessageID: messageID, Critique: critique,
		Timestamp: nowRFC3339(),
	})
}
