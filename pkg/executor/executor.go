// Package executor implements the streaming tool-call executor (C4): the
// single-LLM-call-with-tools loop that drives one agent turn from a task
// and history to a final response, streaming structured events to the host
// as it goes and persisting every message it produces through pkg/messages.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/config"
	"github.com/sentinelai/engine/pkg/messages"
)

// ToolCallRecord is spec.md §3's "Tool-call record": the fully-resolved
// shape of one tool invocation, assembled once ToolResult arrives.
// Sequence is assigned at tool-call-complete time from a monotonic counter,
// not at tool-call-start time — matching the Rust original's
// tool_seq.fetch_add ordering.
type ToolCallRecord struct {
	ID            string
	Name          string
	Arguments     string // JSON
	Result        string
	Success       bool
	Sequence      uint32
	StartedAtMs   int64
	CompletedAtMs int64
	DurationMs    int64
}

// pendingCall is the bookkeeping kept between ToolCallComplete and
// ToolResult for one in-flight call.
type pendingCall struct {
	Name        string
	Args        string
	StartedAtMs int64
	Seq         uint32
}

// InterventionContext is passed to an InterventionReviewer before a tool
// call executes — grounded in the supplemented "tenth-man review" feature.
type InterventionContext struct {
	ExecutionID   string
	Task          string
	ToolCallCount int
	CurrentText   string // e.g. "Preparing to call tool: <name>"
}

// InterventionReviewer performs the fire-and-forget pre-tool-call review
// ("Tenth Man Intervention Point 1" in the original). A nil warning with ok
// false means no risk worth surfacing was found.
type InterventionReviewer interface {
	QuickReview(ctx context.Context, ictx InterventionContext) (warning string, ok bool, err error)
}

// FinalReviewer performs the end-of-run adversarial critique ("Tenth Man
// Rule: Adversarial Review" in the original) over the full conversation.
type FinalReviewer interface {
	ReviewWithHistory(ctx context.Context, conversationID string) (critique string, err error)
}

// RunRequest is the input to Run, corresponding to spec.md §4.4's
// `run(task, system_prompt, history, tools, image?, on_chunk)`.
type RunRequest struct {
	ConversationID string
	ExecutionID    string
	Task           string
	SystemPrompt   string
	History        []agent.ConversationMessage
	Tools          []agent.ToolDefinition
	Image          *agent.ImageAttachment // optional

	Backend config.LLMBackend
	Config  *config.LLMProviderConfig

	// Intervention and FinalReview are both optional; when nil, the
	// corresponding review step is skipped entirely.
	Intervention InterventionReviewer
	FinalReview  FinalReviewer

	// Cancelled is polled on every chunk; returning true stops the stream
	// promptly, matching §4.4's cancellation contract ("a per-execution
	// token checked in the on_chunk callback").
	Cancelled func() bool
}

// RunResult is Run's output: the final response plus everything accumulated
// across retries, for the caller to fold into its own bookkeeping (e.g. a
// controller's running TokenUsage).
type RunResult struct {
	FinalResponse    string
	ToolCalls        []ToolCallRecord
	ReasoningContent string
	Usage            agent.TokenUsage
	RetryCount       int
}

// Executor runs one streaming tool-call turn. It owns no conversation state
// across calls — the Scheduler/Joiner/Planner layers above own that; within
// a single Run call it owns the per-attempt and cross-attempt accumulation
// buffers spec.md §3 assigns to "the Executor" ("the Executor owns the
// per-request retry/accumulation buffers").
type Executor struct {
	llm   agent.LLMClient
	tools agent.ToolExecutor
	store *messages.Store
	clock *messages.Clock
	emit  *messages.Emitter
	nowMs func() int64 // injected for deterministic tests; defaults to clock-backed wall time
}

// New creates an Executor. emitter and store must be bound to the same
// session/execution as the RunRequests this Executor will run.
func New(llm agent.LLMClient, tools agent.ToolExecutor, store *messages.Store, clock *messages.Clock, emit *messages.Emitter) *Executor {
	return &Executor{llm: llm, tools: tools, store: store, clock: clock, emit: emit}
}

// Retry policy constants, grounded in run_with_tools.rs's literal `2` /
// `1000` and is_retryable_error's pattern list.
const (
	maxRetries = 2
	retryDelay = 1 * time.Second
)

var retryablePatterns = []string{
	"error decoding response body",
	"unexpected eof",
	"connection closed",
	"timed out",
	"timeout",
	"connection reset",
	"network",
}

func isRetryableError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, pat := range retryablePatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// attemptState is the "state per attempt" spec.md §4.4 names:
// segment_buffer, reasoning_buffer, pending_calls, completed_calls.
//
// messageID identifies the assistant message the current segment/reasoning
// buffers will become once flushed — generated once per segment so the
// EmitText/EmitReasoning events streamed out mid-attempt carry the same
// message_id as the row that eventually lands in the store. A tool call
// flushes the segment under its current messageID and rolls a fresh one for
// whatever assistant text follows the tool result.
type attemptState struct {
	mu              sync.Mutex
	segmentBuf      strings.Builder
	reasoningBuf    strings.Builder
	messageID       string
	pending         map[string]*pendingCall
	completed       []ToolCallRecord
	toolSeq         uint32 // monotonic, assigned at tool-call-complete time
	toolCallCounter int32  // incremented at tool-call-start, feeds InterventionContext
}

func newAttemptState() *attemptState {
	return &attemptState{pending: make(map[string]*pendingCall), messageID: uuid.NewString()}
}

// Run executes one streaming tool-call turn, retrying on transient
// transport errors per spec.md §4.4's retry policy, and returns the final
// response once the LLM stops requesting tools.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	accumulatedCalls := make([]ToolCallRecord, 0)
	var accumulatedOutput strings.Builder
	baseHistory := append([]agent.ConversationMessage(nil), req.History...)

	var lastErr error
	var totalUsage agent.TokenUsage
	var finalReasoning string

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := e.emit.EmitRetry(ctx, attempt, maxRetries, errMsg(lastErr), len(accumulatedCalls), accumulatedOutput.Len()); err != nil {
				// Event delivery is best-effort; never fail the run over it.
				_ = err
			}
			time.Sleep(retryDelay)
		}

		history := buildRetryHistory(baseHistory, accumulatedCalls, accumulatedOutput.String(), attempt)
		state := newAttemptState()

		response, usage, err := e.runOneAttempt(ctx, req, history, state)
		if err == nil {
			finalOutput := joinNonEmpty(accumulatedOutput.String(), response)

			allCalls := append(append([]ToolCallRecord(nil), accumulatedCalls...), state.completed...)
			totalUsage = accumulateUsage(totalUsage, usage)

			reasoning := state.reasoningBuf.String()
			finalReasoning = reasoning

			if err := e.saveFinalAssistantMessage(req, state.messageID, finalOutput, allCalls, reasoning); err != nil {
				return nil, fmt.Errorf("saving final assistant message: %w", err)
			}

			if req.FinalReview != nil {
				e.runFinalReview(ctx, req)
			}

			return &RunResult{
				FinalResponse:    finalOutput,
				ToolCalls:        allCalls,
				ReasoningContent: finalReasoning,
				Usage:            totalUsage,
				RetryCount:       attempt,
			}, nil
		}

		lastErr = err
		hadToolActivity := len(state.completed) > 0 || len(state.pending) > 0
		retryable := isRetryableError(err.Error())

		if retryable && !hadToolActivity && attempt < maxRetries {
			accumulatedCalls = append(accumulatedCalls, state.completed...)
			if seg := state.segmentBuf.String(); seg != "" {
				if accumulatedOutput.Len() > 0 {
					accumulatedOutput.WriteString("\n\n")
				}
				accumulatedOutput.WriteString(seg)
			}
			continue
		}

		return nil, lastErr
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries reached with no recorded error")
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func joinNonEmpty(a, b string) string {
	switch {
	case a != "" && b != "":
		return a + "\n\n" + b
	case a != "":
		return a
	default:
		return b
	}
}

func accumulateUsage(total, delta agent.TokenUsage) agent.TokenUsage {
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	total.TotalTokens += delta.TotalTokens
	total.ThinkingTokens += delta.ThinkingTokens
	return total
}

// monotonicMs returns a millisecond timestamp via the bound Clock, or wall
// time if the Executor has none (tests may inject nowMs directly).
func (e *Executor) monotonicMs() int64 {
	if e.nowMs != nil {
		return e.nowMs()
	}
	return e.clock.NowMs()
}
