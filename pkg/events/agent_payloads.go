package events

// AgentChunkPayload is the payload for agent.chunk transient events — the
// generic envelope for every streamed event C4's executor produces.
// Kind discriminates the fields that are populated; see the ChunkKind*
// constants in types.go.
type AgentChunkPayload struct {
	Type           string `json:"type"` // always EventTypeAgentChunk
	ExecutionID    string `json:"execution_id"`
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Architecture   string `json:"architecture,omitempty"`
	Sequence       int64  `json:"sequence"`
	Kind           string `json:"kind"` // one of ChunkKind*

	Text        string `json:"text,omitempty"`
	ToolCallID  string `json:"tool_call_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	ToolArgs    string `json:"tool_args,omitempty"`
	ToolResult  string `json:"tool_result,omitempty"`
	ToolSuccess bool   `json:"tool_success,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PlanInfoPayload announces a newly produced or revised plan (C7/C8).
type PlanInfoPayload struct {
	Type        string `json:"type"` // always EventTypePlanInfo
	ExecutionID string `json:"execution_id"`
	PlanID      string `json:"plan_id"`
	Version     int    `json:"version"`
	TaskCount   int    `json:"task_count"`
	Reason      string `json:"reason,omitempty"` // empty for the initial plan; set on re-plan
	Timestamp   string `json:"timestamp"`
}

// RetryPayload announces a retried attempt with accumulated progress
// counters, per spec.md §4.4's "Emit a retry event including accumulated
// progress counters."
type RetryPayload struct {
	Type               string `json:"type"` // always EventTypeRetry
	ExecutionID        string `json:"execution_id"`
	Attempt            int    `json:"attempt"`
	MaxRetries         int    `json:"max_retries"`
	Reason             string `json:"reason"`
	AccumulatedCalls   int    `json:"accumulated_calls"`
	AccumulatedOutputLen int  `json:"accumulated_output_len"`
	Timestamp          string `json:"timestamp"`
}

// AbilitySelectedPayload announces the router's ability-group choice.
type AbilitySelectedPayload struct {
	Type                 string `json:"type"` // always EventTypeAbilitySelected
	ExecutionID          string `json:"execution_id"`
	AbilityGroup         string `json:"ability_group"`
	InjectedSystemPrompt string `json:"injected_system_prompt,omitempty"`
	Timestamp            string `json:"timestamp"`
}

// ToolsSelectedPayload announces the router's final tool-id selection.
type ToolsSelectedPayload struct {
	Type        string   `json:"type"` // always EventTypeToolsSelected
	ExecutionID string   `json:"execution_id"`
	Strategy    string   `json:"strategy"`
	ToolIDs     []string `json:"tool_ids"`
	Timestamp   string   `json:"timestamp"`
}

// TenthManWarningPayload is a fire-and-forget pre-tool-call adversarial
// warning, per the supplemented "tenth-man review" feature.
type TenthManWarningPayload struct {
	Type        string `json:"type"` // always EventTypeTenthManWarning
	ExecutionID string `json:"execution_id"`
	ToolCallID  string `json:"tool_call_id"`
	ToolName    string `json:"tool_name"`
	Warning     string `json:"warning"`
	Timestamp   string `json:"timestamp"`
}

// TenthManCritiquePayload is the end-of-run adversarial critique, persisted
// as a system-role message by the caller and also broadcast standalone.
type TenthManCritiquePayload struct {
	Type        string `json:"type"` // always EventTypeTenthManCritique
	ExecutionID string `json:"execution_id"`
	MessageID   string `json:"message_id"`
	Critique    string `json:"critique"`
	Timestamp   string `json:"timestamp"`
}
