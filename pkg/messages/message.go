// Package messages implements the Message Emitter & Store (C3):
// append-only, idempotent-upsert-by-id conversation message persistence,
// plus structured event emission to the host via pkg/events.
package messages

// Role mirrors spec.md §3's conversation-message role enum.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRef is the serialized tool-call shape carried on an assistant
// message's tool_calls field, per spec.md §3's "Conversation message".
type ToolCallRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is spec.md §3's "Conversation message" / §6's "persisted message
// row": the unit the store keeps, keyed by ID, append-only with
// idempotent-upsert semantics.
type Message struct {
	ID                string
	ConversationID    string
	ExecutionID       string
	Role              Role
	Content           string
	ReasoningContent  string
	ToolCalls         []ToolCallRef
	ToolCallID        string // set when Role == RoleTool
	ToolName          string // set when Role == RoleTool
	TimestampMs       int64
	Metadata          map[string]any
}

// Tool-message metadata keys, per spec.md §4.4's ToolCallComplete/ToolResult
// handling ("metadata={kind:tool_call, tool_name, tool_args, status:running,
// sequence, started_at_ms}" then upserted with status/completed_at_ms/
// duration_ms/tool_result/success).
const (
	MetaKind          = "kind"
	MetaToolName      = "tool_name"
	MetaToolArgs      = "tool_args"
	MetaStatus        = "status"
	MetaSequence      = "sequence"
	MetaStartedAtMs   = "started_at_ms"
	MetaCompletedAtMs = "completed_at_ms"
	MetaDurationMs    = "duration_ms"
	MetaToolResult    = "tool_result"
	MetaSuccess       = "success"

	KindToolCall = "tool_call"

	StatusRunning   = "running"
	StatusCompleted = "completed"
)
