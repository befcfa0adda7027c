package executor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/engine/pkg/agent"
)

func TestBuildRetryHistory(t *testing.T) {
	base := []agent.ConversationMessage{
		{Role: agent.RoleUser, Content: "scan example.com"},
	}

	t.Run("attempt zero returns base history unchanged", func(t *testing.T) {
		history := buildRetryHistory(base, nil, "", 0)
		require.Len(t, history, 1)
		assert.Equal(t, "scan example.com", history[0].Content)
	})

	t.Run("dedupes by id keeping first occurrence, sorted by sequence", func(t *testing.T) {
		accumulated := []ToolCallRecord{
			{ID: "c2", Name: "port_scan", Arguments: `{"host":"b"}`, Result: "open:80", Sequence: 1},
			{ID: "c1", Name: "port_scan", Arguments: `{"host":"a"}`, Result: "open:443", Sequence: 0},
			{ID: "c2", Name: "port_scan", Arguments: `{"host":"b-retry"}`, Result: "stale", Sequence: 5},
		}

		history := buildRetryHistory(base, accumulated, "", 1)
		require.Len(t, history, 1+1+2) // base + synthetic assistant + 2 tool messages

		assistantMsg := history[1]
		assert.Equal(t, agent.RoleAssistant, assistantMsg.Role)
		require.Len(t, assistantMsg.ToolCalls, 2)
		assert.Equal(t, "c1", assistantMsg.ToolCalls[0].ID, "sequence 0 sorts first")
		assert.Equal(t, "c2", assistantMsg.ToolCalls[1].ID)

		toolMsg := history[2]
		assert.Equal(t, agent.RoleTool, toolMsg.Role)
		assert.Equal(t, "c1", toolMsg.ToolCallID)
		assert.Equal(t, "open:443", toolMsg.Content)

		toolMsg2 := history[3]
		assert.Equal(t, "c2", toolMsg2.ToolCallID)
		assert.Equal(t, "open:80", toolMsg2.Content, "first occurrence of c2 wins over the later duplicate")
	})

	t.Run("appends accumulated output as trailing assistant message", func(t *testing.T) {
		history := buildRetryHistory(base, nil, "  partial progress so far  ", 1)
		require.Len(t, history, 2)
		assert.Equal(t, agent.RoleAssistant, history[1].Role)
		assert.Equal(t, "  partial progress so far  ", history[1].Content)
	})

	t.Run("blank accumulated output is not appended", func(t *testing.T) {
		history := buildRetryHistory(base, nil, "   ", 1)
		require.Len(t, history, 1)
	})
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		msg       string
		retryable bool
	}{
		{"error decoding response body: unexpected EOF", true},
		{"Connection Closed by peer", true},
		{"request timed out after 30s", true},
		{"dial tcp: connection reset by peer", true},
		{"network is unreachable", true},
		{"invalid arguments for tool port_scan", false},
		{"tool execution failed: permission denied", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.retryable, isRetryableError(c.msg), c.msg)
	}
}

func TestJoinNonEmpty(t *testing.T) {
	assert.Equal(t, "a\n\nb", joinNonEmpty("a", "b"))
	assert.Equal(t, "a", joinNonEmpty("a", ""))
	assert.Equal(t, "b", joinNonEmpty("", "b"))
	assert.Equal(t, "", joinNonEmpty("", ""))
}

func TestDetectTextLoop(t *testing.T) {
	t.Run("no loop in normal prose", func(t *testing.T) {
		detected, _ := detectTextLoop("The scan found three open ports on the target host.")
		assert.False(t, detected)
	})

	t.Run("detects a repeating pattern", func(t *testing.T) {
		unit := strings.Repeat("x", loopMinPatternLen)
		text := strings.Repeat(unit, loopMinRepeats+2)
		detected, truncAt := detectTextLoop(text)
		assert.True(t, detected)
		assert.GreaterOrEqual(t, truncAt, 0)
	})
}
