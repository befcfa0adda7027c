package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/config"
)

// ClientSelector implements LLMSelector by prompting an agent.LLMClient with
// the candidate tool summaries and the task, requesting one tool name per
// line — the exact shape spec.md §4.2 describes for the LLM strategy.
type ClientSelector struct {
	client agent.LLMClient
	config *config.LLMProviderConfig
	backend config.LLMBackend
}

// NewClientSelector creates an LLMSelector backed by an existing LLM client,
// reusing the same provider config/backend the owning controller already
// resolved — grounded on pkg/agent/controller/scoring.go's llmInput helper.
func NewClientSelector(client agent.LLMClient, cfg *config.LLMProviderConfig, backend config.LLMBackend) *ClientSelector {
	return &ClientSelector{client: client, config: cfg, backend: backend}
}

func (s *ClientSelector) SelectTools(ctx context.Context, task string, candidates []agent.ToolDefinition) (string, error) {
	var b strings.Builder
	b.WriteString("You are selecting tools for an agent task. Given the task and the ")
	b.WriteString("candidate tools below, respond with ONLY the tool names you would use, ")
	b.WriteString("one per line, no other text.\n\nTask:\n")
	b.WriteString(task)
	b.WriteString("\n\nCandidate tools:\n")
	for _, t := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}

	messages := []agent.ConversationMessage{
		{Role: agent.RoleUser, Content: b.String()},
	}

	stream, err := s.client.Generate(ctx, &agent.GenerateInput{
		Messages: messages,
		Config:   s.config,
		Backend:  s.backend,
	})
	if err != nil {
		return "", fmt.Errorf("router: LLM tool selection call failed: %w", err)
	}

	var text strings.Builder
	for chunk := range stream {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			text.WriteString(c.Content)
		case *agent.ErrorChunk:
			return "", fmt.Errorf("router: LLM tool selection error: %s", c.Message)
		}
	}
	return text.String(), nil
}
