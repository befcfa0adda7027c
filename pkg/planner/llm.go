package planner

import (
	"context"
	"fmt"

	"github.com/sentinelai/engine/pkg/agent"
)

// callLLM performs a single, non-streaming-callback LLM call and collects
// the full text response. Grounded the same way as pkg/joiner/llm.go: a
// trimmed version of pkg/agent/controller/streaming.go's callLLM/
// collectStream, since the planner — like the joiner — makes short
// single-turn calls with no tool binding and doesn't need the heavier
// agent.ExecutionContext/PromptBuilder machinery pkg/agent/controller uses
// for multi-turn ReAct loops.
func callLLM(ctx context.Context, client agent.LLMClient, input *agent.GenerateInput) (string, error) {
	llmCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Generate(llmCtx, input)
	if err != nil {
		return "", fmt.Errorf("LLM Generate failed: %w", err)
	}

	var text string
	for chunk := range stream {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			text += c.Content
		case *agent.ErrorChunk:
			return "", fmt.Errorf("LLM error: %s (code: %s)", c.Message, c.Code)
		}
	}

	return text, nil
}
