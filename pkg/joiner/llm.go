package joiner

import (
	"context"
	"fmt"

	"github.com/sentinelai/engine/pkg/agent"
)

// callResult mirrors pkg/agent/controller's LLMResponse, collected from a
// streamed Generate call. The joiner only ever needs the final text, so
// thinking/tool-call/grounding chunks are collected but unused.
type callResult struct {
	Text  string
	Usage *agent.TokenUsage
}

// callLLM performs a single, non-tool LLM call and collects the full text
// response. Grounded on pkg/agent/controller/streaming.go's callLLM/
// collectStream, trimmed to the joiner's text-only needs (no loop detection,
// no streaming callback — joiner prompts are short single-turn analyses).
func callLLM(ctx context.Context, client agent.LLMClient, input *agent.GenerateInput) (*callResult, error) {
	llmCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Generate(llmCtx, input)
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}

	var text string
	var usage *agent.TokenUsage
	for chunk := range stream {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			text += c.Content
		case *agent.UsageChunk:
			usage = &agent.TokenUsage{
				InputTokens:    c.InputTokens,
				OutputTokens:   c.OutputTokens,
				TotalTokens:    c.TotalTokens,
				ThinkingTokens: c.ThinkingTokens,
			}
		case *agent.ErrorChunk:
			return nil, fmt.Errorf("LLM error: %s (code: %s)", c.Message, c.Code)
		}
	}

	return &callResult{Text: text, Usage: usage}, nil
}
