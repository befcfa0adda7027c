// Package providers implements agent.LLMClient for the concrete LLM
// providers enumerated in the provider port: OpenAI and every
// OpenAI-wire-compatible backend (ollama, deepseek, groq, openrouter,
// togetherai, moonshot, perplexity, lm_studio), plus Anthropic and
// Google Gemini in their own files.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sentinelai/engine/pkg/agent"
)

// Compile-time check that OpenAIClient implements agent.LLMClient.
var _ agent.LLMClient = (*OpenAIClient)(nil)

// OpenAIClient implements agent.LLMClient against the OpenAI chat
// completions API, or any provider that speaks the same wire format
// (config.LLMProviderType.IsOpenAICompatible) via a custom BaseURL.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for OpenAI itself.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAICompatibleClient creates a client for an OpenAI-wire-compatible
// provider (ollama, deepseek, groq, ...) by overriding the base URL.
func NewOpenAICompatibleClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Generate sends a conversation to the model and returns a stream of chunks.
func (c *OpenAIClient) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.modelOrDefault(input),
		Messages: toOpenAIMessages(input.Messages),
		Stream:   true,
	}
	if len(input.Tools) > 0 {
		req.Tools = toOpenAITools(input.Tools)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai stream create failed: %w", err)
	}

	ch := make(chan agent.Chunk, 32)
	go c.pump(ctx, stream, ch)
	return ch, nil
}

func (c *OpenAIClient) modelOrDefault(input *agent.GenerateInput) string {
	if input.Config != nil && input.Config.Model != "" {
		return input.Config.Model
	}
	return c.model
}

// Close is a no-op: go-openai holds no persistent connection.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) pump(ctx context.Context, stream *openai.ChatCompletionStream, ch chan<- agent.Chunk) {
	defer close(ch)
	defer stream.Close()

	type building struct {
		id, name string
		args     string
	}
	pending := make(map[int]*building)
	var inputTokens, outputTokens int

	emit := func(c agent.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	flushToolCalls := func() {
		for idx, b := range pending {
			if b.id != "" && b.name != "" {
				emit(&agent.ToolCallChunk{CallID: b.id, Name: b.name, Arguments: b.args})
			}
			delete(pending, idx)
		}
	}

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			flushToolCalls()
			emit(&agent.UsageChunk{InputTokens: inputTokens, OutputTokens: outputTokens})
			return
		}
		if err != nil {
			emit(&agent.ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
			return
		}
		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			if !emit(&agent.TextChunk{Content: delta.Content}) {
				return
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			b, ok := pending[idx]
			if !ok {
				b = &building{}
				pending[idx] = b
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				b.args += tc.Function.Arguments
			}
		}
		if resp.Choices[0].FinishReason == "tool_calls" {
			flushToolCalls()
		}
	}
}

func toOpenAIMessages(msgs []agent.ConversationMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		if m.Role == agent.RoleTool {
			om.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		if t.ParametersSchema != "" {
			_ = json.Unmarshal([]byte(t.ParametersSchema), &params)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// retryablePatterns mirrors the executor's retry-eligibility classification
// (streaming tool-call executor, §4.4): these substrings mark a provider/
// transport error as safe to retry.
var retryablePatterns = []string{
	"error decoding response body",
	"unexpected eof",
	"connection closed",
	"timed out",
	"timeout",
	"connection reset",
	"network",
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
