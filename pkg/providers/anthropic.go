package providers

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/sentinelai/engine/pkg/agent"
)

var _ agent.LLMClient = (*AnthropicClient)(nil)

// AnthropicClient implements agent.LLMClient against the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient creates a client for Anthropic's Claude models.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 4096,
	}
}

// Generate sends a conversation to Claude and returns a stream of chunks.
func (c *AnthropicClient) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	messages, system := toAnthropicMessages(input.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelOrDefault(input)),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(input.Tools) > 0 {
		params.Tools = toAnthropicTools(input.Tools)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	ch := make(chan agent.Chunk, 32)
	go c.pump(ctx, stream, ch)
	return ch, nil
}

func (c *AnthropicClient) modelOrDefault(input *agent.GenerateInput) string {
	if input.Config != nil && input.Config.Model != "" {
		return input.Config.Model
	}
	return c.model
}

// Close is a no-op: the Anthropic SDK holds no persistent connection.
func (c *AnthropicClient) Close() error { return nil }

func (c *AnthropicClient) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- agent.Chunk) {
	defer close(ch)

	var currentToolID, currentToolName string
	var currentToolInput string
	var inputTokens, outputTokens int

	emit := func(c agent.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			inputTokens = int(ms.Message.Usage.InputTokens)
		case "content_block_start":
			cbs := event.AsContentBlockStart()
			if cbs.ContentBlock.Type == "tool_use" {
				tu := cbs.ContentBlock.AsToolUse()
				currentToolID = tu.ID
				currentToolName = tu.Name
				currentToolInput = ""
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !emit(&agent.TextChunk{Content: delta.Text}) {
					return
				}
			case "thinking_delta":
				if delta.Thinking != "" && !emit(&agent.ThinkingChunk{Content: delta.Thinking}) {
					return
				}
			case "input_json_delta":
				currentToolInput += delta.PartialJSON
			}
		case "content_block_stop":
			if currentToolID != "" {
				if !emit(&agent.ToolCallChunk{CallID: currentToolID, Name: currentToolName, Arguments: currentToolInput}) {
					return
				}
				currentToolID, currentToolName, currentToolInput = "", "", ""
			}
		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
		case "message_stop":
			emit(&agent.UsageChunk{InputTokens: inputTokens, OutputTokens: outputTokens})
			return
		}
	}

	if err := stream.Err(); err != nil {
		emit(&agent.ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
	}
}

func toAnthropicMessages(msgs []agent.ConversationMessage) ([]anthropic.MessageParam, string) {
	var result []anthropic.MessageParam
	var system string

	for _, m := range msgs {
		switch m.Role {
		case agent.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case agent.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case agent.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		case agent.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}
	return result, system
}

func toAnthropicTools(tools []agent.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if t.ParametersSchema != "" {
			_ = json.Unmarshal([]byte(t.ParametersSchema), &schema)
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
			},
		})
	}
	return out
}

