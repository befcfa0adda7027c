package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/sentinelai/engine/pkg/agent"
)

var _ agent.LLMClient = (*GeminiClient)(nil)

// GeminiClient implements agent.LLMClient against Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a client for Google Gemini models.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init failed: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate sends a conversation to Gemini and returns a stream of chunks.
func (c *GeminiClient) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	contents, system := toGeminiContents(input.Messages)
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(input.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiFunctionDecls(input.Tools)}}
	}

	model := c.model
	if input.Config != nil && input.Config.Model != "" {
		model = input.Config.Model
	}

	iterSeq := c.client.Models.GenerateContentStream(ctx, model, contents, cfg)

	ch := make(chan agent.Chunk, 32)
	go c.pump(ctx, iterSeq, ch)
	return ch, nil
}

// Close releases the underlying HTTP client resources.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) pump(ctx context.Context, iterSeq func(func(*genai.GenerateContentResponse, error) bool), ch chan<- agent.Chunk) {
	defer close(ch)

	var inputTokens, outputTokens int
	toolCallSeq := 0

	emit := func(c agent.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for resp, err := range iterSeq {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			emit(&agent.ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
			return
		}
		if resp.UsageMetadata != nil {
			inputTokens = int(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					if !emit(&agent.TextChunk{Content: part.Text}) {
						return
					}
				}
				if part.FunctionCall != nil {
					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					toolCallSeq++
					callID := part.FunctionCall.ID
					if callID == "" {
						callID = fmt.Sprintf("%s-%d", part.FunctionCall.Name, toolCallSeq)
					}
					if !emit(&agent.ToolCallChunk{CallID: callID, Name: part.FunctionCall.Name, Arguments: string(argsJSON)}) {
						return
					}
				}
			}
		}
	}

	emit(&agent.UsageChunk{InputTokens: inputTokens, OutputTokens: outputTokens})
}

func toGeminiContents(msgs []agent.ConversationMessage) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system string

	for _, m := range msgs {
		switch m.Role {
		case agent.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case agent.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case agent.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case agent.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"result": m.Content}
			}
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{ID: m.ToolCallID, Name: m.ToolName, Response: response},
				}},
			})
		}
	}
	return contents, system
}

func toGeminiFunctionDecls(tools []agent.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if t.ParametersSchema != "" {
			_ = json.Unmarshal([]byte(t.ParametersSchema), &schema)
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		})
	}
	return out
}
