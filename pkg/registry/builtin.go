package registry

import (
	"context"
	"fmt"

	"github.com/sentinelai/engine/pkg/agent"
)

// BuiltinFunc is a Go-native tool implementation, registered under the
// "builtin" server namespace (canonical name "builtin.<name>").
type BuiltinFunc func(ctx context.Context, argsJSON string) (string, error)

// BuiltinSource is a Source backed by in-process Go functions rather than a
// subprocess or network call — the simplest of the four tool sources the
// registry merges (builtin/workflow/plugin/MCP).
type BuiltinSource struct {
	tools map[string]agent.ToolDefinition
	funcs map[string]BuiltinFunc
}

// NewBuiltinSource creates an empty builtin tool source.
func NewBuiltinSource() *BuiltinSource {
	return &BuiltinSource{
		tools: make(map[string]agent.ToolDefinition),
		funcs: make(map[string]BuiltinFunc),
	}
}

// Register adds a builtin tool under "builtin.<name>".
func (b *BuiltinSource) Register(name, description, parametersSchema string, fn BuiltinFunc) {
	canonical := "builtin." + name
	b.tools[canonical] = agent.ToolDefinition{
		Name:             canonical,
		Description:      description,
		ParametersSchema: parametersSchema,
	}
	b.funcs[canonical] = fn
}

// ListTools returns every registered builtin tool definition.
func (b *BuiltinSource) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	out := make([]agent.ToolDefinition, 0, len(b.tools))
	for _, def := range b.tools {
		out = append(out, def)
	}
	return out, nil
}

// Execute invokes the builtin function registered for call.Name.
func (b *BuiltinSource) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	fn, ok := b.funcs[call.Name]
	if !ok {
		return &agent.ToolResult{CallID: call.ID, Name: call.Name, IsError: true,
			Content: fmt.Sprintf("builtin tool %q not registered", call.Name)}, nil
	}

	content, err := fn(ctx, call.Arguments)
	if err != nil {
		return &agent.ToolResult{CallID: call.ID, Name: call.Name, IsError: true, Content: err.Error()}, nil
	}
	return &agent.ToolResult{CallID: call.ID, Name: call.Name, Content: content}, nil
}

// Close is a no-op: builtin functions hold no external resources.
func (b *BuiltinSource) Close() error { return nil }
