// Package registry implements the tool registry and adapter layer: a merged
// view over builtin, workflow, plugin, and MCP tool sources, satisfying
// agent.ToolExecutor for the controllers in pkg/agent/controller.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/mcp"
)

// Source is a provider of tools: builtin functions, workflow-defined tools,
// plugins, or an MCP server pool. Tool names returned by ListTools must
// already be in canonical "server.tool" form (see mcp.SplitToolName).
type Source interface {
	ListTools(ctx context.Context) ([]agent.ToolDefinition, error)
	Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error)
}

// entry is the registry's internal bookkeeping for one tool.
type entry struct {
	def    agent.ToolDefinition
	source Source
	schema *jsonschema.Schema
}

// Registry merges tools from multiple sources into one name space, validates
// call arguments against each tool's parameter_schema, applies an optional
// allowlist, and tracks per-tool usage statistics.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry // canonical "server.tool" -> entry
	stats   *statsTracker

	// allow, when non-nil, restricts ListTools/Execute to this set of
	// canonical tool names (or "server.*" wildcards). nil means no filtering.
	allow map[string]bool

	abilities *abilityBook
}

// New creates an empty registry. Call AddSource to populate it.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		stats:   newStatsTracker(),
	}
}

// AddSource pulls every tool from src and merges it into the registry.
// A tool whose parameter_schema fails to compile is skipped with an error
// rather than registered half-validated.
func (r *Registry) AddSource(ctx context.Context, src Source) error {
	defs, err := src.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("registry: list tools: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if _, _, splitErr := mcp.SplitToolName(def.Name); splitErr != nil {
			return fmt.Errorf("registry: tool %q: %w", def.Name, splitErr)
		}

		e := &entry{def: def, source: src}
		if def.ParametersSchema != "" {
			sch, compileErr := compileSchema(def.Name, def.ParametersSchema)
			if compileErr != nil {
				return fmt.Errorf("registry: tool %q: %w", def.Name, compileErr)
			}
			e.schema = sch
		}
		r.entries[def.Name] = e
	}
	return nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	return jsonschema.CompileString("mem://"+name, raw)
}

// SetAllowlist restricts ListTools/Execute to exactly the named canonical
// tools, or clears the restriction when names is empty.
func (r *Registry) SetAllowlist(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		r.allow = nil
		return
	}
	r.allow = make(map[string]bool, len(names))
	for _, n := range names {
		r.allow[n] = true
	}
}

func (r *Registry) allowed(name string) bool {
	if r.allow == nil {
		return true
	}
	return r.allow[name]
}

// ListTools returns every registered tool definition visible under the
// current allowlist.
func (r *Registry) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]agent.ToolDefinition, 0, len(r.entries))
	for name, e := range r.entries {
		if r.allowed(name) {
			out = append(out, e.def)
		}
	}
	return out, nil
}

// Execute validates call.Arguments against the tool's schema (if any), then
// dispatches to the owning source, recording usage statistics either way.
func (r *Registry) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.entries[call.Name]
	allowed := r.allowed(call.Name)
	r.mu.RUnlock()

	if !ok {
		return &agent.ToolResult{CallID: call.ID, Name: call.Name, IsError: true,
			Content: fmt.Sprintf("unknown tool %q", call.Name)}, nil
	}
	if !allowed {
		return &agent.ToolResult{CallID: call.ID, Name: call.Name, IsError: true,
			Content: fmt.Sprintf("tool %q is not in the current allowlist", call.Name)}, nil
	}

	if e.schema != nil {
		if err := validateArgs(e.schema, call.Arguments); err != nil {
			r.stats.record(call.Name, false, 0)
			return &agent.ToolResult{CallID: call.ID, Name: call.Name, IsError: true,
				Content: fmt.Sprintf("invalid arguments: %v", err)}, nil
		}
	}

	start := time.Now()
	result, err := e.source.Execute(ctx, call)
	elapsed := time.Since(start)

	if err != nil {
		r.stats.record(call.Name, false, elapsed)
		return nil, err
	}
	r.stats.record(call.Name, result != nil && !result.IsError, elapsed)
	return result, nil
}

// Close releases every distinct source's resources.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Source]bool)
	var firstErr error
	for _, e := range r.entries {
		if seen[e.source] {
			continue
		}
		seen[e.source] = true
		if closer, ok := e.source.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Stats returns a snapshot of usage statistics for every tool that has been
// called at least once.
func (r *Registry) Stats() map[string]ToolUsageStats {
	return r.stats.snapshot()
}

// compile-time check.
var _ agent.ToolExecutor = (*Registry)(nil)
