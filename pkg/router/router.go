// Package router implements the tool router (C2): selecting a bounded set
// of tools for a task from the merged tool pool, by strategy.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/mcp"
)

// Strategy is the tool-selection strategy for a task.
type Strategy string

const (
	StrategyNone    Strategy = "none"
	StrategyAll     Strategy = "all"
	StrategyManual  Strategy = "manual"
	StrategyKeyword Strategy = "keyword"
	StrategyLLM     Strategy = "llm"
	StrategyHybrid  Strategy = "hybrid"
)

// Config mirrors spec.md §3's "Tool selection config".
type Config struct {
	Enabled       bool
	Strategy      Strategy
	MaxTools      int
	FixedTools    []string
	DisabledTools map[string]bool
	ManualTools   []string // only consulted when Strategy == StrategyManual
}

// Selection is the router's output: the chosen tool ids plus an optional
// ability-group binding (spec.md §4.2's "injected_system_prompt"/"ability_group").
type Selection struct {
	ToolIDs              []string
	InjectedSystemPrompt string
	AbilityGroup         string
}

// Router selects tools for a task given the merged tool pool.
type Router struct {
	llm LLMSelector
}

// LLMSelector is the narrow LLM dependency the LLM/Hybrid strategies need:
// given a task description and candidate tools, return the chosen names in
// the model's raw text response (one name per line, tolerated loosely).
type LLMSelector interface {
	SelectTools(ctx context.Context, task string, candidates []agent.ToolDefinition) (string, error)
}

// New creates a Router. llm may be nil; LLM/Hybrid strategies then fall back
// to Keyword, matching spec.md §4.2's documented fallback.
func New(llm LLMSelector) *Router {
	return &Router{llm: llm}
}

// Select implements the select(task, config, llm_handle?) operation.
func (r *Router) Select(ctx context.Context, task string, cfg Config, pool []agent.ToolDefinition, alwaysAvailable map[string]bool) (Selection, error) {
	if !cfg.Enabled || cfg.Strategy == StrategyNone {
		return Selection{}, nil
	}

	pool = filterDisabled(pool, cfg.DisabledTools)

	switch cfg.Strategy {
	case StrategyAll:
		return Selection{ToolIDs: dedup(namesOf(pool))}, nil
	case StrategyManual:
		return Selection{ToolIDs: resolveManual(cfg.ManualTools, pool)}, nil
	case StrategyKeyword:
		ids := keywordSelect(task, cfg, pool, alwaysAvailable)
		return Selection{ToolIDs: ids}, nil
	case StrategyLLM:
		ids, err := r.llmSelect(ctx, task, cfg, pool, alwaysAvailable)
		if err != nil {
			return Selection{}, err
		}
		return Selection{ToolIDs: ids}, nil
	case StrategyHybrid:
		ids, err := r.hybridSelect(ctx, task, cfg, pool, alwaysAvailable)
		if err != nil {
			return Selection{}, err
		}
		return Selection{ToolIDs: ids}, nil
	default:
		return Selection{}, fmt.Errorf("router: unknown strategy %q", cfg.Strategy)
	}
}

func namesOf(pool []agent.ToolDefinition) []string {
	out := make([]string, len(pool))
	for i, t := range pool {
		out[i] = t.Name
	}
	return out
}

func filterDisabled(pool []agent.ToolDefinition, disabled map[string]bool) []agent.ToolDefinition {
	if len(disabled) == 0 {
		return pool
	}
	out := make([]agent.ToolDefinition, 0, len(pool))
	for _, t := range pool {
		if !disabled[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// resolveManual resolves each requested name: exact id, else legacy
// "::"→"__" translation, else sanitized match; deduplicates, preserves order.
func resolveManual(requested []string, pool []agent.ToolDefinition) []string {
	byID := make(map[string]bool, len(pool))
	for _, t := range pool {
		byID[t.Name] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, name := range requested {
		resolved := name
		if !byID[resolved] {
			translated := mcp.NormalizeToolName(strings.ReplaceAll(name, "::", "__"))
			if byID[translated] {
				resolved = translated
			} else {
				sanitized := sanitizeID(name)
				if byID[sanitized] {
					resolved = sanitized
				} else {
					continue // unresolvable name is dropped
				}
			}
		}
		if !seen[resolved] {
			seen[resolved] = true
			out = append(out, resolved)
		}
	}
	return out
}

// sanitizeID mirrors C1's dynamic-id sanitization: non-alphanumeric/
// underscore characters become underscores.
func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (r *Router) llmSelect(ctx context.Context, task string, cfg Config, pool []agent.ToolDefinition, alwaysAvailable map[string]bool) ([]string, error) {
	if r.llm == nil {
		return keywordSelect(task, cfg, pool, alwaysAvailable), nil
	}
	raw, err := r.llm.SelectTools(ctx, task, pool)
	if err != nil {
		return keywordSelect(task, cfg, pool, alwaysAvailable), nil
	}
	names := parseOneNamePerLine(raw, pool)
	if len(names) == 0 {
		return keywordSelect(task, cfg, pool, alwaysAvailable), nil
	}
	return withFixed(cfg, names, cfg.MaxTools), nil
}

func (r *Router) hybridSelect(ctx context.Context, task string, cfg Config, pool []agent.ToolDefinition, alwaysAvailable map[string]bool) ([]string, error) {
	widened := cfg
	widened.MaxTools = widenMax(cfg.MaxTools)
	candidates := keywordSelect(task, widened, pool, alwaysAvailable)

	if r.llm == nil {
		return truncate(candidates, cfg.MaxTools), nil
	}

	candidatePool := subset(pool, candidates)
	raw, err := r.llm.SelectTools(ctx, task, candidatePool)
	if err != nil {
		return truncate(candidates, cfg.MaxTools), nil
	}
	names := parseOneNamePerLine(raw, candidatePool)
	if len(names) == 0 {
		return truncate(candidates, cfg.MaxTools), nil
	}
	return withFixed(cfg, names, cfg.MaxTools), nil
}

func widenMax(maxTools int) int {
	widened := 2 * maxTools
	if widened > 15 {
		return 15
	}
	return widened
}

func truncate(ids []string, max int) []string {
	if max <= 0 || len(ids) <= max {
		return ids
	}
	return ids[:max]
}

func subset(pool []agent.ToolDefinition, ids []string) []agent.ToolDefinition {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]agent.ToolDefinition, 0, len(ids))
	for _, t := range pool {
		if want[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func parseOneNamePerLine(raw string, candidates []agent.ToolDefinition) []string {
	valid := make(map[string]bool, len(candidates))
	for _, t := range candidates {
		valid[t.Name] = true
	}

	var names []string
	for _, line := range strings.Split(raw, "\n") {
		name := strings.TrimSpace(line)
		name = strings.TrimPrefix(name, "- ")
		name = strings.Trim(name, "`\"'")
		if name != "" && valid[name] {
			names = append(names, name)
		}
	}
	return dedup(names)
}

// withFixed ensures every fixed tool is present (unless disabled, already
// filtered from pool) and the combined list respects maxTools.
func withFixed(cfg Config, selected []string, maxTools int) []string {
	out := append([]string{}, cfg.FixedTools...)
	out = append(out, selected...)
	out = dedup(out)
	if maxTools > 0 && len(out) > maxTools {
		out = out[:maxTools]
	}
	return out
}

// keyword scoring weights, per spec.md §4.2.
const (
	scoreAlwaysAvailable  = 5
	scoreTaskContainsName = 20
	scorePerTagMatch      = 10
	scorePerWordMatch     = 3
	scoreCategoryAffinity = 15
	scoreWorkflowMention  = 20
	scoreWorkflowWord     = 10
)

// categoryAffinity maps task keywords to tool categories that should get a
// bonus, grounded in spec.md §4.2's "scan" & Network example.
var categoryAffinity = map[string]string{
	"scan":     "Network",
	"port":     "Network",
	"network":  "Network",
	"vuln":     "Security",
	"exploit":  "Security",
	"security": "Security",
	"data":     "Data",
	"parse":    "Data",
	"ai":       "AI",
	"llm":      "AI",
}

func keywordSelect(task string, cfg Config, pool []agent.ToolDefinition, alwaysAvailable map[string]bool) []string {
	taskLower := strings.ToLower(task)
	taskWords := wordSet(taskLower)

	type scored struct {
		id    string
		score int
	}

	fixed := make(map[string]bool, len(cfg.FixedTools))
	for _, id := range cfg.FixedTools {
		fixed[id] = true
	}

	var candidates []scored
	for _, t := range pool {
		if fixed[t.Name] {
			continue
		}
		s := scoreTool(t, taskLower, taskWords, alwaysAvailable)
		candidates = append(candidates, scored{id: t.Name, score: s})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	budget := cfg.MaxTools - len(cfg.FixedTools)
	if budget < 0 {
		budget = 0
	}
	if budget > len(candidates) {
		budget = len(candidates)
	}

	out := append([]string{}, cfg.FixedTools...)
	for i := 0; i < budget; i++ {
		out = append(out, candidates[i].id)
	}
	return dedup(out)
}

func scoreTool(t agent.ToolDefinition, taskLower string, taskWords map[string]bool, alwaysAvailable map[string]bool) int {
	score := 0
	if alwaysAvailable[t.Name] {
		score += scoreAlwaysAvailable
	}

	toolNameLower := strings.ToLower(toolDisplayName(t.Name))
	if strings.Contains(taskLower, toolNameLower) {
		score += scoreTaskContainsName
	}

	for word := range taskWords {
		if len(word) > 3 && strings.Contains(strings.ToLower(t.Description), word) {
			score += scorePerWordMatch
		}
	}

	for keyword, category := range categoryAffinity {
		if strings.Contains(taskLower, keyword) && strings.Contains(strings.ToLower(t.Name), strings.ToLower(category)) {
			score += scoreCategoryAffinity
		}
	}

	if strings.Contains(taskLower, "workflow") {
		if strings.HasPrefix(t.Name, "workflow.") || strings.HasPrefix(t.Name, "workflow__") {
			score += scoreWorkflowMention
			for word := range taskWords {
				if len(word) > 3 && strings.Contains(strings.ToLower(t.Name), word) {
					score += scoreWorkflowWord
				}
			}
		}
	}

	return score
}

func toolDisplayName(canonical string) string {
	if idx := strings.LastIndex(canonical, "."); idx != -1 {
		return canonical[idx+1:]
	}
	return canonical
}

func wordSet(s string) map[string]bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}
