package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/config"
	"github.com/sentinelai/engine/pkg/scheduler"
)

// LLMConfig bundles the resolved LLM connection details a Planner needs,
// mirroring pkg/joiner.LLMConfig's deliberately narrow shape.
type LLMConfig struct {
	SessionID   string
	ExecutionID string
	Provider    *config.LLMProviderConfig
	Backend     config.LLMBackend
}

// Planner generates and re-evaluates DAG execution plans (C7/C8). One
// Planner instance is typically created per chain/architecture and reused
// across an investigation's rounds so its plan cache is warm.
type Planner struct {
	client agent.LLMClient
	cfg    Config
	cache  *planCache
}

// New creates a Planner. If cfg.CacheEnabled, a plan cache is built from
// cfg.CacheSize/CacheTTL; a cache construction failure disables caching
// rather than failing construction, since caching is a performance
// optimization, not a correctness requirement.
func New(client agent.LLMClient, cfg Config) *Planner {
	p := &Planner{client: client, cfg: cfg}
	if cfg.CacheEnabled {
		if cache, err := newPlanCache(cfg.CacheSize, cfg.CacheTTL); err == nil {
			p.cache = cache
		}
	}
	return p
}

// NewFromConfig builds a Planner from the resolved config.PlannerConfig
// (loaded from tarsy.yaml), translating its flat shape into a Config. A nil
// cfg falls back to config.DefaultPlannerConfig.
func NewFromConfig(client agent.LLMClient, cfg *config.PlannerConfig) *Planner {
	if cfg == nil {
		cfg = config.DefaultPlannerConfig()
	}
	return New(client, Config{
		Kind:         Kind(cfg.DefaultKind),
		CacheEnabled: cfg.CacheEnabled,
		CacheSize:    cfg.CacheSize,
		CacheTTL:     cfg.CacheTTL,
	})
}

// GeneratePlan implements generate_plan(query, context) → Plan (C7): a
// single LLM call producing a JSON plan, parsed into a scheduler.Plan and
// cached by (sha256(query) ⨁ sha256(context)) when caching is enabled.
func (p *Planner) GeneratePlan(ctx context.Context, llmCfg LLMConfig, query, planContext string) (*scheduler.Plan, error) {
	if plan, ok := p.cache.get(query, planContext); ok {
		return plan, nil
	}

	text, err := callLLM(ctx, p.client, &agent.GenerateInput{
		SessionID:   llmCfg.SessionID,
		ExecutionID: llmCfg.ExecutionID,
		Config:      llmCfg.Provider,
		Backend:     llmCfg.Backend,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: systemPromptFor(p.cfg.Kind)},
			{Role: agent.RoleUser, Content: buildUserPrompt(query, planContext)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation LLM call failed: %w", err)
	}

	raw, err := parsePlanJSON(text)
	if err != nil {
		return nil, fmt.Errorf("plan generation response did not parse: %w", err)
	}

	plan := toSchedulerPlan(raw, p.cfg.Kind)
	p.cache.put(query, planContext, plan)
	return plan, nil
}

// toSchedulerPlan converts the LLM's raw plan JSON into a scheduler.Plan,
// building the dependency graph from each step's declared dependencies and
// assigning ascending priority in step order (matches scheduler.TaskNode's
// "ascending = higher priority" convention).
func toSchedulerPlan(raw *rawPlan, kind Kind) *scheduler.Plan {
	nodes := make([]*scheduler.TaskNode, 0, len(raw.Steps))
	depGraph := make(map[string][]string, len(raw.Steps))

	for i, step := range raw.Steps {
		nodes = append(nodes, step.toPlanNode(i))
		depGraph[step.ID] = step.Dependencies
	}

	return &scheduler.Plan{
		Name:            fmt.Sprintf("plan-%s", kind),
		Version:         time.Now().UTC().Format(time.RFC3339Nano),
		Nodes:           nodes,
		DependencyGraph: depGraph,
		GlobalConfig: map[string]any{
			GlobalConfigReasoning:  raw.Reasoning,
			GlobalConfigConfidence: raw.Confidence,
			GlobalConfigKind:       string(kind),
		},
	}
}
