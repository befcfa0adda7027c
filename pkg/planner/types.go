// Package planner implements plan generation (C7) and re-planning (C8):
// a single LLM call that produces a DAG-shaped investigation plan, cached
// by a hash of its inputs, plus a heuristic + LLM-assisted evaluator that
// decides when an in-flight plan needs to be discarded and regenerated.
//
// Grounded on pkg/agent/controller/single_shot.go's single-LLM-call,
// no-tools pattern for the call shape, and on
// original_source/.../ooda_executor.rs's plan_observation_with_llm /
// parse_llm_observation_plan for the JSON-plan-with-markdown-fence-fallback
// idiom this package generalizes from observation planning to full DAG
// planning.
package planner

import (
	"time"

	"github.com/sentinelai/engine/pkg/scheduler"
)

// Kind selects which planner prompt is used. Planners differ only in
// prompt content — the generate/parse/cache machinery is shared, per
// spec.md §4.7 ("Planners are instantiated per architecture ... they
// differ in prompt content only").
type Kind string

const (
	KindOODAObserve    Kind = "ooda_observe"
	KindReWOO          Kind = "rewoo"
	KindPlanAndExecute Kind = "plan_and_execute"
)

// rawStep is the wire shape of one plan step as the LLM emits it.
type rawStep struct {
	ID           string         `json:"id"`
	Objective    string         `json:"objective"`
	SubAgentKind string         `json:"sub_agent_kind,omitempty"`
	Actions      []string       `json:"actions,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// rawPlan is the full wire shape of one generate_plan LLM response.
type rawPlan struct {
	Steps      []rawStep `json:"steps"`
	Reasoning  string    `json:"reasoning"`
	Confidence float64   `json:"confidence"`
}

// ReplanReason names why the re-planning engine decided a plan needs to be
// regenerated, per spec.md §4.8.
type ReplanReason string

const (
	ReasonNone              ReplanReason = ""
	ReasonStuckNoProgress   ReplanReason = "StuckNoProgress"
	ReasonRepeatedFailures  ReplanReason = "RepeatedFailures"
	ReasonMissingCapability ReplanReason = "MissingCapability"
	ReasonLowConfidence     ReplanReason = "LowConfidence"
	ReasonUserRequest       ReplanReason = "UserRequest"
)

// ReplanEvaluation is the result of evaluate_replan_need.
type ReplanEvaluation struct {
	ShouldReplan  bool
	Reason        ReplanReason
	ProgressScore float64
}

// RoundSummary is one round's worth of execution snapshot data, fed both to
// evaluate_replan_need (to detect stagnation/failure patterns) and to
// replan (as the "attempted approaches and error history" injected into the
// new plan's prompt).
type RoundSummary struct {
	Round          int
	CompletedTasks int
	FailedTasks    int
	TotalTasks     int
	Errors         []string // one entry per failed task this round
	MissingTools   []string // tool names the plan referenced but the router couldn't resolve
	Timestamp      time.Time
}

// Snapshot aggregates the rounds seen so far for replan-prompt injection —
// the Go equivalent of task_fetcher.rs/ooda_executor.rs's practice of
// feeding prior attempts back into a fresh LLM call so it avoids repeating
// them.
type Snapshot struct {
	Rounds         []RoundSummary
	AttemptedTools []string
	AbandonedSteps []string
}

// Config parameterizes a Planner. Cache is optional — nil disables caching.
type Config struct {
	Kind         Kind
	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration
}

// DefaultConfig returns sensible planner defaults: plan-and-execute prompt,
// caching on, TTL matching the joiner's max-iteration-scale rounds.
func DefaultConfig() Config {
	return Config{
		Kind:         KindPlanAndExecute,
		CacheEnabled: true,
		CacheSize:    256,
		CacheTTL:     10 * time.Minute,
	}
}

// toPlanNode converts one wire-format step into a scheduler.TaskNode.
// SubAgentKind (when present) doubles as the node's ToolName: both name
// "what executes this task", and the scheduler/executor boundary doesn't
// otherwise distinguish a tool invocation from a sub-agent dispatch.
func (s rawStep) toPlanNode(priority int) *scheduler.TaskNode {
	toolName := s.SubAgentKind
	inputs := make(map[string]any, len(s.Parameters)+1)
	for k, v := range s.Parameters {
		inputs[k] = v
	}
	if len(s.Actions) > 0 {
		inputs["actions"] = s.Actions
		if toolName == "" {
			toolName = s.Actions[0]
		}
	}

	return &scheduler.TaskNode{
		ID:           s.ID,
		Name:         s.Objective,
		ToolName:     toolName,
		Inputs:       inputs,
		Dependencies: s.Dependencies,
		Priority:     priority,
		Status:       scheduler.TaskPending,
		CreatedAt:    time.Now(),
	}
}

// GlobalConfig keys attached to a generated Plan for the reasoning/
// confidence metadata the raw LLM response carries, which scheduler.Plan
// has no dedicated fields for.
const (
	GlobalConfigReasoning  = "planner_reasoning"
	GlobalConfigConfidence = "planner_confidence"
	GlobalConfigKind       = "planner_kind"
)
