package ooda

import (
	"context"
	"fmt"

	"github.com/sentinelai/engine/pkg/config"
	"github.com/sentinelai/engine/pkg/joiner"
	"github.com/sentinelai/engine/pkg/planner"
	"github.com/sentinelai/engine/pkg/scheduler"
)

// Reviewer performs the optional final adversarial review step of the
// Plan→Execute→Review macro-shape, grounded on pkg/executor.FinalReviewer's
// "Tenth Man Rule" critique role — here run once over the whole
// investigation's results rather than once per executor.Run call.
type Reviewer interface {
	Review(ctx context.Context, query string, plan *scheduler.Plan, results []*scheduler.TaskResult) (critique string, err error)
}

// PlanExecuteResult is what PlanExecuteController.Run returns: the final
// plan that ran, every round's results, the joiner's terminal decision, and
// the review critique when a Reviewer was configured.
type PlanExecuteResult struct {
	Plan     *scheduler.Plan
	Results  []*scheduler.TaskResult
	Decision joiner.Decision
	Review   string
	Rounds   int
	Replans  int
}

// PlanExecuteController implements the Plan→Execute→Review macro-shape
// (C9): one Planner call produces a plan; the scheduler+executor drive it
// to completion; the joiner decides continue vs complete; the re-planning
// engine regenerates the plan when the joiner's signals (or its own
// heuristics) call for it. Both macro-shapes (this one and Controller's
// OODA loop) share the Scheduler/Executor/Joiner, per spec.md §4.9's
// closing sentence — this controller is simply the second of the two
// shapes wired around the same lower-level components.
type PlanExecuteController struct {
	planner            *planner.Planner
	joiner             *joiner.Joiner
	exec               StepExecutor
	reviewer           Reviewer // optional; nil skips the review step
	schedCfg           *config.SchedulerConfig
	plannerCfg         *config.PlannerConfig
	maxConcurrentSteps int
}

// NewPlanExecuteController builds a PlanExecuteController. reviewer may be
// nil to skip the final review step.
func NewPlanExecuteController(
	p *planner.Planner,
	j *joiner.Joiner,
	exec StepExecutor,
	reviewer Reviewer,
	schedCfg *config.SchedulerConfig,
	plannerCfg *config.PlannerConfig,
	maxConcurrentSteps int,
) *PlanExecuteController {
	if plannerCfg == nil {
		plannerCfg = config.DefaultPlannerConfig()
	}
	if maxConcurrentSteps <= 0 {
		maxConcurrentSteps = 4
	}
	return &PlanExecuteController{
		planner:            p,
		joiner:             j,
		exec:               exec,
		reviewer:           reviewer,
		schedCfg:           schedCfg,
		plannerCfg:         plannerCfg,
		maxConcurrentSteps: maxConcurrentSteps,
	}
}

// Run drives the full Plan→Execute→Review cycle: generate a plan, execute
// it to completion, ask the joiner whether to continue, replan when either
// the joiner asks for another round or the re-planning engine's own
// heuristics detect stagnation/failure/missing-capability/low-confidence,
// and repeat until the joiner reports Complete or maxRounds is exhausted.
func (c *PlanExecuteController) Run(
	ctx context.Context,
	plannerLLM planner.LLMConfig,
	joinerLLM joiner.LLMConfig,
	query, planContext string,
	maxRounds int,
) (*PlanExecuteResult, error) {
	plan, err := c.planner.GeneratePlan(ctx, plannerLLM, query, planContext)
	if err != nil {
		return nil, fmt.Errorf("initial plan generation failed: %w", err)
	}

	var (
		allResults []*scheduler.TaskResult
		decision   joiner.Decision
		snapshot   planner.Snapshot
		replans    int
	)

	for round := 1; maxRounds <= 0 || round <= maxRounds; round++ {
		sched, err := scheduler.New(c.schedCfg, nil)
		if err != nil {
			return nil, fmt.Errorf("round %d: build scheduler: %w", round, err)
		}
		if err := sched.Initialize(plan); err != nil {
			return nil, fmt.Errorf("round %d: initialize scheduler: %w", round, err)
		}

		results, err := driveRound(ctx, sched, plan, c.exec, c.maxConcurrentSteps)
		if err != nil {
			return &PlanExecuteResult{Plan: plan, Results: allResults, Rounds: round, Replans: replans}, fmt.Errorf("round %d: %w", round, err)
		}
		allResults = append(allResults, results...)

		roundSummary := summarizeRound(round, results)
		snapshot.Rounds = append(snapshot.Rounds, roundSummary)
		snapshot.AttemptedTools = append(snapshot.AttemptedTools, toolNames(results)...)

		decision, err = c.joiner.AnalyzeAndDecide(ctx, joinerLLM, query, plan, results, round)
		if err != nil {
			return nil, fmt.Errorf("round %d: joiner decision failed: %w", round, err)
		}

		if _, complete := decision.(joiner.Complete); complete {
			break
		}

		confidence, _ := plan.GlobalConfig[planner.GlobalConfigConfidence].(float64)
		eval := planner.EvaluateReplanNeed(plan, snapshot, confidence, c.plannerCfg)

		// Continue's SuggestedTasks are informational only here — the
		// replanner regenerates a full plan rather than splicing in
		// individual suggested tasks.
		if _, ok := decision.(joiner.Continue); ok && !eval.ShouldReplan {
			eval.ShouldReplan = true
			eval.Reason = planner.ReasonUserRequest
		}

		if !eval.ShouldReplan {
			break
		}

		newPlan, err := c.planner.Replan(ctx, plannerLLM, query, planContext, snapshot, eval)
		if err != nil {
			return nil, fmt.Errorf("round %d: replan failed: %w", round, err)
		}
		plan = newPlan
		replans++
		c.joiner.RecordReplan()
	}

	result := &PlanExecuteResult{
		Plan:     plan,
		Results:  allResults,
		Decision: decision,
		Rounds:   len(snapshot.Rounds),
		Replans:  replans,
	}

	if c.reviewer != nil {
		critique, err := c.reviewer.Review(ctx, query, plan, allResults)
		if err != nil {
			return result, fmt.Errorf("final review failed: %w", err)
		}
		result.Review = critique
	}

	return result, nil
}

// summarizeRound converts one round's raw task results into a
// planner.RoundSummary, the shape evaluate_replan_need and the replan
// prompt both consume.
func summarizeRound(round int, results []*scheduler.TaskResult) planner.RoundSummary {
	summary := planner.RoundSummary{Round: round, TotalTasks: len(results)}
	for _, r := range results {
		switch r.Status {
		case scheduler.TaskCompleted:
			summary.CompletedTasks++
		case scheduler.TaskFailed:
			summary.FailedTasks++
			if r.Error != "" {
				summary.Errors = append(summary.Errors, r.Error)
			}
		}
	}
	return summary
}

// toolNames collects the tool/sub-agent kind each result's task targeted,
// for Snapshot.AttemptedTools.
func toolNames(results []*scheduler.TaskResult) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		if r.Task != nil && r.Task.ToolName != "" {
			names = append(names, r.Task.ToolName)
		}
	}
	return names
}
