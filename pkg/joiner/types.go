// Package joiner implements the decision component (C6): after each round of
// DAG-scheduled task execution it decides whether the investigation should
// continue or is done, combining basic success metrics, an LLM-estimated
// goal-completion score, an efficiency score, a risk score, and a direct
// LLM decision into a single Complete/Continue verdict.
//
// Grounded on pkg/agent/controller/scoring.go's extractScore/retry pattern
// for tolerant numeric parsing and on original_source/joiner.rs
// (IntelligentJoiner) for the exact signal weights and decision thresholds.
package joiner

import (
	"time"

	"github.com/sentinelai/engine/pkg/scheduler"
)

// Decision is the outcome of one AnalyzeAndDecide call: either Complete or
// Continue. Callers type-switch on the concrete type.
type Decision interface {
	isDecision()
}

// Complete signals the investigation is done.
type Complete struct {
	Response   string
	Confidence float64
	Summary    ExecutionSummary
}

// Continue signals another round of scheduling is warranted.
type Continue struct {
	Feedback       string
	SuggestedTasks []*scheduler.TaskNode
	Confidence     float64
}

func (Complete) isDecision() {}
func (Continue) isDecision() {}

// ExecutionSummary aggregates the investigation's execution statistics,
// attached to a Complete decision for the final response.
type ExecutionSummary struct {
	TotalTasks        int
	SuccessfulTasks   int
	FailedTasks       int
	TotalDurationMs   int64
	ReplanningCount   int
	KeyFindings       []string
	EfficiencyMetrics EfficiencyMetrics
}

// EfficiencyMetrics reports how well the investigation used its rounds.
type EfficiencyMetrics struct {
	AverageParallelism    float64
	ResourceUtilization   float64
	TaskSuccessRate       float64
	AverageTaskDurationMs float64
}

// decisionRecord is one entry of the joiner's internal decision history,
// used to build the "previous decisions" context fed to future AI-decision
// prompts and to compute progress stagnation for the re-planning engine (C8).
type decisionRecord struct {
	Timestamp      time.Time
	Decision       Decision
	Reason         string
	Round          int
	CompletedTasks int
	FailedTasks    int
	Confidence     float64
}

// basicMetrics holds the round's raw success/duration counters, signal 1 of 5.
type basicMetrics struct {
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	SuccessRate    float64
	TotalDuration  int64 // ms
	AvgDuration    float64
}

// riskAssessment holds signal 4, the weighted continuation-risk score.
type riskAssessment struct {
	RoundRisk   float64
	FailureRisk float64
	TimeRisk    float64
	OverallRisk float64
}
