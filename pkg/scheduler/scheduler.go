package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/config"
)

// Scheduler is the DAG task-fetching unit (C5): it owns the waiting/ready/
// executing/completed/failed queues for one plan run, drives variable
// resolution and schema validation as tasks become ready, and propagates
// failures per its configured strategy. Grounded on task_fetcher.rs's
// TaskFetchingUnit, translated from its Arc<RwLock<..>>+mpsc shape into a
// single mutex-guarded struct with a buffered Go channel standing in for
// the Rust event loop — the concurrency primitive changes, the state
// machine doesn't.
type Scheduler struct {
	mu sync.Mutex

	waiting   []*TaskNode
	ready     []*TaskNode
	executing map[string]context.CancelFunc
	completed map[string]*TaskResult
	failed    map[string]*TaskResult

	dependencyGraph map[string][]string // task id -> dependency ids
	dependents      map[string][]string // task id -> dependent ids (reverse index)

	vars   *variableContext
	cache  *toolCallCache
	tools  map[string]*toolSchema
	cfg    *config.SchedulerConfig
	strategy FailurePropagationStrategy

	events chan SchedulingEvent
}

// New builds a Scheduler bound to a tool registry's JSON schemas (used to
// validate/coerce resolved task inputs) and a scheduler config (retry
// policy, failure strategy, cache size).
func New(cfg *config.SchedulerConfig, tools []agent.ToolDefinition) (*Scheduler, error) {
	if cfg == nil {
		cfg = config.DefaultSchedulerConfig()
	}
	cache, err := newToolCallCache(cfg.ToolCallCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build tool call cache: %w", err)
	}
	schemas := make(map[string]*toolSchema, len(tools))
	for _, t := range tools {
		s, err := compileToolSchema(t.Name, t.ParametersSchema)
		if err != nil {
			return nil, err
		}
		schemas[t.Name] = s
	}
	return &Scheduler{
		executing:       make(map[string]context.CancelFunc),
		completed:       make(map[string]*TaskResult),
		failed:          make(map[string]*TaskResult),
		dependencyGraph: make(map[string][]string),
		dependents:      make(map[string][]string),
		vars:            newVariableContext(),
		cache:           cache,
		tools:           schemas,
		cfg:             cfg,
		strategy:        ParseFailureStrategy(cfg.FailureStrategy),
		events:          make(chan SchedulingEvent, 256),
	}, nil
}

// Initialize resets the scheduler's queues to the start of a new plan: zero-
// dependency nodes go straight to ready (sorted by priority), everything
// else starts in waiting.
func (s *Scheduler) Initialize(plan *Plan) error {
	if _, err := topologicalOrder(nodeIDs(plan.Nodes), plan.DependencyGraph); err != nil {
		return err // reject a cyclic plan before any task runs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.waiting = nil
	s.ready = nil
	s.executing = make(map[string]context.CancelFunc)
	s.completed = make(map[string]*TaskResult)
	s.failed = make(map[string]*TaskResult)
	s.dependencyGraph = make(map[string][]string, len(plan.DependencyGraph))
	s.dependents = make(map[string][]string, len(plan.DependencyGraph))
	s.vars = newVariableContext()

	for k, v := range plan.GlobalConfig {
		s.vars.globals[k] = v
	}
	for k, v := range plan.VariableMappings {
		s.vars.mappings[k] = v
	}

	for id, deps := range plan.DependencyGraph {
		s.dependencyGraph[id] = append([]string(nil), deps...)
		for _, d := range deps {
			s.dependents[d] = append(s.dependents[d], id)
		}
	}

	for _, n := range plan.Nodes {
		if len(n.Dependencies) == 0 {
			n.Status = TaskReady
			s.ready = append(s.ready, n)
		} else {
			n.Status = TaskPending
			s.waiting = append(s.waiting, n)
		}
	}
	sortByPriority(s.ready)
	return nil
}

func nodeIDs(nodes []*TaskNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func sortByPriority(nodes []*TaskNode) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Priority < nodes[j].Priority })
}

// FetchNext pops the single highest-priority ready task, if any.
func (s *Scheduler) FetchNext() (*TaskNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil, false
	}
	t := s.ready[0]
	s.ready = s.ready[1:]
	return t, true
}

// FetchReady pops up to max ready tasks in priority order.
func (s *Scheduler) FetchReady(max int) []*TaskNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max <= 0 || max > len(s.ready) {
		max = len(s.ready)
	}
	out := s.ready[:max]
	s.ready = s.ready[max:]
	return out
}

// MarkExecuting records the cancel function for a task the caller is about
// to run, so CancelPending can abort it later.
func (s *Scheduler) MarkExecuting(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executing[id] = cancel
}

// CompleteTask reports a finished task's outcome back to the scheduler,
// dispatching it onto the internal event channel by status the same way
// task_fetcher.rs's complete_task routes to TaskCompleted/TaskFailed.
func (s *Scheduler) CompleteTask(result *TaskResult) error {
	if result.Task != nil {
		if argsJSON, err := json.Marshal(result.Task.Inputs); err == nil {
			s.cache.put(result.Task.ToolName, string(argsJSON), result)
		}
	}
	evt := SchedulingEvent{TaskID: result.TaskID, Result: result}
	switch result.Status {
	case TaskCompleted:
		evt.Kind = EventTaskCompleted
	case TaskFailed:
		evt.Kind = EventTaskFailed
		evt.Err = result.Error
		evt.RetryCount = result.RetryCount
	default:
		return fmt.Errorf("complete_task: unexpected status %s", result.Status)
	}
	select {
	case s.events <- evt:
		return nil
	default:
		return fmt.Errorf("complete_task: event channel full")
	}
}

// CancelPending aborts every executing task, drops everything still waiting
// or ready, and signals the event loop to stop.
func (s *Scheduler) CancelPending() {
	s.mu.Lock()
	for _, cancel := range s.executing {
		cancel()
	}
	s.executing = make(map[string]context.CancelFunc)
	s.waiting = nil
	s.ready = nil
	s.mu.Unlock()

	select {
	case s.events <- SchedulingEvent{Kind: EventShutdown}:
	default:
	}
}

// GetTopologicalOrder returns a valid execution order across the current
// waiting+ready+executing+completed+failed task set.
func (s *Scheduler) GetTopologicalOrder() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return topologicalOrder(s.allKnownIDsLocked(), s.dependencyGraph)
}

// ParallelGroups returns successive anti-chains of the current task set:
// group N depends only on groups < N.
func (s *Scheduler) ParallelGroups() ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return parallelGroups(s.allKnownIDsLocked(), s.dependencyGraph)
}

func (s *Scheduler) allKnownIDsLocked() []string {
	var ids []string
	for _, t := range s.waiting {
		ids = append(ids, t.ID)
	}
	for _, t := range s.ready {
		ids = append(ids, t.ID)
	}
	for id := range s.executing {
		ids = append(ids, id)
	}
	for id := range s.completed {
		ids = append(ids, id)
	}
	for id := range s.failed {
		ids = append(ids, id)
	}
	return ids
}

// MergeDependencyGraph adds edges a re-plan introduced, without disturbing
// tasks already scheduled.
func (s *Scheduler) MergeDependencyGraph(delta map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, deps := range delta {
		s.dependencyGraph[id] = append(s.dependencyGraph[id], deps...)
		for _, d := range deps {
			s.dependents[d] = append(s.dependents[d], id)
		}
	}
}

// MergeVariableMappings layers additional flat variable mappings on top of
// the current plan's (a re-plan delta, typically).
func (s *Scheduler) MergeVariableMappings(delta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.vars.mappings[k] = v
	}
}

// Status reports where a task id currently sits, searching waiting, ready,
// executing, completed, then failed in that order.
func (s *Scheduler) Status(id string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.waiting {
		if t.ID == id {
			return TaskPending, true
		}
	}
	for _, t := range s.ready {
		if t.ID == id {
			return TaskReady, true
		}
	}
	if _, ok := s.executing[id]; ok {
		return TaskExecuting, true
	}
	if r, ok := s.completed[id]; ok {
		return r.Status, true
	}
	if r, ok := s.failed[id]; ok {
		return r.Status, true
	}
	return 0, false
}

// CacheLookup checks the tool-call cache for a previously computed result
// before a task is dispatched for execution.
func (s *Scheduler) CacheLookup(toolName, argsJSON, requestingTaskID string) (*TaskResult, bool) {
	return s.cache.get(toolName, argsJSON, requestingTaskID)
}

// StartEventLoop drives the scheduler's internal event channel until ctx is
// cancelled or an EventShutdown arrives, the Go equivalent of
// start_event_driven_scheduling's tokio::select! loop.
func (s *Scheduler) StartEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-s.events:
			switch evt.Kind {
			case EventShutdown:
				return nil
			case EventTaskCompleted:
				s.handleTaskCompleted(evt.TaskID, evt.Result)
			case EventTaskFailed:
				s.handleTaskFailed(ctx, evt.TaskID, evt.Result, evt.Err, evt.RetryCount)
			case EventTaskAdded:
				s.handleTaskAdded(evt.Task)
			}
		}
	}
}

func (s *Scheduler) handleTaskCompleted(taskID string, result *TaskResult) {
	s.mu.Lock()
	delete(s.executing, taskID)
	s.completed[taskID] = result
	s.vars.recordCompletion(taskID, result)
	s.updateWaitingTasksLocked()
	s.mu.Unlock()
}

func (s *Scheduler) handleTaskFailed(ctx context.Context, taskID string, result *TaskResult, errMsg string, retryCount int) {
	s.mu.Lock()
	delete(s.executing, taskID)

	if retryCount < s.cfg.MaxTaskRetries && result != nil && result.Task != nil {
		retried := result.Task.clone()
		retried.RetryCount = retryCount + 1
		retried.Status = TaskPending
		retried.Tags = append(retried.Tags, fmt.Sprintf("retry_%d", retried.RetryCount))
		retried.CreatedAt = result.Task.CreatedAt
		s.mu.Unlock()

		delay := backoffDelay(s.cfg, retryCount+1)
		go func() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			select {
			case s.events <- SchedulingEvent{Kind: EventTaskAdded, Task: retried}:
			case <-ctx.Done():
			}
		}()
		return
	}

	if result == nil {
		result = &TaskResult{TaskID: taskID, Status: TaskFailed, Error: errMsg, RetryCount: retryCount}
	}
	s.failed[taskID] = result
	s.propagateFailure(taskID)
	s.mu.Unlock()
}

func (s *Scheduler) handleTaskAdded(task *TaskNode) {
	if task == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(task.Dependencies) == 0 {
		task.Status = TaskReady
		s.ready = append(s.ready, task)
		sortByPriority(s.ready)
	} else {
		task.Status = TaskPending
		s.waiting = append(s.waiting, task)
	}
}

// updateWaitingTasksLocked promotes every waiting task whose dependencies
// have all completed: resolves its variable references, validates/coerces
// against its tool's schema, and moves it to ready. Caller must hold s.mu.
func (s *Scheduler) updateWaitingTasksLocked() {
	var stillWaiting []*TaskNode
	promoted := false
	for _, t := range s.waiting {
		if !s.allDepsCompletedLocked(t.Dependencies) {
			stillWaiting = append(stillWaiting, t)
			continue
		}
		s.resolveTaskLocked(t)
		t.Status = TaskReady
		s.ready = append(s.ready, t)
		promoted = true
	}
	s.waiting = stillWaiting
	if promoted {
		sortByPriority(s.ready)
	}
}

func (s *Scheduler) allDepsCompletedLocked(deps []string) bool {
	for _, d := range deps {
		if _, ok := s.completed[d]; ok {
			continue
		}
		if _, ok := s.vars.completed[d]; ok { // fallback-injected synthetic completion
			continue
		}
		return false
	}
	return true
}

func (s *Scheduler) resolveTaskLocked(t *TaskNode) {
	resolved := s.vars.resolveAll(t.Inputs)
	inputs, _ := resolved.(map[string]any)
	if schema, ok := s.tools[t.ToolName]; ok {
		result := validateAndCoerce(schema, inputs)
		if !result.IsValid && result.CorrectedParams != nil {
			inputs = result.CorrectedParams
		}
	}
	t.Inputs = inputs
	t.VariableRefs = nil
}

// backoffDelay computes the capped exponential delay for a retry attempt
// and applies ±25% jitter via cenkalti/backoff's ExponentialBackOff. The
// formula matches spec.md §4.5: delay_ms = min(base*2^(n-1), max), jittered.
// ExponentialBackOff.currentInterval is unexported, so NextBackOff can't be
// called repeatedly to walk the curve — instead InitialInterval/MaxInterval
// are both pinned to the precomputed capped delay for this one retry, and
// NextBackOff is called exactly once to apply the library's jitter to it.
func backoffDelay(cfg *config.SchedulerConfig, retryAttempt int) time.Duration {
	base := cfg.RetryBaseDelay
	maxDelay := cfg.RetryMaxDelay
	if base <= 0 {
		base = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	exp := float64(base) * pow2(retryAttempt-1)
	delay := time.Duration(exp)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = delay
	b.RandomizationFactor = 0.25
	b.Multiplier = 1
	jittered := b.NextBackOff()
	if jittered == backoff.Stop || jittered <= 0 {
		return delay
	}
	return jittered
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}
