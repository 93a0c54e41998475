package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Swind/go-workflow-runner/core"
	"github.com/Swind/go-workflow-runner/ledger"
)

const (
	ActorWorkflowExecutor = "system:workflow_executor"
	DomainSystem          = "system"

	EventWorkflowStarted   = "workflow_started"
	EventWorkflowSucceeded = "workflow_succeeded"
	EventWorkflowFailed    = "workflow_failed"
	EventWorkflowCancelled = "workflow_cancelled"
	EventTaskRunning       = "task_running"
	EventTaskSucceeded     = "task_succeeded"
	EventTaskRetrying      = "task_retrying"
	EventTaskFailed        = "task_failed"
	EventTaskSkipped       = "task_skipped"

	DefaultMaxWorkers = 4
	DefaultBackoff    = time.Second

	executorPoolID   = "workflow-executor"
	poolDrainTimeout = 5 * time.Second
)

// EventRecorder is the ledger surface the executor writes to.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev ledger.Event) (int64, error)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxWorkers sets the pool size and the per-run cap on tasks in flight.
func WithMaxWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithLedger records run and task transitions to l.
func WithLedger(l *ledger.Ledger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.recorder = l
		}
	}
}

// WithEventRecorder records transitions to any EventRecorder.
func WithEventRecorder(r EventRecorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithBackoff sets the fixed delay between a failed attempt and its retry.
func WithBackoff(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.retry = core.FixedRetryPolicy(0, d) }
}

// WithLogger sets the executor's logger. A panic inside l is dropped along
// with the log line.
func WithLogger(l core.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = guardedLogger{l}
		}
	}
}

type guardedLogger struct {
	core.Logger
}

func (l guardedLogger) Debug(msg string, fields ...core.Field) {
	defer func() { _ = recover() }()
	l.Logger.Debug(msg, fields...)
}

func (l guardedLogger) Info(msg string, fields ...core.Field) {
	defer func() { _ = recover() }()
	l.Logger.Info(msg, fields...)
}

func (l guardedLogger) Warn(msg string, fields ...core.Field) {
	defer func() { _ = recover() }()
	l.Logger.Warn(msg, fields...)
}

func (l guardedLogger) Error(msg string, fields ...core.Field) {
	defer func() { _ = recover() }()
	l.Logger.Error(msg, fields...)
}

func WithMetrics(m Metrics) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithMonitor records every finished run in m.
func WithMonitor(m *Monitor) ExecutorOption {
	return func(e *Executor) { e.monitor = m }
}

// WithState saves a snapshot of every finished run in s.
func WithState(s *WorkflowState) ExecutorOption {
	return func(e *Executor) { e.state = s }
}

// WithPoolConfig sets the panic handler, metrics and rejection handler of the worker pool.
func WithPoolConfig(cfg *core.TaskSchedulerConfig) ExecutorOption {
	return func(e *Executor) { e.poolConfig = cfg }
}

// Executor runs workflow definitions on a bounded worker pool.
// One Executor can run many workflows concurrently.
type Executor struct {
	maxWorkers int
	pool       *core.GoroutineThreadPool
	poolConfig *core.TaskSchedulerConfig
	recorder   EventRecorder
	logger     core.Logger
	retry      core.RetryPolicy
	metrics    Metrics
	monitor    *Monitor
	state      *WorkflowState
	newID      func() string

	mu         sync.Mutex
	executions map[string]*WorkflowExecution
	closed     bool
	runs       sync.WaitGroup

	activeRuns atomic.Int64
	inFlight   atomic.Int64
	completed  atomic.Int64
}

// NewExecutor creates an executor and starts its worker pool.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		maxWorkers: DefaultMaxWorkers,
		logger:     core.NewNoOpLogger(),
		retry:      core.FixedRetryPolicy(0, DefaultBackoff),
		metrics:    nopMetrics{},
		executions: make(map[string]*WorkflowExecution),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}

	cfg := e.poolConfig
	if cfg == nil {
		cfg = &core.TaskSchedulerConfig{Logger: e.logger}
	}
	e.pool = core.NewGoroutineThreadPoolWithConfig(executorPoolID, e.maxWorkers, cfg)
	e.pool.Start(context.Background())
	return e
}

// MaxWorkers returns the configured concurrency.
func (e *Executor) MaxWorkers() int {
	return e.maxWorkers
}

// Execute runs def to completion and returns its record. It blocks until
// the run reaches a terminal status. Cancelling ctx stops new tasks from
// starting; tasks already running finish (their handlers see ctx). The run
// ends cancelled if ready tasks were left unstarted, otherwise it is judged
// on its task outcomes.
func (e *Executor) Execute(ctx context.Context, def *WorkflowDefinition) *WorkflowExecution {
	var (
		workflowID, name string
		metadata         map[string]any
	)
	if def != nil {
		workflowID, name, metadata = def.ID, def.Name, def.Metadata
	}
	exec := newWorkflowExecution(workflowID, e.newID(), name, metadata)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		now := time.Now()
		exec.StartedAt, exec.EndedAt = now, now
		exec.Status = WorkflowFailed
		exec.Errors = append(exec.Errors, ErrExecutorClosed.Error())
		return exec
	}
	e.executions[exec.ExecutionID] = exec
	e.runs.Add(1)
	e.mu.Unlock()
	defer e.runs.Done()

	e.activeRuns.Add(1)
	defer e.activeRuns.Add(-1)

	e.emit(ctx, ledger.Event{
		EventType: EventWorkflowStarted,
		Target:    exec.ExecutionID,
		Domain:    DomainSystem,
		Payload:   map[string]any{"workflow_name": name, "workflow_id": workflowID},
	})
	e.logger.Info("workflow started",
		core.F("workflow_id", workflowID),
		core.F("execution_id", exec.ExecutionID),
	)

	exec.update(func(x *WorkflowExecution) {
		x.StartedAt = time.Now()
		x.Status = WorkflowRunning
	})

	outcome := e.schedule(ctx, def, exec)
	e.finish(ctx, def, exec, outcome)
	return exec
}

type runOutcome struct {
	cancelled bool
	fault     error
}

func (e *Executor) schedule(ctx context.Context, def *WorkflowDefinition, exec *WorkflowExecution) (out runOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.fault = fmt.Errorf("scheduling fault: %v", r)
		}
	}()

	if def == nil {
		out.fault = errors.New("nil workflow definition")
		return out
	}
	if err := def.Validate(); err != nil {
		out.fault = err
		return out
	}
	out.cancelled = newScheduler(e, def, exec).run(ctx)
	return out
}

func (e *Executor) finish(ctx context.Context, def *WorkflowDefinition, exec *WorkflowExecution, out runOutcome) {
	var (
		status   WorkflowStatus
		errs     []string
		blocked  []string
		duration time.Duration
	)
	exec.update(func(x *WorkflowExecution) {
		x.EndedAt = time.Now()
		if def != nil {
			for _, id := range def.TaskIDs() {
				if _, ok := x.Tasks[id]; !ok {
					blocked = append(blocked, id)
				}
			}
		}
		x.Blocked = blocked

		switch {
		case out.fault != nil:
			x.Errors = append(x.Errors, out.fault.Error())
			status = WorkflowFailed
		case out.cancelled:
			status = WorkflowCancelled
		case hasFailedTask(x):
			status = WorkflowFailed
		default:
			status = WorkflowSuccess
		}
		x.Status = status
		errs = append([]string(nil), x.Errors...)
		duration = x.durationLocked()
	})

	fields := []core.Field{
		core.F("workflow_id", exec.WorkflowID),
		core.F("execution_id", exec.ExecutionID),
		core.F("status", status.String()),
		core.F("duration", duration),
	}
	switch {
	case out.fault != nil:
		e.emit(ctx, e.workflowEvent(exec, EventWorkflowFailed, map[string]any{"error": out.fault.Error()}))
		e.logger.Error("workflow fault", append(fields, core.F("error", out.fault))...)
	case status == WorkflowCancelled:
		reason := "cancelled"
		if err := ctx.Err(); err != nil {
			reason = err.Error()
		}
		e.emit(ctx, e.workflowEvent(exec, EventWorkflowCancelled, map[string]any{"reason": reason, "blocked": blocked}))
		e.logger.Warn("workflow cancelled", append(fields, core.F("blocked", len(blocked)))...)
	case status == WorkflowFailed:
		e.emit(ctx, e.workflowEvent(exec, EventWorkflowFailed, map[string]any{"errors": errs}))
		e.logger.Warn("workflow failed", append(fields, core.F("errors", errs))...)
	default:
		e.emit(ctx, e.workflowEvent(exec, EventWorkflowSucceeded, nil))
		e.logger.Info("workflow succeeded", fields...)
	}

	e.completed.Add(1)
	e.metrics.RecordWorkflow(exec.Name, status, duration)
	if e.monitor != nil {
		e.monitor.RecordExecution(exec)
	}
	if e.state != nil {
		if err := e.state.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
			e.logger.Warn("save execution state failed", core.F("execution_id", exec.ExecutionID), core.F("error", err))
		}
	}
}

func hasFailedTask(x *WorkflowExecution) bool {
	for _, t := range x.Tasks {
		if t.Status == TaskFailed {
			return true
		}
	}
	return false
}

func (e *Executor) workflowEvent(exec *WorkflowExecution, eventType string, payload map[string]any) ledger.Event {
	return ledger.Event{
		EventType: eventType,
		Target:    exec.ExecutionID,
		Domain:    DomainSystem,
		Payload:   payload,
	}
}

// emit writes ev to the ledger. Ledger failures are logged and never fail the run.
func (e *Executor) emit(ctx context.Context, ev ledger.Event) {
	if e.recorder == nil {
		return
	}
	ev.Actor = ActorWorkflowExecutor
	if err := e.record(ctx, ev); err != nil {
		e.logger.Warn("ledger write failed",
			core.F("event_type", ev.EventType),
			core.F("target", ev.Target),
			core.F("error", err),
		)
	}
}

// record turns a panicking recorder into an error.
func (e *Executor) record(ctx context.Context, ev ledger.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	_, err = e.recorder.RecordEvent(context.WithoutCancel(ctx), ev)
	return err
}

// Execution returns a snapshot of the run with the given execution id.
func (e *Executor) Execution(id string) (*WorkflowExecution, bool) {
	e.mu.Lock()
	exec, ok := e.executions[id]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return exec.Snapshot(), true
}

// Executions returns snapshots of every run this executor has started, oldest first.
func (e *Executor) Executions() []*WorkflowExecution {
	e.mu.Lock()
	live := make([]*WorkflowExecution, 0, len(e.executions))
	for _, exec := range e.executions {
		live = append(live, exec)
	}
	e.mu.Unlock()

	out := make([]*WorkflowExecution, 0, len(live))
	for _, exec := range live {
		out = append(out, exec.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Stats returns a point-in-time view of the executor.
func (e *Executor) Stats() core.ExecutorStats {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	return core.ExecutorStats{
		MaxWorkers:    e.maxWorkers,
		ActiveRuns:    int(e.activeRuns.Load()),
		InFlightTasks: int(e.inFlight.Load()),
		CompletedRuns: e.completed.Load(),
		Closed:        closed,
	}
}

// Pool exposes the worker pool for stats polling.
func (e *Executor) Pool() core.ThreadPool {
	return e.pool
}

// Close waits for running workflows to finish, then drains and stops the
// worker pool. Execute calls made after Close return a failed run.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.runs.Wait()
	return e.pool.StopGraceful(poolDrainTimeout)
}
