package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"github.com/Swind/go-workflow-runner/core"
	"github.com/Swind/go-workflow-runner/ledger"
)

type progressKind uint8

const (
	progressAttempt progressKind = iota
	progressRetrying
	progressFinished
)

// taskProgress is sent from a worker to the run's scheduling loop.
// Workers never write the execution record themselves.
type taskProgress struct {
	kind    progressKind
	taskID  string
	attempt int
	status  TaskStatus
	result  any
	err     error
	at      time.Time
}

var errSkipped = errors.New("condition not met")

// scheduler drives one run. All of its fields are owned by the goroutine
// that called Execute.
type scheduler struct {
	e          *Executor
	def        *WorkflowDefinition
	exec       *WorkflowExecution
	indegree   map[string]int
	downstream map[string][]string
	ready      *core.FIFOQueue[string]
	submitted  map[string]bool
	inFlight   int
	updates    chan taskProgress
}

func newScheduler(e *Executor, def *WorkflowDefinition, exec *WorkflowExecution) *scheduler {
	s := &scheduler{
		e:          e,
		def:        def,
		exec:       exec,
		indegree:   make(map[string]int, len(def.Tasks)),
		downstream: make(map[string][]string),
		ready:      core.NewFIFOQueue[string](),
		submitted:  make(map[string]bool, len(def.Tasks)),
		updates:    make(chan taskProgress, e.maxWorkers),
	}
	for _, id := range def.TaskIDs() {
		task := def.Tasks[id]
		s.indegree[id] = len(task.DependsOn)
		for _, dep := range task.DependsOn {
			s.downstream[dep] = append(s.downstream[dep], id)
		}
		if len(task.DependsOn) == 0 {
			s.ready.Push(id)
		}
	}
	return s
}

// run admits ready tasks up to the worker cap and applies worker progress
// until nothing is in flight. It reports whether cancellation left ready
// tasks unadmitted. Tasks starved by a failed or skipped dependency never
// become ready, so they do not count.
func (s *scheduler) run(ctx context.Context) (cancelled bool) {
	defer s.drain()

	for {
		if ctx.Err() != nil {
			if !s.ready.IsEmpty() {
				cancelled = true
			}
		} else {
			s.admit(ctx)
		}
		if s.inFlight == 0 {
			break
		}
		s.apply(<-s.updates)
	}
	return cancelled
}

// drain waits out workers still in flight when run unwinds early.
func (s *scheduler) drain() {
	for s.inFlight > 0 {
		if msg := <-s.updates; msg.kind == progressFinished {
			s.inFlight--
			s.e.inFlight.Add(-1)
		}
	}
}

func (s *scheduler) admit(ctx context.Context) {
	for s.inFlight < s.e.maxWorkers {
		id, ok := s.ready.Pop()
		if !ok {
			return
		}
		s.dispatch(ctx, id)
	}
}

func (s *scheduler) dispatch(ctx context.Context, id string) {
	task := s.def.Tasks[id]
	s.submitted[id] = true

	var inputs map[string]any
	s.exec.update(func(x *WorkflowExecution) {
		x.Tasks[id] = &TaskExecution{
			TaskID:    id,
			Name:      task.Name,
			Status:    TaskRunning,
			StartedAt: time.Now(),
			Metadata:  maps.Clone(task.Metadata),
		}
		inputs = make(map[string]any, len(task.DependsOn))
		for _, dep := range task.DependsOn {
			if t, ok := x.Tasks[dep]; ok {
				inputs[dep] = t.Result
			}
		}
	})

	s.inFlight++
	s.e.inFlight.Add(1)

	w := &taskWorker{
		e:       s.e,
		exec:    s.exec,
		task:    task,
		inputs:  inputs,
		updates: s.updates,
	}
	posted := s.e.pool.PostInternal(func(context.Context) { w.run(ctx) }, core.TraitsForCategory(task.Domain))
	if !posted {
		s.apply(taskProgress{kind: progressFinished, taskID: id, status: TaskFailed, err: ErrExecutorClosed, at: time.Now()})
	}
}

func (s *scheduler) apply(msg taskProgress) {
	id := msg.taskID
	task := s.def.Tasks[id]

	switch msg.kind {
	case progressAttempt:
		s.exec.update(func(x *WorkflowExecution) {
			t := x.Tasks[id]
			t.Attempts = msg.attempt
			t.Status = TaskRunning
		})

	case progressRetrying:
		s.exec.update(func(x *WorkflowExecution) {
			x.Tasks[id].Status = TaskRetrying
		})
		s.e.metrics.RecordTaskRetry(task.Domain)
		s.e.logger.Warn("task retrying",
			core.F("execution_id", s.exec.ExecutionID),
			core.F("task_id", id),
			core.F("attempt", msg.attempt),
			core.F("error", msg.err),
		)

	case progressFinished:
		s.inFlight--
		s.e.inFlight.Add(-1)

		var (
			attempts int
			duration time.Duration
		)
		s.exec.update(func(x *WorkflowExecution) {
			t := x.Tasks[id]
			t.Status = msg.status
			t.EndedAt = msg.at
			if msg.attempt > 0 {
				t.Attempts = msg.attempt
			}
			switch msg.status {
			case TaskSuccess:
				t.Result = msg.result
				t.Outputs = map[string]any{id: msg.result}
				x.Outputs[id] = msg.result
			case TaskFailed:
				t.Error = msg.err.Error()
				x.Errors = append(x.Errors, fmt.Sprintf("%s: %s", id, t.Error))
			}
			attempts = t.Attempts
			duration = t.Duration()
		})
		s.e.metrics.RecordTask(task.Domain, msg.status, attempts, duration)
		s.e.logger.Debug("task finished",
			core.F("execution_id", s.exec.ExecutionID),
			core.F("task_id", id),
			core.F("status", msg.status.String()),
			core.F("attempts", attempts),
		)

		if msg.status != TaskSuccess {
			return
		}
		for _, next := range s.downstream[id] {
			s.indegree[next]--
			if s.indegree[next] == 0 && !s.submitted[next] {
				s.ready.Push(next)
			}
		}
	}
}

// taskWorker runs every attempt of one task on a pool goroutine.
type taskWorker struct {
	e       *Executor
	exec    *WorkflowExecution
	task    TaskDefinition
	inputs  map[string]any
	updates chan<- taskProgress

	attempts int
	finished bool
}

func (w *taskWorker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil && !w.finished {
			w.finish(w.attempts, TaskFailed, nil, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	task := w.task
	w.emit(ctx, EventTaskRunning, map[string]any{
		"workflow_id":  w.exec.WorkflowID,
		"execution_id": w.exec.ExecutionID,
	})

	policy := w.e.retry.WithMaxRetries(task.Retries)
	var lastErr error
	attempt := 1
	for ; ; attempt++ {
		w.attempts = attempt
		w.updates <- taskProgress{kind: progressAttempt, taskID: task.ID, attempt: attempt}

		result, err := w.attempt(ctx)
		if errors.Is(err, errSkipped) {
			w.emit(ctx, EventTaskSkipped, map[string]any{"condition": "failed"})
			w.finish(attempt, TaskSkipped, nil, nil)
			return
		}
		if err == nil {
			w.emit(ctx, EventTaskSucceeded, map[string]any{"result": fmt.Sprint(result)})
			w.finish(attempt, TaskSuccess, result, nil)
			return
		}

		lastErr = err
		if attempt > policy.MaxRetries {
			break
		}
		w.emit(ctx, EventTaskRetrying, map[string]any{"attempt": attempt, "error": err.Error()})
		w.updates <- taskProgress{kind: progressRetrying, taskID: task.ID, attempt: attempt, err: err}
		if !core.Sleep(ctx, policy.Delay(attempt-1)) {
			lastErr = fmt.Errorf("%w (retry abandoned: %v)", err, ctx.Err())
			break
		}
	}

	w.emit(ctx, EventTaskFailed, map[string]any{"error": lastErr.Error()})
	w.finish(attempt, TaskFailed, nil, lastErr)
}

// attempt checks the condition against the outputs visible right now, then
// calls the handler.
func (w *taskWorker) attempt(ctx context.Context) (any, error) {
	if w.task.Condition != nil {
		pass, err := evaluateCondition(w.task.Condition, w.exec.outputsSnapshot())
		if err != nil {
			return nil, err
		}
		if !pass {
			return nil, errSkipped
		}
	}
	return invoke(ctx, w.task, maps.Clone(w.inputs))
}

func (w *taskWorker) finish(attempt int, status TaskStatus, result any, err error) {
	w.finished = true
	w.updates <- taskProgress{
		kind:    progressFinished,
		taskID:  w.task.ID,
		attempt: attempt,
		status:  status,
		result:  result,
		err:     err,
		at:      time.Now(),
	}
}

func (w *taskWorker) emit(ctx context.Context, eventType string, payload map[string]any) {
	w.e.emit(ctx, ledger.Event{
		EventType: eventType,
		Target:    w.task.ID,
		Domain:    w.task.Domain,
		Payload:   payload,
	})
}

type handlerResult struct {
	value any
	err   error
}

// invoke calls the handler, bounded by the task timeout when one is set.
// A handler that ignores its context keeps running after the timeout fires;
// its result is discarded.
func invoke(ctx context.Context, task TaskDefinition, inputs map[string]any) (any, error) {
	if task.Timeout <= 0 {
		return callHandler(ctx, task.Handler, inputs)
	}

	tctx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		v, err := callHandler(tctx, task.Handler, inputs)
		done <- handlerResult{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{TaskID: task.ID, Timeout: task.Timeout}
		}
		return res.value, res.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{TaskID: task.ID, Timeout: task.Timeout}
	}
}

func callHandler(ctx context.Context, h Handler, inputs map[string]any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(ctx, inputs)
}

func evaluateCondition(cond Condition, outputs map[string]any) (pass bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return cond(outputs), nil
}
