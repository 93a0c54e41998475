package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Swind/go-workflow-runner/core"
	"github.com/Swind/go-workflow-runner/ledger"
)

// memoryRecorder keeps events in memory for assertions.
type memoryRecorder struct {
	mu     sync.Mutex
	events []ledger.Event
	fail   error
}

func (r *memoryRecorder) RecordEvent(ctx context.Context, ev ledger.Event) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	r.events = append(r.events, ev)
	return int64(len(r.events)), nil
}

func (r *memoryRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (r *memoryRecorder) byType(eventType string) []ledger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ledger.Event
	for _, ev := range r.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func returning(v any) Handler {
	return func(context.Context, map[string]any) (any, error) { return v, nil }
}

func failing(msg string) Handler {
	return func(context.Context, map[string]any) (any, error) { return nil, errors.New(msg) }
}

func newTestExecutor(t *testing.T, opts ...ExecutorOption) *Executor {
	t.Helper()
	opts = append([]ExecutorOption{WithBackoff(time.Millisecond)}, opts...)
	e := NewExecutor(opts...)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mustBuild(t *testing.T, b *Builder) *WorkflowDefinition {
	t.Helper()
	def, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return def
}

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func countEvents(t *testing.T, l *ledger.Ledger, eventType string) int64 {
	t.Helper()
	n, err := l.Count(context.Background(), ledger.Filter{EventType: eventType})
	if err != nil {
		t.Fatalf("Count(%s) failed: %v", eventType, err)
	}
	return n
}

// TestExecutor_LinearSuccessWithLedger tests a two-task chain against a real SQLite ledger
// Main test items:
// 1. The run succeeds and both tasks record a result
// 2. The downstream handler receives the upstream result as input
// 3. The ledger holds exactly the expected events
func TestExecutor_LinearSuccessWithLedger(t *testing.T) {
	l := openLedger(t)
	exec := newTestExecutor(t, WithMaxWorkers(2), WithLedger(l))

	var got any
	def := mustBuild(t, NewBuilder("wf-a", "linear").
		AddTask("task_1", "first", returning("one")).
		AddTask("task_2", "second", func(_ context.Context, in map[string]any) (any, error) {
			got = in["task_1"]
			return "two", nil
		}, DependsOn("task_1")))

	run := exec.Execute(context.Background(), def)

	if run.Status != WorkflowSuccess {
		t.Fatalf("expected success, got %s (errors %v)", run.Status, run.Errors)
	}
	if got != "one" {
		t.Errorf("expected task_2 input %q, got %v", "one", got)
	}
	if run.Outputs["task_2"] != "two" {
		t.Errorf("expected output two, got %v", run.Outputs["task_2"])
	}

	want := map[string]int64{
		EventTaskRunning:       2,
		EventTaskSucceeded:     2,
		EventWorkflowStarted:   1,
		EventWorkflowSucceeded: 1,
		EventWorkflowFailed:    0,
	}
	for eventType, n := range want {
		if c := countEvents(t, l, eventType); c != n {
			t.Errorf("expected %d %s events, got %d", n, eventType, c)
		}
	}

	started, err := l.QueryEvents(context.Background(), ledger.Filter{EventType: EventWorkflowStarted})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if started[0].Actor != ActorWorkflowExecutor || started[0].Target != run.ExecutionID || started[0].Domain != DomainSystem {
		t.Errorf("unexpected workflow_started event: %+v", started[0])
	}
	if started[0].Payload["workflow_id"] != "wf-a" {
		t.Errorf("expected workflow_id in payload, got %v", started[0].Payload)
	}
}

// TestExecutor_FailureWithRetryAndLedger tests a failing task downstream of a good one
// Main test items:
// 1. The run fails with "task_bad: <message>" in its errors
// 2. task_bad made exactly retries+1 attempts
// 3. The ledger holds one retry, one failure and one workflow_failed event
func TestExecutor_FailureWithRetryAndLedger(t *testing.T) {
	l := openLedger(t)
	exec := newTestExecutor(t, WithLedger(l))

	def := mustBuild(t, NewBuilder("wf-b", "failing").
		AddTask("task_good", "good", returning(1)).
		AddTask("task_bad", "bad", failing("boom"), DependsOn("task_good"), Retries(1)))

	run := exec.Execute(context.Background(), def)

	if run.Status != WorkflowFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if len(run.Errors) != 1 || run.Errors[0] != "task_bad: boom" {
		t.Errorf("unexpected errors: %v", run.Errors)
	}
	bad := run.Tasks["task_bad"]
	if bad.Status != TaskFailed || bad.Attempts != 2 || bad.Error != "boom" {
		t.Errorf("unexpected task_bad record: %+v", bad)
	}

	want := map[string]int64{
		EventTaskRunning:    2,
		EventTaskSucceeded:  1,
		EventTaskRetrying:   1,
		EventTaskFailed:     1,
		EventWorkflowFailed: 1,
	}
	for eventType, n := range want {
		if c := countEvents(t, l, eventType); c != n {
			t.Errorf("expected %d %s events, got %d", n, eventType, c)
		}
	}
}

// TestExecutor_RetryThenSucceed tests that a flaky task succeeds on a later attempt
func TestExecutor_RetryThenSucceed(t *testing.T) {
	rec := &memoryRecorder{}
	exec := newTestExecutor(t, WithEventRecorder(rec))

	var calls atomic.Int32
	def := mustBuild(t, NewBuilder("", "flaky").
		AddTask("flaky", "flaky", func(context.Context, map[string]any) (any, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("not yet")
			}
			return "ok", nil
		}, Retries(3)))

	run := exec.Execute(context.Background(), def)

	if run.Status != WorkflowSuccess {
		t.Fatalf("expected success, got %s", run.Status)
	}
	if run.Tasks["flaky"].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", run.Tasks["flaky"].Attempts)
	}
	if n := rec.count(EventTaskRetrying); n != 2 {
		t.Errorf("expected 2 retry events, got %d", n)
	}
	retries := rec.byType(EventTaskRetrying)
	if retries[0].Payload["attempt"] != 1 || retries[1].Payload["attempt"] != 2 {
		t.Errorf("unexpected retry payloads: %v, %v", retries[0].Payload, retries[1].Payload)
	}
}

// TestExecutor_Timeout tests that a handler exceeding its timeout fails the task
func TestExecutor_Timeout(t *testing.T) {
	exec := newTestExecutor(t)

	def := mustBuild(t, NewBuilder("", "slow").
		AddTask("slow", "slow", func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "late", nil
			}
		}, Timeout(20*time.Millisecond)))

	start := time.Now()
	run := exec.Execute(context.Background(), def)

	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout did not bound the handler")
	}
	if run.Status != WorkflowFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	want := "slow: task slow timed out after 20ms"
	if len(run.Errors) != 1 || run.Errors[0] != want {
		t.Errorf("expected %q, got %v", want, run.Errors)
	}
}

// TestExecutor_HandlerPanic tests that a panicking handler fails its task without crashing
func TestExecutor_HandlerPanic(t *testing.T) {
	exec := newTestExecutor(t)

	def := mustBuild(t, NewBuilder("", "panic").
		AddTask("p", "p", func(context.Context, map[string]any) (any, error) {
			panic("kaboom")
		}).
		AddTask("other", "other", returning("fine")))

	run := exec.Execute(context.Background(), def)

	if run.Status != WorkflowFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.Tasks["p"].Error != "panic: kaboom" {
		t.Errorf("unexpected error: %q", run.Tasks["p"].Error)
	}
	if run.Tasks["other"].Status != TaskSuccess {
		t.Errorf("sibling should still succeed, got %s", run.Tasks["other"].Status)
	}
}

// TestExecutor_ConditionSkip tests condition gating
// Given: a task whose condition rejects the outputs of its dependency
// When: the workflow runs
// Then: the task is skipped, its dependent never starts and the run still succeeds
func TestExecutor_ConditionSkip(t *testing.T) {
	rec := &memoryRecorder{}
	exec := newTestExecutor(t, WithEventRecorder(rec))

	var ran atomic.Bool
	def := mustBuild(t, NewBuilder("", "cond").
		AddTask("check", "check", returning(false)).
		AddTask("deploy", "deploy", returning("deployed"),
			DependsOn("check"),
			When(func(out map[string]any) bool { return out["check"] == true })).
		AddTask("notify", "notify", func(context.Context, map[string]any) (any, error) {
			ran.Store(true)
			return nil, nil
		}, DependsOn("deploy")))

	run := exec.Execute(context.Background(), def)

	if run.Status != WorkflowSuccess {
		t.Fatalf("expected success, got %s", run.Status)
	}
	if run.Tasks["deploy"].Status != TaskSkipped {
		t.Errorf("expected deploy skipped, got %s", run.Tasks["deploy"].Status)
	}
	if ran.Load() {
		t.Error("notify should never run")
	}
	if _, ok := run.Tasks["notify"]; ok {
		t.Error("notify should have no execution record")
	}
	if len(run.Blocked) != 1 || run.Blocked[0] != "notify" {
		t.Errorf("expected notify blocked, got %v", run.Blocked)
	}
	if counts := run.TaskCounts(); counts[TaskSuccess] != 1 || counts[TaskSkipped] != 1 || len(counts) != 2 {
		t.Errorf("unexpected task counts: %v", counts)
	}
	skipped := rec.byType(EventTaskSkipped)
	if len(skipped) != 1 || skipped[0].Payload["condition"] != "failed" {
		t.Errorf("unexpected skip events: %v", skipped)
	}
}

// TestExecutor_FailureStarvesOnlyItsBranch tests failure isolation
// Main test items:
// 1. Descendants of a failed task are never submitted
// 2. An unrelated branch still completes
func TestExecutor_FailureStarvesOnlyItsBranch(t *testing.T) {
	exec := newTestExecutor(t, WithMaxWorkers(2))

	def := mustBuild(t, NewBuilder("", "branches").
		AddTask("a", "a", failing("bad input")).
		AddTask("a_child", "a child", returning(1), DependsOn("a")).
		AddTask("a_grandchild", "a grandchild", returning(2), DependsOn("a_child")).
		AddTask("b", "b", returning(3)).
		AddTask("b_child", "b child", returning(4), DependsOn("b")))

	run := exec.Execute(context.Background(), def)

	if run.Status != WorkflowFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.Tasks["b_child"] == nil || run.Tasks["b_child"].Status != TaskSuccess {
		t.Errorf("b_child should succeed")
	}
	for _, id := range []string{"a_child", "a_grandchild"} {
		if _, ok := run.Tasks[id]; ok {
			t.Errorf("%s should never be submitted", id)
		}
	}
	if strings.Join(run.Blocked, ",") != "a_child,a_grandchild" {
		t.Errorf("unexpected blocked list: %v", run.Blocked)
	}
}

// TestExecutor_Diamond tests fan-out and fan-in
func TestExecutor_Diamond(t *testing.T) {
	exec := newTestExecutor(t, WithMaxWorkers(4))

	sum := func(_ context.Context, in map[string]any) (any, error) {
		total := 0
		for _, v := range in {
			total += v.(int)
		}
		return total, nil
	}
	def := mustBuild(t, NewBuilder("", "diamond").
		AddTask("root", "root", returning(1)).
		AddTask("left", "left", sum, DependsOn("root")).
		AddTask("right", "right", sum, DependsOn("root")).
		AddTask("join", "join", sum, DependsOn("left", "right")))

	run := exec.Execute(context.Background(), def)

	if run.Status != WorkflowSuccess {
		t.Fatalf("expected success, got %s (%v)", run.Status, run.Errors)
	}
	if run.Outputs["join"] != 2 {
		t.Errorf("expected join output 2, got %v", run.Outputs["join"])
	}
	if run.Tasks["join"].Outputs["join"] != 2 {
		t.Errorf("task outputs should carry its own result, got %v", run.Tasks["join"].Outputs)
	}
}

// TestExecutor_ConcurrencyBound tests that a run never exceeds max workers
func TestExecutor_ConcurrencyBound(t *testing.T) {
	const workers = 3
	exec := newTestExecutor(t, WithMaxWorkers(workers))

	var current, peak atomic.Int32
	handler := func(context.Context, map[string]any) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	}

	b := NewBuilder("", "wide")
	for _, id := range []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"} {
		b.AddTask(id, id, handler)
	}
	run := exec.Execute(context.Background(), mustBuild(t, b))

	if run.Status != WorkflowSuccess {
		t.Fatalf("expected success, got %s", run.Status)
	}
	if p := peak.Load(); p > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", p, workers)
	}
	if p := peak.Load(); p < 2 {
		t.Errorf("expected tasks to run in parallel, peak was %d", p)
	}
}

// TestExecutor_ConcurrentRuns tests that one executor runs many workflows at once
func TestExecutor_ConcurrentRuns(t *testing.T) {
	exec := newTestExecutor(t, WithMaxWorkers(4))
	def := mustBuild(t, NewBuilder("", "shared").
		AddTask("a", "a", returning(1)).
		AddTask("b", "b", returning(2), DependsOn("a")))

	const runs = 8
	var wg sync.WaitGroup
	results := make([]*WorkflowExecution, runs)
	for i := range runs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = exec.Execute(context.Background(), def)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, run := range results {
		if run.Status != WorkflowSuccess {
			t.Errorf("run %s: expected success, got %s", run.ExecutionID, run.Status)
		}
		if seen[run.ExecutionID] {
			t.Errorf("duplicate execution id %s", run.ExecutionID)
		}
		seen[run.ExecutionID] = true
	}
	if n := len(exec.Executions()); n != runs {
		t.Errorf("expected %d registered executions, got %d", runs, n)
	}
	if s := exec.Stats(); s.CompletedRuns != runs || s.ActiveRuns != 0 || s.InFlightTasks != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

// TestExecutor_Cancellation tests that a cancelled context stops admission
// Given: a chain whose first task cancels the run's context
// When: the first task finishes
// Then: the second task never starts and the run ends cancelled
func TestExecutor_Cancellation(t *testing.T) {
	rec := &memoryRecorder{}
	exec := newTestExecutor(t, WithMaxWorkers(1), WithEventRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	def := mustBuild(t, NewBuilder("", "cancel").
		AddTask("first", "first", func(context.Context, map[string]any) (any, error) {
			cancel()
			return "done", nil
		}).
		AddTask("second", "second", returning("never"), DependsOn("first")))

	run := exec.Execute(ctx, def)

	if run.Status != WorkflowCancelled {
		t.Fatalf("expected cancelled, got %s", run.Status)
	}
	if run.Tasks["first"].Status != TaskSuccess {
		t.Errorf("in-flight task should finish, got %s", run.Tasks["first"].Status)
	}
	if _, ok := run.Tasks["second"]; ok {
		t.Error("second should not be admitted after cancellation")
	}
	if n := rec.count(EventWorkflowCancelled); n != 1 {
		t.Errorf("expected 1 workflow_cancelled event, got %d", n)
	}
}

// TestExecutor_Cycle tests that tasks on a cycle never start
func TestExecutor_Cycle(t *testing.T) {
	exec := newTestExecutor(t)

	def := mustBuild(t, NewBuilder("", "cycle").
		AddTask("start", "start", returning(0)).
		AddTask("x", "x", returning(1), DependsOn("y")).
		AddTask("y", "y", returning(2), DependsOn("x")))

	done := make(chan *WorkflowExecution, 1)
	go func() { done <- exec.Execute(context.Background(), def) }()

	select {
	case run := <-done:
		if run.Status != WorkflowSuccess {
			t.Errorf("expected success, got %s", run.Status)
		}
		if strings.Join(run.Blocked, ",") != "x,y" {
			t.Errorf("expected x and y blocked, got %v", run.Blocked)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return for a cyclic graph")
	}
}

// TestExecutor_SchedulingFault tests definitions that bypass the builder
func TestExecutor_SchedulingFault(t *testing.T) {
	rec := &memoryRecorder{}
	exec := newTestExecutor(t, WithEventRecorder(rec))

	run := exec.Execute(context.Background(), nil)
	if run.Status != WorkflowFailed || len(run.Errors) != 1 {
		t.Fatalf("expected failed run with one error, got %s %v", run.Status, run.Errors)
	}

	bad := &WorkflowDefinition{
		ID: "manual",
		Tasks: map[string]TaskDefinition{
			"a": {ID: "a", Handler: returning(1), DependsOn: []string{"ghost"}},
		},
	}
	run = exec.Execute(context.Background(), bad)
	if run.Status != WorkflowFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if !strings.Contains(run.Errors[0], "ghost") {
		t.Errorf("expected fault to name the dependency, got %v", run.Errors)
	}
	if n := rec.count(EventWorkflowFailed); n != 2 {
		t.Errorf("expected 2 workflow_failed events, got %d", n)
	}
}

// TestExecutor_LedgerErrorsAreIgnored tests that a failing ledger does not fail the run
func TestExecutor_LedgerErrorsAreIgnored(t *testing.T) {
	rec := &memoryRecorder{fail: errors.New("disk full")}
	exec := newTestExecutor(t, WithEventRecorder(rec))

	run := exec.Execute(context.Background(), mustBuild(t, NewBuilder("", "ok").AddTask("a", "a", returning(1))))
	if run.Status != WorkflowSuccess {
		t.Fatalf("expected success, got %s", run.Status)
	}
}

type panickingRecorder struct{}

func (panickingRecorder) RecordEvent(context.Context, ledger.Event) (int64, error) {
	panic("recorder exploded")
}

type panickingLogger struct{}

func (panickingLogger) Debug(string, ...core.Field) { panic("debug exploded") }
func (panickingLogger) Info(string, ...core.Field)  { panic("info exploded") }
func (panickingLogger) Warn(string, ...core.Field)  { panic("warn exploded") }
func (panickingLogger) Error(string, ...core.Field) { panic("error exploded") }

// TestExecutor_PanickingCollaborators tests that a panicking recorder or logger
// cannot wedge a run
// Main test items:
// 1. Execute returns with the status the handlers decide
// 2. Close returns afterwards
func TestExecutor_PanickingCollaborators(t *testing.T) {
	exec := NewExecutor(
		WithBackoff(time.Millisecond),
		WithEventRecorder(panickingRecorder{}),
		WithLogger(panickingLogger{}),
	)

	def := mustBuild(t, NewBuilder("", "noisy").
		AddTask("a", "a", returning(1)).
		AddTask("b", "b", failing("nope"), DependsOn("a"), Retries(1)))

	done := make(chan *WorkflowExecution, 1)
	go func() { done <- exec.Execute(context.Background(), def) }()

	select {
	case run := <-done:
		if run.Status != WorkflowFailed {
			t.Errorf("expected failed, got %s", run.Status)
		}
		if run.Tasks["a"].Status != TaskSuccess || run.Tasks["b"].Attempts != 2 {
			t.Errorf("unexpected tasks: a=%s b attempts=%d", run.Tasks["a"].Status, run.Tasks["b"].Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute blocked after a collaborator panicked")
	}

	closed := make(chan struct{})
	go func() {
		exec.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked after a collaborator panicked")
	}
}

// TestTaskWorker_PanicReportsFinished tests that a worker which panics outside
// the handler still reports a failed finish
func TestTaskWorker_PanicReportsFinished(t *testing.T) {
	updates := make(chan taskProgress, 4)
	w := &taskWorker{
		exec:    newWorkflowExecution("wf", "exec", "broken", nil),
		task:    TaskDefinition{ID: "t", Handler: returning(1)},
		updates: updates,
	}

	// No executor: the first event emit panics.
	w.run(context.Background())

	msg := <-updates
	if msg.kind != progressFinished || msg.status != TaskFailed {
		t.Fatalf("expected a failed finish, got kind=%d status=%s", msg.kind, msg.status)
	}
	var pe *PanicError
	if !errors.As(msg.err, &pe) {
		t.Fatalf("expected *PanicError, got %T: %v", msg.err, msg.err)
	}
}

// TestExecutor_FailureDuringCancellation tests that a run whose only
// unadmitted tasks sit behind a failure ends failed, not cancelled
func TestExecutor_FailureDuringCancellation(t *testing.T) {
	rec := &memoryRecorder{}
	exec := newTestExecutor(t, WithMaxWorkers(2), WithEventRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aDone := make(chan struct{})
	def := mustBuild(t, NewBuilder("", "fail-then-cancel").
		AddTask("a", "a", func(context.Context, map[string]any) (any, error) {
			defer close(aDone)
			return nil, errors.New("broken")
		}).
		AddTask("a_child", "a_child", returning("never"), DependsOn("a")).
		AddTask("slow", "slow", func(context.Context, map[string]any) (any, error) {
			<-aDone
			cancel()
			return "done", nil
		}))

	run := exec.Execute(ctx, def)

	if run.Status != WorkflowFailed {
		t.Fatalf("expected failed, got %s (errors=%v blocked=%v)", run.Status, run.Errors, run.Blocked)
	}
	if strings.Join(run.Blocked, ",") != "a_child" {
		t.Errorf("expected a_child blocked, got %v", run.Blocked)
	}
	if rec.count(EventWorkflowFailed) != 1 || rec.count(EventWorkflowCancelled) != 0 {
		t.Errorf("expected workflow_failed only, got failed=%d cancelled=%d",
			rec.count(EventWorkflowFailed), rec.count(EventWorkflowCancelled))
	}
}

// TestExecutor_Registry tests execution lookup and snapshots
func TestExecutor_Registry(t *testing.T) {
	exec := newTestExecutor(t)
	run := exec.Execute(context.Background(), mustBuild(t, NewBuilder("", "reg").AddTask("a", "a", returning(1))))

	got, ok := exec.Execution(run.ExecutionID)
	if !ok {
		t.Fatalf("execution %s not found", run.ExecutionID)
	}
	if got == run {
		t.Error("Execution should return a snapshot, not the live record")
	}
	if got.Status != WorkflowSuccess || got.Tasks["a"].Result != 1 {
		t.Errorf("unexpected snapshot: %+v", got)
	}
	if _, ok := exec.Execution("missing"); ok {
		t.Error("unknown execution id should not be found")
	}
}

// TestExecutor_Close tests shutdown behavior
// Main test items:
// 1. Close is idempotent
// 2. Execute after Close returns a failed run carrying ErrExecutorClosed
// 3. Stats reports the executor as closed
func TestExecutor_Close(t *testing.T) {
	exec := NewExecutor(WithMaxWorkers(1))
	run := exec.Execute(context.Background(), mustBuild(t, NewBuilder("", "early").AddTask("a", "a", returning(1))))
	if run.Status != WorkflowSuccess {
		t.Fatalf("expected success before Close, got %s", run.Status)
	}
	if err := exec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if exec.Pool().IsRunning() {
		t.Error("pool should be stopped after Close")
	}
	if err := exec.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	run = exec.Execute(context.Background(), mustBuild(t, NewBuilder("", "late").AddTask("a", "a", returning(1))))
	if run.Status != WorkflowFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if len(run.Errors) != 1 || run.Errors[0] != ErrExecutorClosed.Error() {
		t.Errorf("unexpected errors: %v", run.Errors)
	}
	if !exec.Stats().Closed {
		t.Error("Stats should report closed")
	}
}

// TestExecutor_MonitorAndState tests that finished runs reach the monitor and state store
func TestExecutor_MonitorAndState(t *testing.T) {
	monitor := NewMonitor(10)
	state := NewWorkflowState(nil)
	exec := newTestExecutor(t, WithMonitor(monitor), WithState(state))

	def := mustBuild(t, NewBuilder("", "observed").AddTask("a", "a", returning(1)))
	run := exec.Execute(context.Background(), def)

	if monitor.Total() != 1 || monitor.SuccessRate() != 1 {
		t.Errorf("monitor did not record the run: total=%d rate=%f", monitor.Total(), monitor.SuccessRate())
	}
	saved, err := state.GetState(context.Background(), run.ExecutionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if saved["status"] != "success" {
		t.Errorf("expected saved status success, got %v", saved["status"])
	}
}
