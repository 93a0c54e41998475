package workflow

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// TaskExecution records one task within a run. It is created when the
// executor admits the task and is written only by the run's scheduling loop.
type TaskExecution struct {
	TaskID    string
	Name      string
	Status    TaskStatus
	Result    any
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
	Attempts  int
	// Outputs holds this task's own result, keyed by its id, once it succeeds.
	Outputs  map[string]any
	Metadata map[string]any
}

// Duration is zero until the task has ended.
func (t *TaskExecution) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

func (t *TaskExecution) clone() *TaskExecution {
	c := *t
	c.Outputs = maps.Clone(t.Outputs)
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

// WorkflowExecution is the record of one run of a definition.
//
// While the run is in progress its fields are written by the executor; use
// Snapshot to read it from another goroutine. Once Execute has returned the
// record no longer changes.
type WorkflowExecution struct {
	WorkflowID  string
	ExecutionID string
	Name        string
	Status      WorkflowStatus
	Tasks       map[string]*TaskExecution
	StartedAt   time.Time
	EndedAt     time.Time
	Outputs     map[string]any
	Errors      []string
	// Blocked lists the tasks that were never admitted: downstream of a
	// failed or skipped task, on a cycle, or left when the run was cancelled.
	Blocked  []string
	Metadata map[string]any

	mu sync.RWMutex
}

func newWorkflowExecution(workflowID, executionID, name string, metadata map[string]any) *WorkflowExecution {
	return &WorkflowExecution{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Name:        name,
		Status:      WorkflowCreated,
		Tasks:       make(map[string]*TaskExecution),
		Outputs:     make(map[string]any),
		Metadata:    maps.Clone(metadata),
	}
}

// Duration is zero until the run has ended.
func (e *WorkflowExecution) Duration() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.durationLocked()
}

func (e *WorkflowExecution) durationLocked() time.Duration {
	if e.StartedAt.IsZero() || e.EndedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// IsComplete reports whether the run reached a terminal status.
func (e *WorkflowExecution) IsComplete() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Status.IsTerminal()
}

// Snapshot returns a deep copy that is safe to read while the run continues.
func (e *WorkflowExecution) Snapshot() *WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c := &WorkflowExecution{
		WorkflowID:  e.WorkflowID,
		ExecutionID: e.ExecutionID,
		Name:        e.Name,
		Status:      e.Status,
		Tasks:       make(map[string]*TaskExecution, len(e.Tasks)),
		StartedAt:   e.StartedAt,
		EndedAt:     e.EndedAt,
		Outputs:     maps.Clone(e.Outputs),
		Errors:      slices.Clone(e.Errors),
		Blocked:     slices.Clone(e.Blocked),
		Metadata:    maps.Clone(e.Metadata),
	}
	for id, t := range e.Tasks {
		c.Tasks[id] = t.clone()
	}
	return c
}

// TaskCounts returns how many admitted tasks are in each status.
func (e *WorkflowExecution) TaskCounts() map[TaskStatus]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := make(map[TaskStatus]int)
	for _, t := range e.Tasks {
		counts[t.Status]++
	}
	return counts
}

// outputsSnapshot copies the accumulated outputs for a condition check.
func (e *WorkflowExecution) outputsSnapshot() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.Outputs)
}

// update applies fn under the write lock.
func (e *WorkflowExecution) update(fn func(*WorkflowExecution)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}
