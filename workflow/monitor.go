package workflow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Swind/go-workflow-runner/core"
)

// DefaultMonitorCapacity is how many executions a Monitor retains by default.
const DefaultMonitorCapacity = 1000

// TaskStats aggregates every recorded run of one task id.
type TaskStats struct {
	Executions  int
	Successes   int
	Failures    int
	Skips       int
	AvgDuration time.Duration

	timed int
}

// Monitor aggregates completed executions. Run statistics cover the
// retained window; per-task statistics cover everything ever recorded.
type Monitor struct {
	history *core.History[*WorkflowExecution]

	mu    sync.Mutex
	tasks map[string]*TaskStats
}

// NewMonitor creates a monitor retaining at most capacity executions.
func NewMonitor(capacity int) *Monitor {
	if capacity < 1 {
		capacity = DefaultMonitorCapacity
	}
	return &Monitor{
		history: core.NewHistory[*WorkflowExecution](capacity),
		tasks:   make(map[string]*TaskStats),
	}
}

// RecordExecution stores a snapshot of exec.
func (m *Monitor) RecordExecution(exec *WorkflowExecution) {
	snap := exec.Snapshot()
	m.history.Add(snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range snap.Tasks {
		st, ok := m.tasks[id]
		if !ok {
			st = &TaskStats{}
			m.tasks[id] = st
		}
		st.Executions++
		switch t.Status {
		case TaskSuccess:
			st.Successes++
		case TaskFailed:
			st.Failures++
		case TaskSkipped:
			st.Skips++
		}
		if d := t.Duration(); d > 0 {
			st.timed++
			st.AvgDuration += (d - st.AvgDuration) / time.Duration(st.timed)
		}
	}
}

// Executions returns the retained executions, newest first.
func (m *Monitor) Executions() []*WorkflowExecution {
	return m.history.Recent(0)
}

// Total is the number of executions ever recorded.
func (m *Monitor) Total() int64 {
	return m.history.Total()
}

// SuccessRate is successes over retained executions, 0 when empty.
func (m *Monitor) SuccessRate() float64 {
	execs := m.history.Recent(0)
	if len(execs) == 0 {
		return 0
	}
	var ok int
	for _, e := range execs {
		if e.Status == WorkflowSuccess {
			ok++
		}
	}
	return float64(ok) / float64(len(execs))
}

// AverageDuration is the mean duration of retained executions that have one.
func (m *Monitor) AverageDuration() time.Duration {
	var (
		sum time.Duration
		n   int
	)
	for _, e := range m.history.Recent(0) {
		if d := e.Duration(); d > 0 {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// TaskStatistics returns a copy of the per-task aggregates.
func (m *Monitor) TaskStatistics() map[string]TaskStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]TaskStats, len(m.tasks))
	for id, st := range m.tasks {
		out[id] = *st
	}
	return out
}

// StatusCounts counts retained executions by final status.
func (m *Monitor) StatusCounts() map[WorkflowStatus]int {
	counts := make(map[WorkflowStatus]int)
	for _, e := range m.history.Recent(0) {
		counts[e.Status]++
	}
	return counts
}

// Report renders a plain-text summary.
func (m *Monitor) Report() string {
	counts := m.StatusCounts()
	var total int
	for _, n := range counts {
		total += n
	}

	var b strings.Builder
	b.WriteString("Workflow Execution Report\n")
	b.WriteString("========================\n")
	fmt.Fprintf(&b, "Total Executions: %d\n", total)
	fmt.Fprintf(&b, "Successful: %d\n", counts[WorkflowSuccess])
	fmt.Fprintf(&b, "Failed: %d\n", counts[WorkflowFailed])
	fmt.Fprintf(&b, "Cancelled: %d\n", counts[WorkflowCancelled])
	fmt.Fprintf(&b, "Success Rate: %.1f%%\n", m.SuccessRate()*100)
	fmt.Fprintf(&b, "Average Duration: %.2fs\n", m.AverageDuration().Seconds())
	if last, ok := m.history.Last(); ok {
		fmt.Fprintf(&b, "Last Execution: %s (%s)\n", last.ExecutionID, last.Status)
	}
	return b.String()
}
