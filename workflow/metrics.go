package workflow

import "time"

// Metrics receives run and task outcomes from the executor.
type Metrics interface {
	RecordWorkflow(workflowName string, status WorkflowStatus, duration time.Duration)
	RecordTask(domain string, status TaskStatus, attempts int, duration time.Duration)
	RecordTaskRetry(domain string)
}

type nopMetrics struct{}

func (nopMetrics) RecordWorkflow(string, WorkflowStatus, time.Duration) {}
func (nopMetrics) RecordTask(string, TaskStatus, int, time.Duration)    {}
func (nopMetrics) RecordTaskRetry(string)                               {}
