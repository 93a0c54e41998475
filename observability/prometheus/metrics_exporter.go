package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-workflow-runner/core"
	"github.com/Swind/go-workflow-runner/workflow"
)

const defaultNamespace = "wfrunner"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics and workflow.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec

	workflowRunsTotal       *prom.CounterVec
	workflowDurationSeconds *prom.HistogramVec
	workflowTaskTotal       *prom.CounterVec
	workflowTaskAttempts    *prom.HistogramVec
	workflowTaskRetries     *prom.CounterVec
}

var (
	_ core.Metrics     = (*MetricsExporter)(nil)
	_ workflow.Metrics = (*MetricsExporter)(nil)
)

// NewMetricsExporter creates and registers the collectors.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "pool_task_duration_seconds",
		Help:      "Pool task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"pool", "category"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "pool_task_panic_total",
		Help:      "Total number of pool task panics.",
	}, []string{"pool"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "pool_task_rejected_total",
		Help:      "Total number of rejected pool tasks.",
	}, []string{"pool", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_queue_depth",
		Help:      "Current pool queue depth.",
	}, []string{"pool"})

	runsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_runs_total",
		Help:      "Finished workflow runs by final status.",
	}, []string{"workflow", "status"})
	runDurationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_duration_seconds",
		Help:      "Workflow run duration in seconds.",
		Buckets:   buckets,
	}, []string{"workflow"})
	taskTotalVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_task_total",
		Help:      "Finished workflow tasks by domain and final status.",
	}, []string{"domain", "status"})
	attemptsVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_task_attempts",
		Help:      "Attempts made per finished workflow task.",
		Buckets:   []float64{1, 2, 3, 5, 8},
	}, []string{"domain"})
	retriesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_task_retries_total",
		Help:      "Total number of workflow task retries.",
	}, []string{"domain"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if runsVec, err = registerCollector(reg, runsVec); err != nil {
		return nil, err
	}
	if runDurationVec, err = registerCollector(reg, runDurationVec); err != nil {
		return nil, err
	}
	if taskTotalVec, err = registerCollector(reg, taskTotalVec); err != nil {
		return nil, err
	}
	if attemptsVec, err = registerCollector(reg, attemptsVec); err != nil {
		return nil, err
	}
	if retriesVec, err = registerCollector(reg, retriesVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds:     durationVec,
		taskPanicTotal:          panicVec,
		taskRejectedTotal:       rejectedVec,
		queueDepth:              queueDepthVec,
		workflowRunsTotal:       runsVec,
		workflowDurationSeconds: runDurationVec,
		workflowTaskTotal:       taskTotalVec,
		workflowTaskAttempts:    attemptsVec,
		workflowTaskRetries:     retriesVec,
	}, nil
}

// RecordTaskDuration records pool task execution duration.
func (m *MetricsExporter) RecordTaskDuration(poolID string, category string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(poolID, "unknown"), normalizeLabel(category, "default")).Observe(duration.Seconds())
}

// RecordTaskPanic records pool task panic events.
func (m *MetricsExporter) RecordTaskPanic(poolID string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(poolID, "unknown")).Inc()
}

// RecordQueueDepth records pool queue depth.
func (m *MetricsExporter) RecordQueueDepth(poolID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(poolID, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records pool task rejection events.
func (m *MetricsExporter) RecordTaskRejected(poolID string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(poolID, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordWorkflow records a finished workflow run.
func (m *MetricsExporter) RecordWorkflow(workflowName string, status workflow.WorkflowStatus, duration time.Duration) {
	if m == nil {
		return
	}
	name := normalizeLabel(workflowName, "unnamed")
	m.workflowRunsTotal.WithLabelValues(name, status.String()).Inc()
	m.workflowDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordTask records a finished workflow task.
func (m *MetricsExporter) RecordTask(domain string, status workflow.TaskStatus, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	domain = normalizeLabel(domain, "default")
	m.workflowTaskTotal.WithLabelValues(domain, status.String()).Inc()
	m.workflowTaskAttempts.WithLabelValues(domain).Observe(float64(attempts))
}

// RecordTaskRetry records one retry of a workflow task.
func (m *MetricsExporter) RecordTaskRetry(domain string) {
	if m == nil {
		return
	}
	m.workflowTaskRetries.WithLabelValues(normalizeLabel(domain, "default")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
