package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-workflow-runner/core"
)

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// ExecutorSnapshotProvider provides current workflow executor stats snapshots.
type ExecutorSnapshotProvider interface {
	Stats() core.ExecutorStats
}

// SnapshotPoller periodically exports pool and executor Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	executorsMu sync.RWMutex
	executors   map[string]ExecutorSnapshotProvider

	poolQueued   *prom.GaugeVec
	poolActive   *prom.GaugeVec
	poolRejected *prom.GaugeVec
	poolWorkers  *prom.GaugeVec
	poolRunning  *prom.GaugeVec

	executorActiveRuns    *prom.GaugeVec
	executorInFlight      *prom.GaugeVec
	executorCompletedRuns *prom.GaugeVec
	executorClosed        *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newGauge(name, help string, labels ...string) *prom.GaugeVec {
	return prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	p := &SnapshotPoller{
		interval:  interval,
		pools:     make(map[string]PoolSnapshotProvider),
		executors: make(map[string]ExecutorSnapshotProvider),
	}

	gauges := []struct {
		dst    **prom.GaugeVec
		name   string
		help   string
		labels []string
	}{
		{&p.poolQueued, "pool_queued", "Queued tasks per pool.", []string{"pool"}},
		{&p.poolActive, "pool_active", "Active tasks per pool.", []string{"pool"}},
		{&p.poolRejected, "pool_rejected", "Pool rejected task count snapshot.", []string{"pool"}},
		{&p.poolWorkers, "pool_workers", "Worker count per pool.", []string{"pool"}},
		{&p.poolRunning, "pool_running", "Pool running state (1=running, 0=stopped).", []string{"pool"}},
		{&p.executorActiveRuns, "executor_active_runs", "Workflow runs in progress per executor.", []string{"executor"}},
		{&p.executorInFlight, "executor_inflight_tasks", "Workflow tasks in flight per executor.", []string{"executor"}},
		{&p.executorCompletedRuns, "executor_completed_runs", "Workflow runs finished per executor.", []string{"executor"}},
		{&p.executorClosed, "executor_closed", "Executor closed state (1=closed, 0=open).", []string{"executor"}},
	}
	for _, g := range gauges {
		vec, err := registerCollector(reg, newGauge(g.name, g.help, g.labels...))
		if err != nil {
			return nil, err
		}
		*g.dst = vec
	}
	return p, nil
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// AddExecutor adds or replaces an executor snapshot provider by name.
func (p *SnapshotPoller) AddExecutor(name string, provider ExecutorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "executor")
	p.executorsMu.Lock()
	p.executors[name] = provider
	p.executorsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
	p.poolsMu.RUnlock()

	p.executorsMu.RLock()
	for name, provider := range p.executors {
		stats := provider.Stats()
		p.executorActiveRuns.WithLabelValues(name).Set(float64(stats.ActiveRuns))
		p.executorInFlight.WithLabelValues(name).Set(float64(stats.InFlightTasks))
		p.executorCompletedRuns.WithLabelValues(name).Set(float64(stats.CompletedRuns))
		p.executorClosed.WithLabelValues(name).Set(boolGauge(stats.Closed))
	}
	p.executorsMu.RUnlock()
}
