package core

import (
	"context"
	"runtime/debug"
	"sync"
	"time"
)

// GoroutineThreadPool manages a fixed set of worker goroutines
// pulling tasks from a FIFO TaskScheduler.
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *TaskScheduler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

var _ ThreadPool = (*GoroutineThreadPool)(nil)

// NewGoroutineThreadPool creates a pool with the default scheduler config.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, DefaultTaskSchedulerConfig())
}

func NewGoroutineThreadPoolWithConfig(id string, workers int, config *TaskSchedulerConfig) *GoroutineThreadPool {
	if workers < 1 {
		workers = 1
	}
	return &GoroutineThreadPool{
		id:        id,
		workers:   workers,
		scheduler: NewTaskSchedulerWithConfig(id, workers, config),
	}
}

// Start starts all worker goroutines
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(i, tg.ctx)
	}
}

// Stop stops the thread pool, dropping queued tasks.
func (tg *GoroutineThreadPool) Stop() {
	tg.scheduler.Shutdown()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	tg.runningMu.Unlock()

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
}

// StopGraceful stops the thread pool after queued tasks complete.
// Returns error if timeout is exceeded before tasks complete.
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return nil
	}
	tg.runningMu.Unlock()

	err := tg.scheduler.ShutdownGraceful(timeout)

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()

	return err
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		item, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}
		tg.runTask(id, ctx, item)
	}
}

func (tg *GoroutineThreadPool) runTask(id int, ctx context.Context, item TaskItem) {
	tg.scheduler.OnTaskStart()
	startedAt := time.Now()

	defer func() {
		tg.scheduler.OnTaskEnd(item.Traits, time.Since(startedAt))
		if r := recover(); r != nil {
			tg.scheduler.GetMetrics().RecordTaskPanic(tg.id, r)
			tg.scheduler.GetPanicHandler().HandlePanic(ctx, tg.id, id, r, debug.Stack())
		}
	}()
	item.Task(ctx)
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

// PostInternal queues a task. It returns false when the pool is shutting down.
func (tg *GoroutineThreadPool) PostInternal(task Task, traits TaskTraits) bool {
	return tg.scheduler.PostInternal(task, traits)
}

// Stats returns a point-in-time snapshot of the pool.
func (tg *GoroutineThreadPool) Stats() PoolStats {
	return PoolStats{
		ID:       tg.id,
		Workers:  tg.workers,
		Queued:   tg.scheduler.QueuedTaskCount(),
		Active:   tg.scheduler.ActiveTaskCount(),
		Rejected: tg.scheduler.RejectedTaskCount(),
		Running:  tg.IsRunning(),
	}
}
