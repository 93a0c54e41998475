package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// TaskScheduler is the ready queue shared by the workers of one pool.
type TaskScheduler struct {
	id          string
	queue       *FIFOQueue[TaskItem]
	signal      chan struct{}
	workerCount int

	metricQueued   int32 // Waiting in ready queue
	metricActive   int32 // Executing in worker
	metricRejected int64

	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler

	// Lifecycle
	shuttingDown int32 // atomic flag
}

func NewTaskScheduler(id string, workerCount int) *TaskScheduler {
	return NewTaskSchedulerWithConfig(id, workerCount, DefaultTaskSchedulerConfig())
}

func NewTaskSchedulerWithConfig(id string, workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	s := &TaskScheduler{
		id:          id,
		queue:       NewFIFOQueue[TaskItem](),
		signal:      make(chan struct{}, workerCount*2),
		workerCount: workerCount,
	}

	var logger Logger
	if config != nil {
		s.panicHandler = config.PanicHandler
		s.metrics = config.Metrics
		s.rejectedTaskHandler = config.RejectedTaskHandler
		logger = config.Logger
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}

	if s.panicHandler == nil {
		s.panicHandler = &LoggingPanicHandler{Logger: logger}
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.rejectedTaskHandler == nil {
		s.rejectedTaskHandler = &LoggingRejectedTaskHandler{Logger: logger}
	}

	return s
}

// PostInternal queues a task for the next free worker.
// Tasks posted after shutdown has begun are rejected.
func (s *TaskScheduler) PostInternal(task Task, traits TaskTraits) bool {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		atomic.AddInt64(&s.metricRejected, 1)
		s.rejectedTaskHandler.HandleRejectedTask(s.id, "shutting down")
		s.metrics.RecordTaskRejected(s.id, "shutting down")
		return false
	}

	s.queue.Push(TaskItem{Task: task, Traits: traits})
	depth := atomic.AddInt32(&s.metricQueued, 1)
	s.metrics.RecordQueueDepth(s.id, int(depth))

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full; the task is already queued and a
		// worker will find it on its next pass.
	}
	return true
}

// GetWork blocks until a task is available or stopCh is closed.
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (TaskItem, bool) {
	for {
		if item, ok := s.queue.Pop(); ok {
			depth := atomic.AddInt32(&s.metricQueued, -1)
			s.metrics.RecordQueueDepth(s.id, int(depth))
			return item, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return TaskItem{}, false
		}
	}
}

// Shutdown stops accepting tasks and drops everything still queued.
func (s *TaskScheduler) Shutdown() {
	atomic.StoreInt32(&s.shuttingDown, 1)
	dropped := s.queue.Clear()
	atomic.AddInt32(&s.metricQueued, -int32(dropped))
}

// ShutdownGraceful waits for all queued and active tasks to complete.
// Returns error if timeout is exceeded before tasks complete.
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	atomic.StoreInt32(&s.shuttingDown, 1)

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
			return nil
		}
		select {
		case <-deadline:
			dropped := s.queue.Clear()
			atomic.AddInt32(&s.metricQueued, -int32(dropped))
			return fmt.Errorf("shutdown graceful timeout after %v, dropped %d queued tasks", timeout, dropped)
		case <-ticker.C:
		}
	}
}

func (s *TaskScheduler) ID() string           { return s.id }
func (s *TaskScheduler) WorkerCount() int     { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *TaskScheduler) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }
func (s *TaskScheduler) RejectedTaskCount() int64 {
	return atomic.LoadInt64(&s.metricRejected)
}
func (s *TaskScheduler) IsShuttingDown() bool { return atomic.LoadInt32(&s.shuttingDown) == 1 }

func (s *TaskScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

// OnTaskEnd records the finished task's duration against its category.
func (s *TaskScheduler) OnTaskEnd(traits TaskTraits, duration time.Duration) {
	atomic.AddInt32(&s.metricActive, -1)
	s.metrics.RecordTaskDuration(s.id, traits.Category, duration)
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *TaskScheduler) GetMetrics() Metrics {
	return s.metrics
}
