package core

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID       string
	Workers  int
	Queued   int
	Active   int
	Rejected int64
	Running  bool
}

// ExecutorStats represents runtime observability state for a workflow executor.
type ExecutorStats struct {
	MaxWorkers    int
	ActiveRuns    int
	InFlightTasks int
	CompletedRuns int64
	Closed        bool
}
