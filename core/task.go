package core

import (
	"context"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskTraits: Define task attributes (category, blocking behavior)
// =============================================================================

// TaskTraits describes a posted task.
// Category is used as the metrics label for the task; workflow tasks use their domain.
type TaskTraits struct {
	Category string
	MayBlock bool
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Category: "default"}
}

// TraitsForCategory returns traits labelled with the given category.
// An empty category falls back to the default traits.
func TraitsForCategory(category string) TaskTraits {
	if category == "" {
		return DefaultTaskTraits()
	}
	return TaskTraits{Category: category, MayBlock: true}
}

// =============================================================================
// ThreadPool: Define task submission interface
// =============================================================================

// ThreadPool is the execution surface consumed by the workflow executor.
type ThreadPool interface {
	PostInternal(task Task, traits TaskTraits) bool
	WorkerCount() int
	IsRunning() bool
	Stats() PoolStats
}
