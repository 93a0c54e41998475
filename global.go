package workflowrunner

import (
	"context"
	"sync"

	"github.com/Swind/go-workflow-runner/workflow"
)

// =============================================================================
// Global Executor Helper (Singleton)
// =============================================================================

var (
	globalExecutor *workflow.Executor
	globalMu       sync.Mutex
)

// InitGlobalExecutor creates the global executor with the given options.
// Later calls are no-ops until ShutdownGlobalExecutor.
func InitGlobalExecutor(opts ...workflow.ExecutorOption) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalExecutor != nil {
		return
	}
	globalExecutor = workflow.NewExecutor(opts...)
}

// GetGlobalExecutor returns the global executor.
// It panics if InitGlobalExecutor has not been called.
func GetGlobalExecutor() *workflow.Executor {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalExecutor == nil {
		panic("global executor not initialized. Call InitGlobalExecutor() first.")
	}
	return globalExecutor
}

// ShutdownGlobalExecutor waits for in-flight runs and stops the global executor.
func ShutdownGlobalExecutor() {
	globalMu.Lock()
	exec := globalExecutor
	globalExecutor = nil
	globalMu.Unlock()

	if exec != nil {
		exec.Close()
	}
}

// Execute runs def on the global executor.
func Execute(ctx context.Context, def *workflow.WorkflowDefinition) *workflow.WorkflowExecution {
	return GetGlobalExecutor().Execute(ctx, def)
}
