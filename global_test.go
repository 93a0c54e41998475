package workflowrunner_test

import (
	"context"
	"testing"

	workflowrunner "github.com/Swind/go-workflow-runner"
	"github.com/Swind/go-workflow-runner/workflow"
)

// TestGlobalExecutor tests the singleton lifecycle
// Main test items:
// 1. GetGlobalExecutor panics before initialization
// 2. Repeated InitGlobalExecutor keeps the first instance
// 3. ShutdownGlobalExecutor closes the executor and allows re-initialization
func TestGlobalExecutor(t *testing.T) {
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic before InitGlobalExecutor")
			}
		}()
		workflowrunner.GetGlobalExecutor()
	}()

	workflowrunner.InitGlobalExecutor(workflow.WithMaxWorkers(2))
	first := workflowrunner.GetGlobalExecutor()
	workflowrunner.InitGlobalExecutor(workflow.WithMaxWorkers(8))
	if workflowrunner.GetGlobalExecutor() != first {
		t.Fatal("InitGlobalExecutor replaced the existing executor")
	}
	if first.MaxWorkers() != 2 {
		t.Errorf("MaxWorkers = %d, want 2", first.MaxWorkers())
	}

	def, err := workflowrunner.NewBuilder("", "global").
		AddTask("only", "Only", func(context.Context, map[string]any) (any, error) { return "ok", nil }).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if exec := workflowrunner.Execute(context.Background(), def); exec.Status != workflow.WorkflowSuccess {
		t.Fatalf("Execute failed: %s %v", exec.Status, exec.Errors)
	}

	workflowrunner.ShutdownGlobalExecutor()
	if !first.Stats().Closed {
		t.Error("expected the executor to be closed after shutdown")
	}
	workflowrunner.InitGlobalExecutor()
	defer workflowrunner.ShutdownGlobalExecutor()
	if workflowrunner.GetGlobalExecutor() == first {
		t.Error("expected a fresh executor after re-initialization")
	}
}
