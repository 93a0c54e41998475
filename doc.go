// Package workflowrunner runs DAG workflows on a bounded worker pool and
// records every lifecycle step in an append-only event ledger.
//
// A workflow is a set of tasks with dependencies. Each task has a handler,
// an optional condition, a retry budget and a timeout. The executor runs
// every task whose dependencies all succeeded, up to MaxWorkers at a time,
// and writes workflow_* and task_* events to the ledger as it goes.
//
// # Quick Start
//
// Initialize the global executor at application startup:
//
//	workflowrunner.InitGlobalExecutor(workflow.WithMaxWorkers(4))
//	defer workflowrunner.ShutdownGlobalExecutor()
//
// Build a workflow and run it:
//
//	def, err := workflowrunner.NewBuilder("", "etl").
//		AddTask("extract", "Extract", extract).
//		AddTask("load", "Load", load, workflow.DependsOn("extract"), workflow.Retries(2)).
//		Build()
//	if err != nil {
//		return err
//	}
//	exec := workflowrunner.Execute(ctx, def)
//
// # Key Concepts
//
// WorkflowDefinition: the validated task graph. Builders reject unknown
// dependencies, and the executor treats a cycle as a scheduling fault.
//
// WorkflowExecution: the record of one run. Tasks that never ran because an
// ancestor failed or was skipped are listed in Blocked.
//
// Ledger: the SQLite or PostgreSQL events table. Rows can be appended and
// read but never updated or deleted.
//
// The workflow, ledger, internal/api and observability/prometheus packages
// hold the implementations; this package re-exports the common entry points.
package workflowrunner
