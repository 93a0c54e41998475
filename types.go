package workflowrunner

import (
	"github.com/Swind/go-workflow-runner/ledger"
	"github.com/Swind/go-workflow-runner/workflow"
)

// Re-export commonly used types so most callers only import this package.

type Handler = workflow.Handler
type Condition = workflow.Condition

type TaskDefinition = workflow.TaskDefinition
type WorkflowDefinition = workflow.WorkflowDefinition
type Builder = workflow.Builder

type TaskExecution = workflow.TaskExecution
type WorkflowExecution = workflow.WorkflowExecution
type TaskStatus = workflow.TaskStatus
type WorkflowStatus = workflow.WorkflowStatus

type Executor = workflow.Executor
type ExecutorOption = workflow.ExecutorOption
type Monitor = workflow.Monitor

type Ledger = ledger.Ledger
type Event = ledger.Event

// NewBuilder starts a workflow definition. An empty id gets a generated UUID.
var NewBuilder = workflow.NewBuilder

// NewExecutor creates an executor with its own worker pool.
var NewExecutor = workflow.NewExecutor

// OpenLedger opens or creates a SQLite ledger at path.
var OpenLedger = ledger.OpenSQLite
