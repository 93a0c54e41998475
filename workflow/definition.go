package workflow

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"
)

// Handler runs a task. inputs maps each dependency's id to its result.
type Handler func(ctx context.Context, inputs map[string]any) (any, error)

// Condition gates a task on the outputs accumulated so far in the run.
// Returning false skips the task.
type Condition func(outputs map[string]any) bool

// TaskDefinition describes one node of the workflow graph.
type TaskDefinition struct {
	ID        string
	Name      string
	Handler   Handler
	Domain    string
	DependsOn []string
	Retries   int
	// Timeout bounds each attempt. Zero means no limit.
	Timeout   time.Duration
	Condition Condition
	Metadata  map[string]any
}

func (t TaskDefinition) clone() TaskDefinition {
	t.DependsOn = slices.Clone(t.DependsOn)
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

// WorkflowDefinition is a frozen task graph. Obtain one from Builder.Build;
// the executor only reads it, so a definition can be run many times concurrently.
type WorkflowDefinition struct {
	ID          string
	Name        string
	Description string
	Tasks       map[string]TaskDefinition
	// StartTask is informational. Every task without dependencies is eligible to start.
	StartTask string
	Metadata  map[string]any
}

// Validate checks graph well-formedness: every dependency must name a task
// of the same workflow. Cycles are not rejected; tasks on a cycle never start.
func (d *WorkflowDefinition) Validate() error {
	for _, id := range d.TaskIDs() {
		task := d.Tasks[id]
		if task.ID != id {
			return &DefinitionError{WorkflowID: d.ID, TaskID: id, Err: ErrInvalidTask}
		}
		if task.Handler == nil {
			return &DefinitionError{WorkflowID: d.ID, TaskID: id, Err: ErrInvalidTask}
		}
		if task.Retries < 0 {
			return &DefinitionError{WorkflowID: d.ID, TaskID: id, Err: ErrInvalidTask}
		}
		for _, dep := range task.DependsOn {
			if _, ok := d.Tasks[dep]; !ok {
				return &DefinitionError{WorkflowID: d.ID, TaskID: id, Dependency: dep, Err: ErrDanglingDependency}
			}
		}
	}
	if d.StartTask != "" {
		if _, ok := d.Tasks[d.StartTask]; !ok {
			return &DefinitionError{WorkflowID: d.ID, TaskID: d.StartTask, Err: ErrUnknownStartTask}
		}
	}
	return nil
}

// TaskIDs returns the task ids in sorted order.
func (d *WorkflowDefinition) TaskIDs() []string {
	ids := make([]string, 0, len(d.Tasks))
	for id := range d.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
