package workflow

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// TaskOption configures a task added through Builder.AddTask.
type TaskOption func(*TaskDefinition)

// DependsOn adds dependency task ids.
func DependsOn(ids ...string) TaskOption {
	return func(t *TaskDefinition) {
		t.DependsOn = append(t.DependsOn, ids...)
	}
}

// InDomain tags the task with a domain.
func InDomain(domain string) TaskOption {
	return func(t *TaskDefinition) { t.Domain = domain }
}

// Retries sets how many times a failed attempt is retried.
func Retries(n int) TaskOption {
	return func(t *TaskDefinition) { t.Retries = n }
}

// Timeout bounds each attempt of the task.
func Timeout(d time.Duration) TaskOption {
	return func(t *TaskDefinition) { t.Timeout = d }
}

// When gates the task on a condition over accumulated outputs.
func When(cond Condition) TaskOption {
	return func(t *TaskDefinition) { t.Condition = cond }
}

// WithTaskMetadata sets one metadata entry on the task.
func WithTaskMetadata(key string, value any) TaskOption {
	return func(t *TaskDefinition) {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata[key] = value
	}
}

// Builder accumulates tasks and produces a frozen WorkflowDefinition.
// Adding a task id twice replaces the earlier definition.
type Builder struct {
	id          string
	name        string
	description string
	metadata    map[string]any
	tasks       map[string]TaskDefinition
	startTask   string
	firstTask   string
}

// NewBuilder starts a workflow. An empty id is replaced with a random UUID.
func NewBuilder(id, name string) *Builder {
	if id == "" {
		id = uuid.NewString()
	}
	return &Builder{
		id:    id,
		name:  name,
		tasks: make(map[string]TaskDefinition),
	}
}

func (b *Builder) WithDescription(description string) *Builder {
	b.description = description
	return b
}

func (b *Builder) WithMetadata(key string, value any) *Builder {
	if b.metadata == nil {
		b.metadata = make(map[string]any)
	}
	b.metadata[key] = value
	return b
}

// AddTask adds or replaces the task with the given id.
func (b *Builder) AddTask(id, name string, handler Handler, opts ...TaskOption) *Builder {
	task := TaskDefinition{
		ID:      id,
		Name:    name,
		Handler: handler,
	}
	for _, opt := range opts {
		opt(&task)
	}
	b.tasks[id] = task
	if b.firstTask == "" {
		b.firstTask = id
	}
	return b
}

// SetStartTask overrides the default start task, which is the first task added.
func (b *Builder) SetStartTask(id string) *Builder {
	b.startTask = id
	return b
}

// Build validates the graph and returns an immutable snapshot. Later calls
// on the builder do not affect returned definitions.
func (b *Builder) Build() (*WorkflowDefinition, error) {
	tasks := make(map[string]TaskDefinition, len(b.tasks))
	for id, task := range b.tasks {
		tasks[id] = task.clone()
	}

	start := b.startTask
	if start == "" {
		start = b.firstTask
	}

	def := &WorkflowDefinition{
		ID:          b.id,
		Name:        b.name,
		Description: b.description,
		Tasks:       tasks,
		StartTask:   start,
		Metadata:    maps.Clone(b.metadata),
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
