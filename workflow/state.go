package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/Swind/go-workflow-runner/core"
)

// StateStore persists per-workflow state maps.
type StateStore interface {
	// Save replaces the state stored under id
	Save(ctx context.Context, id string, state map[string]any) error

	// Load returns the state stored under id and whether it existed
	Load(ctx context.Context, id string) (map[string]any, bool, error)

	// Delete removes the state stored under id
	Delete(ctx context.Context, id string) error

	// Keys returns every stored id in sorted order
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStateStore is an in-memory StateStore backed by sync.Map.
// Stored maps are copied on the way in and out.
type MemoryStateStore struct {
	data sync.Map // map[string]map[string]any
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) Save(ctx context.Context, id string, state map[string]any) error {
	if id == "" {
		return fmt.Errorf("state id cannot be empty")
	}
	s.data.Store(id, maps.Clone(state))
	return nil
}

func (s *MemoryStateStore) Load(ctx context.Context, id string) (map[string]any, bool, error) {
	raw, ok := s.data.Load(id)
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(raw.(map[string]any)), true, nil
}

func (s *MemoryStateStore) Delete(ctx context.Context, id string) error {
	s.data.Delete(id)
	return nil
}

func (s *MemoryStateStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	s.data.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys, nil
}

// TaskSnapshot is the serialized form of a TaskExecution.
type TaskSnapshot struct {
	Status   TaskStatus `json:"status"`
	Duration *float64   `json:"duration"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// ExecutionSnapshot is the canonical serialized form of a WorkflowExecution.
// Durations are in seconds and null while unfinished.
type ExecutionSnapshot struct {
	WorkflowID  string                  `json:"workflow_id"`
	ExecutionID string                  `json:"execution_id"`
	Name        string                  `json:"name"`
	Status      WorkflowStatus          `json:"status"`
	Duration    *float64                `json:"duration"`
	Errors      []string                `json:"errors"`
	Blocked     []string                `json:"blocked,omitempty"`
	Tasks       map[string]TaskSnapshot `json:"tasks"`
}

func seconds(d float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &d
}

// NewExecutionSnapshot projects exec into its serialized form.
func NewExecutionSnapshot(exec *WorkflowExecution) ExecutionSnapshot {
	x := exec.Snapshot()
	snap := ExecutionSnapshot{
		WorkflowID:  x.WorkflowID,
		ExecutionID: x.ExecutionID,
		Name:        x.Name,
		Status:      x.Status,
		Duration:    seconds(x.durationLocked().Seconds(), !x.EndedAt.IsZero()),
		Errors:      x.Errors,
		Blocked:     x.Blocked,
		Tasks:       make(map[string]TaskSnapshot, len(x.Tasks)),
	}
	if snap.Errors == nil {
		snap.Errors = []string{}
	}
	for id, t := range x.Tasks {
		snap.Tasks[id] = TaskSnapshot{
			Status:   t.Status,
			Duration: seconds(t.Duration().Seconds(), !t.EndedAt.IsZero()),
			Attempts: t.Attempts,
			Error:    t.Error,
		}
	}
	return snap
}

// WorkflowState keeps arbitrary per-workflow state next to execution snapshots.
type WorkflowState struct {
	store      StateStore
	serializer core.Serializer
}

// NewWorkflowState wraps store. A nil store uses a MemoryStateStore.
func NewWorkflowState(store StateStore) *WorkflowState {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &WorkflowState{store: store, serializer: core.NewJSONSerializer()}
}

func (s *WorkflowState) SaveState(ctx context.Context, id string, state map[string]any) error {
	return s.store.Save(ctx, id, state)
}

// GetState returns a copy of the stored state, or an empty map if none.
func (s *WorkflowState) GetState(ctx context.Context, id string) (map[string]any, error) {
	state, ok, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{}, nil
	}
	return state, nil
}

// SaveExecution stores the snapshot of exec under its execution id.
func (s *WorkflowState) SaveExecution(ctx context.Context, exec *WorkflowExecution) error {
	state, err := core.ToMap(s.serializer, NewExecutionSnapshot(exec))
	if err != nil {
		return fmt.Errorf("snapshot execution %s: %w", exec.ExecutionID, err)
	}
	return s.store.Save(ctx, exec.ExecutionID, state)
}

// ToJSON renders the snapshot of exec as indented JSON.
func ToJSON(exec *WorkflowExecution) ([]byte, error) {
	return json.MarshalIndent(NewExecutionSnapshot(exec), "", "  ")
}
