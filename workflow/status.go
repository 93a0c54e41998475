package workflow

import "fmt"

// TaskStatus is the state of one task within a run.
//
//	pending -> running -> {success, failed, skipped}
//	running -> retrying -> running (while retries remain)
type TaskStatus uint8

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskRetrying
	TaskSuccess
	TaskFailed
	TaskSkipped
)

var taskStatusNames = [...]string{
	TaskPending:  "pending",
	TaskRunning:  "running",
	TaskRetrying: "retrying",
	TaskSuccess:  "success",
	TaskFailed:   "failed",
	TaskSkipped:  "skipped",
}

func (s TaskStatus) String() string {
	if int(s) < len(taskStatusNames) {
		return taskStatusNames[s]
	}
	return fmt.Sprintf("TaskStatus(%d)", uint8(s))
}

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailed || s == TaskSkipped
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(taskStatusNames) {
		return nil, fmt.Errorf("invalid task status %d", uint8(s))
	}
	return []byte(taskStatusNames[s]), nil
}

func (s *TaskStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseTaskStatus is the inverse of TaskStatus.String.
func ParseTaskStatus(name string) (TaskStatus, error) {
	for i, n := range taskStatusNames {
		if n == name {
			return TaskStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", name)
}

// WorkflowStatus is the state of a run.
//
//	created -> running -> {success, failed, cancelled}
type WorkflowStatus uint8

const (
	WorkflowCreated WorkflowStatus = iota
	WorkflowRunning
	WorkflowSuccess
	WorkflowFailed
	WorkflowCancelled
)

var workflowStatusNames = [...]string{
	WorkflowCreated:   "created",
	WorkflowRunning:   "running",
	WorkflowSuccess:   "success",
	WorkflowFailed:    "failed",
	WorkflowCancelled: "cancelled",
}

func (s WorkflowStatus) String() string {
	if int(s) < len(workflowStatusNames) {
		return workflowStatusNames[s]
	}
	return fmt.Sprintf("WorkflowStatus(%d)", uint8(s))
}

func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowSuccess || s == WorkflowFailed || s == WorkflowCancelled
}

func (s WorkflowStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(workflowStatusNames) {
		return nil, fmt.Errorf("invalid workflow status %d", uint8(s))
	}
	return []byte(workflowStatusNames[s]), nil
}

func (s *WorkflowStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseWorkflowStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseWorkflowStatus(name string) (WorkflowStatus, error) {
	for i, n := range workflowStatusNames {
		if n == name {
			return WorkflowStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown workflow status %q", name)
}
