package models

// ContainerState is the uniform state vocabulary the scheduler adapter
// reports back for a launched container, independent of backend.
type ContainerState string

const (
	ContainerStateUnknown    ContainerState = "UNKNOWN"
	ContainerStateProcessing ContainerState = "PROCESSING"
	ContainerStateWaiting    ContainerState = "WAITING"
	ContainerStateRunning    ContainerState = "RUNNING"
	ContainerStateSuccess    ContainerState = "SUCCESS"
	ContainerStateFailed     ContainerState = "FAILED"
	ContainerStateCancelled  ContainerState = "CANCELLED"
)

// IsTerminal reports whether the container state represents a finished
// container, successful or not.
func (c ContainerState) IsTerminal() bool {
	switch c {
	case ContainerStateSuccess, ContainerStateFailed, ContainerStateCancelled:
		return true
	default:
		return false
	}
}

// TaskRunState tracks a task-run's progress through its own mini lifecycle,
// independent of the container state the scheduler reports.
type TaskRunState string

const (
	TaskRunStateUnknown    TaskRunState = "UNKNOWN"
	TaskRunStateProcessing TaskRunState = "PROCESSING"
	TaskRunStateWaiting    TaskRunState = "WAITING"
	TaskRunStateRunning    TaskRunState = "RUNNING"
	TaskRunStateComplete   TaskRunState = "COMPLETE"
)

// TaskRunStatus is the terminal result of a task-run.
type TaskRunStatus string

const (
	TaskRunStatusUnknown    TaskRunStatus = "UNKNOWN"
	TaskRunStatusSuccessful TaskRunStatus = "SUCCESSFUL"
	TaskRunStatusFailed     TaskRunStatus = "FAILED"
	TaskRunStatusCancelled  TaskRunStatus = "CANCELLED"
	TaskRunStatusSkipped    TaskRunStatus = "SKIPPED"
)

// TaskRun is one execution of one task within one run; the unit the
// scheduler adapter manages directly.
type TaskRun struct {
	Namespace   string                `json:"namespace"`
	Pipeline    string                `json:"pipeline"`
	Run         int64                 `json:"run"`
	ID          string                `json:"id"`
	State       TaskRunState          `json:"state"`
	Status      TaskRunStatus         `json:"status"`
	FailureInfo *FailureInfo          `json:"failure_info,omitempty"`
	ExitCode    *int64                `json:"exit_code,omitempty"`
	SchedulerID string                `json:"scheduler_id"`
	URL         string                `json:"url,omitempty"`
	Started     uint64                `json:"started"`
	Ended       uint64                `json:"ended"`
	Task        Task                  `json:"task"`
}

func NewTaskRun(namespace, pipeline string, run int64, task Task) *TaskRun {
	return &TaskRun{
		Namespace: namespace,
		Pipeline:  pipeline,
		Run:       run,
		ID:        task.ID,
		State:     TaskRunStateProcessing,
		Status:    TaskRunStatusUnknown,
		Task:      task,
	}
}

// IsComplete reports whether the task-run has reached its terminal state.
func (t *TaskRun) IsComplete() bool {
	return t.State == TaskRunStateComplete
}

// SetFinished transitions a task-run into its terminal state and records
// the exit code/status/reason that got it there.
func (t *TaskRun) SetFinished(exitCode *int64, status TaskRunStatus, reason *FailureInfo) {
	t.State = TaskRunStateComplete
	t.Status = status
	t.FailureInfo = reason
	t.ExitCode = exitCode
	t.Ended = now()
}
