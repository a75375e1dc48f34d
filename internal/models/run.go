package models

// RunState tracks a run's progress through the orchestration kernel.
type RunState string

const (
	RunStateUnknown  RunState = "UNKNOWN"
	RunStatePending  RunState = "PENDING"
	RunStateRunning  RunState = "RUNNING"
	RunStateComplete RunState = "COMPLETE"
)

// RunStatus is the terminal result of a run; only meaningful once State is
// Complete.
type RunStatus string

const (
	RunStatusUnknown    RunStatus = "UNKNOWN"
	RunStatusSuccessful RunStatus = "SUCCESSFUL"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusCancelled  RunStatus = "CANCELLED"
)

// FailureReason classifies why a run or task-run ended in a non-successful
// status. Run and task-run share one vocabulary; not every value is produced
// for both (UserCancelled is recorded on runs and on their cancelled
// task-runs), and AdminCancelled and Orphaned are not set by the kernel.
type FailureReason string

const (
	FailureReasonUnknown            FailureReason = "UNKNOWN"
	FailureReasonAbnormalExit       FailureReason = "ABNORMAL_EXIT"
	FailureReasonSchedulerError     FailureReason = "SCHEDULER_ERROR"
	FailureReasonFailedPrecondition FailureReason = "FAILED_PRECONDITION"
	FailureReasonCancelled          FailureReason = "CANCELLED"
	FailureReasonUserCancelled      FailureReason = "USER_CANCELLED"
	FailureReasonAdminCancelled     FailureReason = "ADMIN_CANCELLED"
	FailureReasonOrphaned           FailureReason = "ORPHANED"
)

// FailureInfo carries the reason/description pair attached to a run or
// task-run when it ends in a non-successful state.
type FailureInfo struct {
	Reason      FailureReason `json:"reason"`
	Description string        `json:"description"`
}

// TriggerInfo records which trigger (if any) started a run.
type TriggerInfo struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// Run is one execution of a pipeline.
type Run struct {
	Namespace   string       `json:"namespace"`
	Pipeline    string       `json:"pipeline"`
	ID          int64        `json:"id"`
	Started     uint64       `json:"started"`
	Ended       uint64       `json:"ended"`
	State       RunState     `json:"state"`
	Status      RunStatus    `json:"status"`
	FailureInfo *FailureInfo `json:"failure_info,omitempty"`
	Trigger     TriggerInfo  `json:"trigger"`
	Variables   []Variable   `json:"variables"`
	TaskRuns    []string     `json:"task_runs"`
	StoreExpired bool        `json:"store_expired"`
	StoreKeys   []string     `json:"store_keys"`
}

func NewRun(namespace, pipeline string, id int64, trigger TriggerInfo, variables []Variable) *Run {
	return &Run{
		Namespace: namespace,
		Pipeline:  pipeline,
		ID:        id,
		Started:   now(),
		State:     RunStatePending,
		Status:    RunStatusUnknown,
		Trigger:   trigger,
		Variables: variables,
		TaskRuns:  []string{},
	}
}

// IsComplete reports whether the run has reached its terminal state.
func (r *Run) IsComplete() bool {
	return r.State == RunStateComplete
}
