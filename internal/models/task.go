package models

// RequiredParentStatus describes the predicate a task's dependency must
// satisfy before the task itself is allowed to run.
type RequiredParentStatus string

const (
	RequiredParentStatusUnknown RequiredParentStatus = "UNKNOWN"
	RequiredParentStatusAny     RequiredParentStatus = "ANY"
	RequiredParentStatusSuccess RequiredParentStatus = "SUCCESSFUL"
	RequiredParentStatusFailure RequiredParentStatus = "FAILURE"
)

// Satisfies reports whether a parent task-run that finished with parentStatus
// satisfies this required predicate.
func (r RequiredParentStatus) Satisfies(parentStatus TaskRunStatus) bool {
	switch r {
	case RequiredParentStatusAny:
		return true
	case RequiredParentStatusSuccess:
		return parentStatus == TaskRunStatusSuccessful
	case RequiredParentStatusFailure:
		return parentStatus == TaskRunStatusFailed
	default:
		return false
	}
}

// RegistryAuth holds optional credentials for pulling a task's image from a
// private registry.
type RegistryAuth struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Exec overrides a task container's entrypoint with an inline shell script.
// Script is stored base64 encoded so it can safely carry newlines/quoting.
type Exec struct {
	Shell  string `json:"shell"`
	Script string `json:"script"` // base64 encoded
}

// Task is a single container image plus its dependency wiring within a
// pipeline. Tasks are owned by a pipeline and are only ever mutated as part
// of a pipeline update.
type Task struct {
	ID           string                          `json:"id"`
	Description  string                          `json:"description"`
	Image        string                          `json:"image"`
	RegistryAuth *RegistryAuth                   `json:"registry_auth,omitempty"`
	DependsOn    map[string]RequiredParentStatus `json:"depends_on"`
	Variables    []Variable                      `json:"variables"`
	Exec         *Exec                           `json:"exec,omitempty"`
}
