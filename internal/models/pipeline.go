package models

// PipelineState represents whether a pipeline currently accepts new runs.
type PipelineState string

const (
	PipelineStateUnknown  PipelineState = "UNKNOWN"
	PipelineStateActive   PipelineState = "ACTIVE"
	PipelineStateDisabled PipelineState = "DISABLED"
)

// TriggerSettings binds an external trigger to a pipeline under a label.
// Error is populated when the most recent subscription attempt failed.
type TriggerSettings struct {
	Kind     string            `json:"kind"`
	Label    string            `json:"label"`
	Settings map[string]string `json:"settings"`
	Error    string            `json:"error,omitempty"`
}

// NotifierSettings binds a notifier to a pipeline under a label.
type NotifierSettings struct {
	Kind     string            `json:"kind"`
	Label    string            `json:"label"`
	Settings map[string]string `json:"settings"`
	Error    string            `json:"error,omitempty"`
}

// Pipeline is a declarative graph of tasks plus its trigger/notifier
// bindings and parallelism limit.
type Pipeline struct {
	Namespace     string                      `json:"namespace"`
	ID            string                      `json:"id"`
	Name          string                      `json:"name"`
	Description   string                      `json:"description"`
	Parallelism   int64                       `json:"parallelism"`
	State         PipelineState               `json:"state"`
	Created       uint64                      `json:"created"`
	Modified      uint64                      `json:"modified"`
	LastRunID     int64                       `json:"last_run_id"`
	LastRunTime   uint64                      `json:"last_run_time"`
	Tasks         map[string]Task             `json:"tasks"`
	Triggers      map[string]TriggerSettings  `json:"triggers"`
	Notifiers     map[string]NotifierSettings `json:"notifiers"`
	StoreKeys     []string                    `json:"store_keys"`
	DefaultVars   []Variable                  `json:"default_variables"`
}

func NewPipeline(namespace, id, name, description string, parallelism int64) *Pipeline {
	ts := now()
	return &Pipeline{
		Namespace:   namespace,
		ID:          id,
		Name:        name,
		Description: description,
		Parallelism: parallelism,
		State:       PipelineStateActive,
		Created:     ts,
		Modified:    ts,
		Tasks:       map[string]Task{},
		Triggers:    map[string]TriggerSettings{},
		Notifiers:   map[string]NotifierSettings{},
		StoreKeys:   []string{},
	}
}

// IsActive reports whether the pipeline currently accepts new runs.
func (p *Pipeline) IsActive() bool {
	return p.State == PipelineStateActive
}
