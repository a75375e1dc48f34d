package config

import "time"

// Scheduler defines config settings for the scheduler backend that runs
// task-run containers.
type Scheduler struct {
	// Engine selects the scheduling backend. Only "docker" is implemented.
	Engine string  `hcl:"engine,optional"`
	Docker *Docker `hcl:"docker,block"`
}

func DefaultSchedulerConfig() *Scheduler {
	return &Scheduler{
		Engine: "docker",
		Docker: DefaultDockerConfig(),
	}
}

type Docker struct {
	// Prune runs a reoccurring container prune to keep stopped task-run
	// containers from filling up local disk.
	Prune bool `hcl:"prune,optional"`

	PruneInterval time.Duration `split_words:"true"`

	// PruneIntervalHCL is the HCL-compatible counterpart to PruneInterval.
	// HCL can't decode directly into a time.Duration
	// (https://github.com/hashicorp/hcl/issues/202), so the file format
	// carries a string here and api.go converts it after parsing.
	PruneIntervalHCL string `ignored:"true" hcl:"prune_interval,optional"`
}

func DefaultDockerConfig() *Docker {
	return &Docker{
		Prune:         false,
		PruneInterval: mustParseDuration("24h"),
	}
}
