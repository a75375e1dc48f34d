package config

import (
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/kelseyhightower/envconfig"
)

// API defines the full configuration for the relay server process.
type API struct {
	LogLevel         string `split_words:"true" hcl:"log_level,optional"`
	DefaultNamespace string `split_words:"true" hcl:"default_namespace,optional"`

	Storage   *Storage   `hcl:"storage,block"`
	Scheduler *Scheduler `hcl:"scheduler,block"`
	Server    *Server    `hcl:"server,block"`
	Kernel    *Kernel    `hcl:"kernel,block"`
}

func DefaultAPIConfig() *API {
	return &API{
		LogLevel:         "info",
		DefaultNamespace: "default",

		Storage:   DefaultStorageConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Server:    DefaultServerConfig(),
		Kernel:    DefaultKernelConfig(),
	}
}

// Server represents settings for the process's own lifecycle: the listen
// address of its gRPC health server, development mode, and how long
// shutdown waits for in-flight runs to drain.
type Server struct {
	Host    string `hcl:"host,optional"`
	DevMode bool   `hcl:"dev_mode,optional"`

	ShutdownTimeout time.Duration `split_words:"true"`

	// ShutdownTimeoutHCL is the HCL-compatible counterpart to
	// ShutdownTimeout; see Docker.PruneIntervalHCL for why this exists.
	ShutdownTimeoutHCL string `ignored:"true" hcl:"shutdown_timeout,optional"`
}

func DefaultServerConfig() *Server {
	return &Server{
		Host:            "localhost:8080",
		DevMode:         true,
		ShutdownTimeout: mustParseDuration("15s"),
	}
}

// Kernel mirrors kernel.Config's fields so they can be set from the config
// file/environment instead of being hardcoded at wiring time.
type Kernel struct {
	StopTimeout    time.Duration `split_words:"true"`
	StopTimeoutHCL string        `ignored:"true" hcl:"stop_timeout,optional"`

	PollIntervalMin    time.Duration `split_words:"true"`
	PollIntervalMinHCL string        `ignored:"true" hcl:"poll_interval_min,optional"`

	PollIntervalMax    time.Duration `split_words:"true"`
	PollIntervalMaxHCL string        `ignored:"true" hcl:"poll_interval_max,optional"`

	StorageRetries int `split_words:"true" hcl:"storage_retries,optional"`
}

func DefaultKernelConfig() *Kernel {
	return &Kernel{
		StopTimeout:     mustParseDuration("30s"),
		PollIntervalMin: mustParseDuration("250ms"),
		PollIntervalMax: mustParseDuration("10s"),
		StorageRetries:  3,
	}
}

// FromEnv overlays environment variables (prefix RELAY_) on top of whatever
// is currently set.
func (c *API) FromEnv() error {
	return envconfig.Process("relay", c)
}

// FromFile parses an HCL configuration file into c.
func (c *API) FromFile(path string) error {
	if err := hclsimple.DecodeFile(path, nil, c); err != nil {
		return err
	}

	c.convertDurationsFromHCL()

	return nil
}

// convertDurationsFromHCL moves each *HCL string field's parsed value onto
// its real time.Duration counterpart. HCL cannot decode directly into
// time.Duration (https://github.com/hashicorp/hcl/issues/202).
func (c *API) convertDurationsFromHCL() {
	if c.Server != nil && c.Server.ShutdownTimeoutHCL != "" {
		c.Server.ShutdownTimeout = mustParseDuration(c.Server.ShutdownTimeoutHCL)
	}

	if c.Kernel != nil {
		if c.Kernel.StopTimeoutHCL != "" {
			c.Kernel.StopTimeout = mustParseDuration(c.Kernel.StopTimeoutHCL)
		}
		if c.Kernel.PollIntervalMinHCL != "" {
			c.Kernel.PollIntervalMin = mustParseDuration(c.Kernel.PollIntervalMinHCL)
		}
		if c.Kernel.PollIntervalMaxHCL != "" {
			c.Kernel.PollIntervalMax = mustParseDuration(c.Kernel.PollIntervalMaxHCL)
		}
	}

	if c.Scheduler != nil && c.Scheduler.Docker != nil && c.Scheduler.Docker.PruneIntervalHCL != "" {
		c.Scheduler.Docker.PruneInterval = mustParseDuration(c.Scheduler.Docker.PruneIntervalHCL)
	}
}

// InitAPIConfig resolves the final configuration: defaults, superimposed by
// a config file (if found), superimposed by environment variables (which
// always win).
func InitAPIConfig(userDefinedPath string) (*API, error) {
	cfg := DefaultAPIConfig()

	path := searchFilePaths(userDefinedPath, "/etc/relay/relay.hcl")

	if envPath := os.Getenv("RELAY_CONFIG_PATH"); envPath != "" {
		path = envPath
	}

	if path != "" {
		if err := cfg.FromFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}
