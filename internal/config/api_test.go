package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleHCL = `
log_level = "debug"
default_namespace = "team-a"

storage {
  path              = "/var/lib/relay/relay.db"
  max_results_limit = 250
}

scheduler {
  engine = "docker"
  docker {
    prune          = true
    prune_interval = "12h"
  }
}

server {
  host              = "0.0.0.0:9090"
  dev_mode          = false
  shutdown_timeout  = "45s"
}

kernel {
  stop_timeout       = "1m"
  poll_interval_min  = "500ms"
  poll_interval_max  = "20s"
  storage_retries    = 5
}
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "relay.hcl")
	if err := os.WriteFile(path, []byte(sampleHCL), 0o644); err != nil {
		t.Fatalf("could not write sample config: %v", err)
	}
	return path
}

func TestAPIFromFile(t *testing.T) {
	cfg := API{}
	if err := cfg.FromFile(writeSampleConfig(t)); err != nil {
		t.Fatalf("FromFile: %v", err)
	}

	expected := API{
		LogLevel:         "debug",
		DefaultNamespace: "team-a",

		Storage: &Storage{
			Path:            "/var/lib/relay/relay.db",
			MaxResultsLimit: 250,
		},
		Scheduler: &Scheduler{
			Engine: "docker",
			Docker: &Docker{
				Prune:            true,
				PruneInterval:    time.Hour * 12,
				PruneIntervalHCL: "12h",
			},
		},
		Server: &Server{
			Host:               "0.0.0.0:9090",
			DevMode:            false,
			ShutdownTimeout:    time.Second * 45,
			ShutdownTimeoutHCL: "45s",
		},
		Kernel: &Kernel{
			StopTimeout:        time.Minute,
			StopTimeoutHCL:     "1m",
			PollIntervalMin:    time.Millisecond * 500,
			PollIntervalMinHCL: "500ms",
			PollIntervalMax:    time.Second * 20,
			PollIntervalMaxHCL: "20s",
			StorageRetries:     5,
		},
	}

	if diff := cmp.Diff(expected, cfg); diff != "" {
		t.Errorf("result differs from expected (-want +got):\n%s", diff)
	}
}

func TestAPIEnvOverridesFile(t *testing.T) {
	cfg := API{}
	if err := cfg.FromFile(writeSampleConfig(t)); err != nil {
		t.Fatalf("FromFile: %v", err)
	}

	t.Setenv("RELAY_LOG_LEVEL", "warn")
	t.Setenv("RELAY_STORAGE_MAX_RESULTS_LIMIT", "999")
	t.Setenv("RELAY_SCHEDULER_DOCKER_PRUNE", "false")

	if err := cfg.FromEnv(); err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("expected env override of log_level, got %q", cfg.LogLevel)
	}
	if cfg.Storage.MaxResultsLimit != 999 {
		t.Errorf("expected env override of max_results_limit, got %d", cfg.Storage.MaxResultsLimit)
	}
	if cfg.Scheduler.Docker.Prune {
		t.Errorf("expected env override to flip docker.prune to false")
	}
	// Fields untouched by env vars must retain whatever FromFile set.
	if cfg.DefaultNamespace != "team-a" {
		t.Errorf("expected default_namespace to remain %q, got %q", "team-a", cfg.DefaultNamespace)
	}
}

func TestDefaultAPIConfigHasNoNilBlocks(t *testing.T) {
	cfg := DefaultAPIConfig()

	if cfg.Storage == nil || cfg.Scheduler == nil || cfg.Server == nil || cfg.Kernel == nil {
		t.Fatalf("expected every top-level config block to have a default, got %+v", cfg)
	}
	if cfg.Scheduler.Docker == nil {
		t.Fatalf("expected scheduler.docker default block, got nil")
	}
}

func TestInitAPIConfigFallsBackToDefaultsWithoutAFile(t *testing.T) {
	t.Setenv("RELAY_CONFIG_PATH", "")

	cfg, err := InitAPIConfig(filepath.Join(t.TempDir(), "does-not-exist.hcl"))
	if err != nil {
		t.Fatalf("InitAPIConfig: %v", err)
	}

	if cfg.Storage.Path != DefaultStorageConfig().Path {
		t.Errorf("expected default storage path, got %q", cfg.Storage.Path)
	}
}
