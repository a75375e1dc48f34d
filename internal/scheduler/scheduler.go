// Package scheduler defines the interface a scheduling backend must adhere
// to. The orchestration kernel schedules task-runs as containers through
// this interface without knowing or caring which concrete backend is behind
// it.
package scheduler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/relayctl/relay/internal/models"
)

type EngineType string

const (
	// EngineDocker uses a local docker daemon to schedule task-runs.
	EngineDocker EngineType = "docker"
)

// ErrNoSuchContainer is returned when a requested container could not be
// located on the scheduler.
var ErrNoSuchContainer = errors.New("scheduler: entity not found")

// ErrNoSuchImage is returned when the requested container image could not be
// pulled.
var ErrNoSuchImage = errors.New("scheduler: image not found")

type StartContainerRequest struct {
	ID        string            // the scheduler-facing identifier for the container
	ImageName string            // image repository endpoint; may include a tag
	EnvVars   map[string]string // environment injected into the container

	RegistryUser string
	RegistryPass string

	// AlwaysPull forces a pull even if the image is already present locally.
	// Useful for images that reuse tags (e.g. "latest").
	AlwaysPull bool

	// Exec, when set, overrides the image's entrypoint with an inline shell
	// command instead of running the image's default command.
	Exec *models.Exec
}

type StartContainerResponse struct {
	SchedulerID string
}

type StopContainerRequest struct {
	SchedulerID string
	Timeout     time.Duration // grace period before a forceful kill
}

type GetStateRequest struct {
	SchedulerID string
}

type GetStateResponse struct {
	ExitCode int
	State    models.ContainerState
}

type GetLogsRequest struct {
	SchedulerID string
}

// Engine is implemented by every scheduling backend. All methods take a
// context so a caller can bound how long it is willing to wait on the
// underlying scheduler API.
type Engine interface {
	// StartContainer launches a new container and returns an identifier the
	// caller uses to refer to it on every subsequent call.
	StartContainer(ctx context.Context, request StartContainerRequest) (response StartContainerResponse, err error)

	// StopContainer asks the scheduler to gracefully stop a running
	// container, falling back to a forceful kill once Timeout elapses.
	StopContainer(ctx context.Context, request StopContainerRequest) error

	// GetState reports the container's current state translated into the
	// models.ContainerState vocabulary, independent of backend.
	GetState(ctx context.Context, request GetStateRequest) (response GetStateResponse, err error)

	// GetLogs streams the container's combined stdout/stderr. The returned
	// reader is closed (EOF) once the container's output is exhausted.
	GetLogs(ctx context.Context, request GetLogsRequest) (logs io.Reader, err error)
}
