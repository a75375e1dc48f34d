// Package docker implements scheduler.Engine against a local docker daemon.
package docker

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/scheduler"
	"github.com/rs/zerolog/log"
)

// Orchestrator drives container lifecycle through the docker API.
type Orchestrator struct {
	// cancelled tracks containers the kernel stopped on purpose, since
	// docker gives no way to tell a deliberately stopped container apart
	// from one that exited on its own. Entries older than a day are swept
	// so a caller that never calls GetState after a cancellation doesn't
	// leak the entry forever.
	cancelled map[string]time.Time
	*client.Client
}

const envVarFormat = "%s=%s"

func New(ctx context.Context, prune bool, pruneInterval time.Duration) (*Orchestrator, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("could not build docker client: %w", err)
	}

	if _, err := docker.Info(ctx); err != nil {
		return nil, fmt.Errorf("could not connect to docker; is docker installed and running? %w", err)
	}

	orch := &Orchestrator{
		Client:    docker,
		cancelled: map[string]time.Time{},
	}

	if prune {
		go orch.pruneLoop(pruneInterval)
	}

	go orch.reapCancellations()

	return orch, nil
}

// pruneLoop periodically removes stopped containers so the host doesn't
// accumulate disk usage across many runs. Failures are logged, never
// propagated, since a failed prune should never take down the scheduler.
func (orch *Orchestrator) pruneLoop(interval time.Duration) {
	for {
		report, err := orch.ContainersPrune(context.Background(), filters.Args{})
		if err != nil {
			log.Debug().Err(err).Msg("docker: could not prune containers")
		} else {
			log.Debug().Int("containers_deleted", len(report.ContainersDeleted)).
				Uint64("space_reclaimed", report.SpaceReclaimed).Msg("docker: pruned containers")
		}

		time.Sleep(interval)
	}
}

func (orch *Orchestrator) reapCancellations() {
	for {
		cutoff := time.Now().AddDate(0, 0, -1)
		for id, insertTime := range orch.cancelled {
			if insertTime.Before(cutoff) {
				delete(orch.cancelled, id)
			}
		}
		time.Sleep(time.Hour * 24)
	}
}

func (orch *Orchestrator) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	var dockerRegistryAuth string
	if req.RegistryUser != "" {
		authString := fmt.Sprintf("%s:%s", req.RegistryUser, req.RegistryPass)
		dockerRegistryAuth = base64.StdEncoding.EncodeToString([]byte(authString))
	}

	if err := orch.ensureImage(ctx, req.ImageName, req.AlwaysPull, dockerRegistryAuth); err != nil {
		return scheduler.StartContainerResponse{}, err
	}

	containerConfig := &container.Config{
		Image: req.ImageName,
		Env:   convertEnvVars(req.EnvVars),
	}

	if req.Exec != nil {
		script, err := base64.StdEncoding.DecodeString(req.Exec.Script)
		if err != nil {
			return scheduler.StartContainerResponse{}, fmt.Errorf("decoding exec script: %w", err)
		}

		shell := req.Exec.Shell
		if shell == "" {
			shell = "/bin/sh"
		}

		containerConfig.Entrypoint = []string{shell, "-c", string(script)}
	}

	hostConfig := &container.HostConfig{}

	_ = orch.ContainerRemove(ctx, req.ID, types.ContainerRemoveOptions{RemoveVolumes: true, Force: true})

	createResp, err := orch.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, req.ID)
	if err != nil {
		return scheduler.StartContainerResponse{}, fmt.Errorf("creating container: %w", err)
	}

	if err := orch.ContainerStart(ctx, createResp.ID, types.ContainerStartOptions{}); err != nil {
		return scheduler.StartContainerResponse{}, fmt.Errorf("starting container: %w", err)
	}

	return scheduler.StartContainerResponse{SchedulerID: createResp.ID}, nil
}

func (orch *Orchestrator) ensureImage(ctx context.Context, image string, alwaysPull bool, registryAuth string) error {
	if !alwaysPull {
		list, err := orch.ImageList(ctx, types.ImageListOptions{
			Filters: filters.NewArgs(filters.KeyValuePair{Key: "reference", Value: image}),
		})
		if err == nil && len(list) > 0 {
			return nil
		}
	}

	r, err := orch.ImagePull(ctx, image, types.ImagePullOptions{RegistryAuth: registryAuth})
	if err != nil {
		if strings.Contains(err.Error(), "manifest unknown") {
			return fmt.Errorf("image '%s' not found or missing auth: %w", image, scheduler.ErrNoSuchImage)
		}
		return err
	}
	defer r.Close()

	_, _ = io.Copy(io.Discard, r) // drain pull log; only errors matter to the caller

	return nil
}

func (orch *Orchestrator) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	orch.cancelled[req.SchedulerID] = time.Now()

	timeout := req.Timeout
	if err := orch.ContainerStop(ctx, req.SchedulerID, &timeout); err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return scheduler.ErrNoSuchContainer
		}
		return err
	}

	return nil
}

func (orch *Orchestrator) GetState(ctx context.Context, req scheduler.GetStateRequest) (scheduler.GetStateResponse, error) {
	containerInfo, err := orch.ContainerInspect(ctx, req.SchedulerID)
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return scheduler.GetStateResponse{State: models.ContainerStateUnknown}, scheduler.ErrNoSuchContainer
		}
		return scheduler.GetStateResponse{State: models.ContainerStateUnknown}, err
	}

	switch containerInfo.State.Status {
	case "created", "running":
		return scheduler.GetStateResponse{State: models.ContainerStateRunning}, nil
	case "exited":
		_, wasCancelled := orch.cancelled[req.SchedulerID]
		delete(orch.cancelled, req.SchedulerID)

		if wasCancelled {
			return scheduler.GetStateResponse{
				ExitCode: containerInfo.State.ExitCode,
				State:    models.ContainerStateCancelled,
			}, nil
		}

		if containerInfo.State.ExitCode == 0 {
			return scheduler.GetStateResponse{ExitCode: 0, State: models.ContainerStateSuccess}, nil
		}

		return scheduler.GetStateResponse{
			ExitCode: containerInfo.State.ExitCode,
			State:    models.ContainerStateFailed,
		}, nil
	default:
		log.Debug().Str("state", containerInfo.State.Status).Msg("docker: abnormal container state")
		return scheduler.GetStateResponse{State: models.ContainerStateUnknown}, nil
	}
}

// GetLogs de-multiplexes docker's combined stdout/stderr stream format and
// streams it back through an io.Pipe so the caller can read it as the
// container produces output.
func (orch *Orchestrator) GetLogs(ctx context.Context, req scheduler.GetLogsRequest) (io.Reader, error) {
	out, err := orch.ContainerLogs(ctx, req.SchedulerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return nil, scheduler.ErrNoSuchContainer
		}
		return nil, err
	}

	demuxr, demuxw := io.Pipe()

	go func() {
		byteCount, err := stdcopy.StdCopy(demuxw, demuxw, out)
		if err != nil {
			log.Error().Err(err).Msg("docker: could not demultiplex log stream")
		}
		demuxw.Close()
		log.Debug().Int64("bytes_written", byteCount).Msg("docker: finished demultiplexing logs")
	}()

	return demuxr, nil
}

func convertEnvVars(envVars map[string]string) []string {
	out := make([]string, 0, len(envVars))
	for key, value := range envVars {
		out = append(out, fmt.Sprintf(envVarFormat, key, value))
	}
	return out
}
