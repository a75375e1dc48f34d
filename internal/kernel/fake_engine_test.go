package kernel

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/scheduler"
)

// fakeEngine is an in-memory scheduler.Engine: every container finishes
// immediately with the outcome configured for its image name, so task-graph
// tests can drive the kernel deterministically without a real scheduler.
type fakeEngine struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer

	// outcomeByImage maps an image name to the terminal state a container
	// started from it resolves to. Images not present here succeed.
	outcomeByImage map[string]models.ContainerState

	// hang, when set, holds a container in RUNNING until explicitly stopped
	// instead of resolving immediately; used to exercise cancellation.
	hang map[string]bool

	stopped map[string]bool

	// envs records the environment each started container was launched
	// with, keyed by scheduler ID, so tests can assert on injected
	// variables.
	envs map[string]map[string]string
}

type fakeContainer struct {
	state    models.ContainerState
	exitCode int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		containers:     map[string]*fakeContainer{},
		outcomeByImage: map[string]models.ContainerState{},
		hang:           map[string]bool{},
		stopped:        map[string]bool{},
		envs:           map[string]map[string]string{},
	}
}

func (f *fakeEngine) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(req.ImageName, "no-such-image") {
		return scheduler.StartContainerResponse{}, scheduler.ErrNoSuchImage
	}

	state := models.ContainerStateSuccess
	if s, ok := f.outcomeByImage[req.ImageName]; ok {
		state = s
	}
	if f.hang[req.ImageName] {
		state = models.ContainerStateRunning
	}

	f.containers[req.ID] = &fakeContainer{state: state}
	f.envs[req.ID] = req.EnvVars
	return scheduler.StartContainerResponse{SchedulerID: req.ID}, nil
}

func (f *fakeEngine) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[req.SchedulerID]
	if !ok {
		return scheduler.ErrNoSuchContainer
	}
	f.stopped[req.SchedulerID] = true
	c.state = models.ContainerStateCancelled
	return nil
}

func (f *fakeEngine) GetState(ctx context.Context, req scheduler.GetStateRequest) (scheduler.GetStateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[req.SchedulerID]
	if !ok {
		return scheduler.GetStateResponse{}, scheduler.ErrNoSuchContainer
	}
	return scheduler.GetStateResponse{State: c.state, ExitCode: c.exitCode}, nil
}

func (f *fakeEngine) GetLogs(ctx context.Context, req scheduler.GetLogsRequest) (io.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.containers[req.SchedulerID]; !ok {
		return nil, scheduler.ErrNoSuchContainer
	}
	return strings.NewReader(fmt.Sprintf("log output for %s", req.SchedulerID)), nil
}

func (f *fakeEngine) wasStopped(schedulerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped[schedulerID]
}

func (f *fakeEngine) envFor(schedulerID string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.envs[schedulerID]
}
