package api

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relayctl/relay/internal/kernel"
	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/scheduler"
	"github.com/relayctl/relay/internal/storage"
)

// hangingEngine starts every container and leaves it running until
// explicitly stopped, so tests can observe a run in a known in-flight
// state before tearing it down.
type hangingEngine struct {
	stopped map[string]bool
}

func newHangingEngine() *hangingEngine {
	return &hangingEngine{stopped: map[string]bool{}}
}

func (h *hangingEngine) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	return scheduler.StartContainerResponse{SchedulerID: req.ID}, nil
}

func (h *hangingEngine) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	h.stopped[req.SchedulerID] = true
	return nil
}

func (h *hangingEngine) GetState(ctx context.Context, req scheduler.GetStateRequest) (scheduler.GetStateResponse, error) {
	if h.stopped[req.SchedulerID] {
		return scheduler.GetStateResponse{State: models.ContainerStateCancelled}, nil
	}
	return scheduler.GetStateResponse{State: models.ContainerStateRunning}, nil
}

func (h *hangingEngine) GetLogs(ctx context.Context, req scheduler.GetLogsRequest) (io.Reader, error) {
	return nil, scheduler.ErrNoSuchContainer
}

func newTestService(t *testing.T, engine scheduler.Engine) *Service {
	t.Helper()

	path := filepath.Join(t.TempDir(), "api-test.db")
	db, err := storage.New(path, 0)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := kernel.DefaultConfig()
	cfg.PollIntervalMin = time.Millisecond
	cfg.PollIntervalMax = time.Millisecond * 5

	k := kernel.New(&db, engine, cfg)
	return New(&db, k, engine, "test-sha", true)
}

func TestCreateGetDeletePipeline(t *testing.T) {
	s := newTestService(t, newHangingEngine())

	if _, err := s.CreateNamespace("ns", "NS", ""); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}

	tasks := map[string]models.Task{
		"build": {ID: "build", Image: "alpine", DependsOn: map[string]models.RequiredParentStatus{}},
	}
	pipeline, err := s.CreatePipeline("ns", "p1", "Pipeline One", "", 1, tasks)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if pipeline.ID != "p1" {
		t.Errorf("expected pipeline id p1, got %s", pipeline.ID)
	}

	got, err := s.GetPipeline("ns", "p1")
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if len(got.Tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(got.Tasks))
	}

	if err := s.DeletePipeline("ns", "p1"); err != nil {
		t.Fatalf("DeletePipeline: %v", err)
	}
	if _, err := s.GetPipeline("ns", "p1"); err == nil {
		t.Errorf("expected an error getting a deleted pipeline")
	}
}

func TestCreatePipelineRejectsCyclicTaskGraph(t *testing.T) {
	s := newTestService(t, newHangingEngine())
	if _, err := s.CreateNamespace("ns", "NS", ""); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}

	tasks := map[string]models.Task{
		"a": {ID: "a", Image: "alpine", DependsOn: map[string]models.RequiredParentStatus{"b": models.RequiredParentStatusSuccess}},
		"b": {ID: "b", Image: "alpine", DependsOn: map[string]models.RequiredParentStatus{"a": models.RequiredParentStatusSuccess}},
	}

	if _, err := s.CreatePipeline("ns", "p1", "Pipeline One", "", 1, tasks); err == nil {
		t.Fatalf("expected an error for a cyclic task graph")
	}
}

func TestUpdatePipelineRejectedWhileRunActive(t *testing.T) {
	engine := newHangingEngine()
	s := newTestService(t, engine)
	if _, err := s.CreateNamespace("ns", "NS", ""); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}

	tasks := map[string]models.Task{
		"solo": {ID: "solo", Image: "alpine", DependsOn: map[string]models.RequiredParentStatus{}},
	}
	if _, err := s.CreatePipeline("ns", "p1", "Pipeline One", "", 1, tasks); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	runID, err := s.StartRun(context.Background(), "ns", "p1", models.TriggerInfo{Kind: "manual"}, nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		run, err := s.GetRun("ns", "p1", runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.State == models.RunStateRunning {
			break
		}
		time.Sleep(time.Millisecond * 5)
	}

	newParallelism := int64(2)
	if _, err := s.UpdatePipeline("ns", "p1", nil, &newParallelism); err == nil {
		t.Fatalf("expected UpdatePipeline to be rejected while a run is active")
	}

	if err := s.CancelRun("ns", "p1", runID, true); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		run, err := s.GetRun("ns", "p1", runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.State == models.RunStateComplete {
			break
		}
		time.Sleep(time.Millisecond * 5)
	}

	// Even with the run complete, the update is still rejected until the
	// pipeline itself is disabled.
	if _, err := s.UpdatePipeline("ns", "p1", nil, &newParallelism); err == nil {
		t.Fatalf("expected UpdatePipeline to be rejected while the pipeline is still active")
	}

	if _, err := s.DisablePipeline("ns", "p1"); err != nil {
		t.Fatalf("DisablePipeline: %v", err)
	}

	if _, err := s.UpdatePipeline("ns", "p1", nil, &newParallelism); err != nil {
		t.Fatalf("expected UpdatePipeline to succeed once the run completes and the pipeline is disabled, got %v", err)
	}
}

func TestEnableDisablePipeline(t *testing.T) {
	s := newTestService(t, newHangingEngine())
	if _, err := s.CreateNamespace("ns", "NS", ""); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}

	tasks := map[string]models.Task{
		"solo": {ID: "solo", Image: "alpine", DependsOn: map[string]models.RequiredParentStatus{}},
	}
	pipeline, err := s.CreatePipeline("ns", "p1", "Pipeline One", "", 1, tasks)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if !pipeline.IsActive() {
		t.Fatalf("expected a newly created pipeline to be active")
	}

	disabled, err := s.DisablePipeline("ns", "p1")
	if err != nil {
		t.Fatalf("DisablePipeline: %v", err)
	}
	if disabled.State != models.PipelineStateDisabled {
		t.Errorf("expected pipeline to be disabled, got %v", disabled.State)
	}

	if _, err := s.StartRun(context.Background(), "ns", "p1", models.TriggerInfo{Kind: "manual"}, nil); err == nil {
		t.Fatalf("expected StartRun to be rejected against a disabled pipeline")
	}

	enabled, err := s.EnablePipeline("ns", "p1")
	if err != nil {
		t.Fatalf("EnablePipeline: %v", err)
	}
	if !enabled.IsActive() {
		t.Errorf("expected pipeline to be active again after EnablePipeline")
	}

	if _, err := s.StartRun(context.Background(), "ns", "p1", models.TriggerInfo{Kind: "manual"}, nil); err != nil {
		t.Fatalf("expected StartRun to succeed once re-enabled: %v", err)
	}
}

func TestBatchGetRunsSkipsMissingIDs(t *testing.T) {
	engine := newFakeLogEngine()
	s := newTestService(t, engine)
	if _, err := s.CreateNamespace("ns", "NS", ""); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}

	tasks := map[string]models.Task{
		"solo": {ID: "solo", Image: "alpine", DependsOn: map[string]models.RequiredParentStatus{}},
	}
	if _, err := s.CreatePipeline("ns", "p1", "Pipeline One", "", 1, tasks); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := s.StartRun(context.Background(), "ns", "p1", models.TriggerInfo{Kind: "manual"}, nil)
		if err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		ids = append(ids, id)
	}

	runs, err := s.BatchGetRuns("ns", "p1", append(ids, 999))
	if err != nil {
		t.Fatalf("BatchGetRuns: %v", err)
	}
	if len(runs) != len(ids) {
		t.Fatalf("expected %d runs, got %d", len(ids), len(runs))
	}
}

func TestCancelAllRunsStopsEveryInFlightRun(t *testing.T) {
	engine := newHangingEngine()
	s := newTestService(t, engine)
	if _, err := s.CreateNamespace("ns", "NS", ""); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}

	tasks := map[string]models.Task{
		"solo": {ID: "solo", Image: "alpine", DependsOn: map[string]models.RequiredParentStatus{}},
	}
	if _, err := s.CreatePipeline("ns", "p1", "Pipeline One", "", 2, tasks); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	var ids []int64
	for i := 0; i < 2; i++ {
		id, err := s.StartRun(context.Background(), "ns", "p1", models.TriggerInfo{Kind: "manual"}, nil)
		if err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		ids = append(ids, id)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		allRunning := true
		for _, id := range ids {
			run, err := s.GetRun("ns", "p1", id)
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if run.State != models.RunStateRunning {
				allRunning = false
			}
		}
		if allRunning {
			break
		}
		time.Sleep(time.Millisecond * 5)
	}

	if err := s.CancelAllRuns("ns", "p1", true); err != nil {
		t.Fatalf("CancelAllRuns: %v", err)
	}

	for _, id := range ids {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			run, err := s.GetRun("ns", "p1", id)
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if run.State == models.RunStateComplete {
				break
			}
			time.Sleep(time.Millisecond * 5)
		}
		run, err := s.GetRun("ns", "p1", id)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status != models.RunStatusCancelled {
			t.Errorf("run %d: expected cancelled, got %s", id, run.Status)
		}
	}
}

func TestGetTaskRunLogs(t *testing.T) {
	engine := newFakeLogEngine()
	s := newTestService(t, engine)
	if _, err := s.CreateNamespace("ns", "NS", ""); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}

	tasks := map[string]models.Task{
		"solo": {ID: "solo", Image: "alpine", DependsOn: map[string]models.RequiredParentStatus{}},
	}
	if _, err := s.CreatePipeline("ns", "p1", "Pipeline One", "", 1, tasks); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	runID, err := s.StartRun(context.Background(), "ns", "p1", models.TriggerInfo{Kind: "manual"}, nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		run, err := s.GetRun("ns", "p1", runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.State == models.RunStateComplete {
			break
		}
		time.Sleep(time.Millisecond * 5)
	}

	logs, err := s.GetTaskRunLogs(context.Background(), "ns", "p1", runID, "solo")
	if err != nil {
		t.Fatalf("GetTaskRunLogs: %v", err)
	}

	content, err := io.ReadAll(logs)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(content) == 0 {
		t.Errorf("expected non-empty log output")
	}
}

// fakeLogEngine is a minimal engine that succeeds every container
// immediately and serves canned log output, for the one test that needs
// GetLogs to actually return something.
type fakeLogEngine struct{}

func newFakeLogEngine() *fakeLogEngine { return &fakeLogEngine{} }

func (f *fakeLogEngine) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	return scheduler.StartContainerResponse{SchedulerID: req.ID}, nil
}

func (f *fakeLogEngine) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	return nil
}

func (f *fakeLogEngine) GetState(ctx context.Context, req scheduler.GetStateRequest) (scheduler.GetStateResponse, error) {
	return scheduler.GetStateResponse{State: models.ContainerStateSuccess}, nil
}

func (f *fakeLogEngine) GetLogs(ctx context.Context, req scheduler.GetLogsRequest) (io.Reader, error) {
	return strings.NewReader("build succeeded\n"), nil
}
