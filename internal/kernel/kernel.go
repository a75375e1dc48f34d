// Package kernel implements the orchestration kernel: admission control,
// dependency-ordered task-run execution, cancellation, and run
// finalization. It sits between the API surface and the storage/scheduler
// layers, owning the lifecycle of every in-flight run.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/scheduler"
	"github.com/relayctl/relay/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config bounds the kernel's execution behavior. It has no file-format
// ties of its own; internal/app assembles it from the process's overall
// configuration (config.Kernel).
type Config struct {
	// StopTimeout is the grace period a graceful cancellation gives a
	// running container before the scheduler force-kills it.
	StopTimeout time.Duration

	// PollIntervalMin/Max bound the exponential backoff used while polling
	// a container for a terminal state.
	PollIntervalMin time.Duration
	PollIntervalMax time.Duration

	// StorageRetries is carried over from configuration but the kernel does
	// not read it: a failed mid-run storage write is logged and not retried,
	// and the run is not halted because of it.
	StorageRetries int
}

func DefaultConfig() Config {
	return Config{
		StopTimeout:     time.Second * 30,
		PollIntervalMin: time.Millisecond * 250,
		PollIntervalMax: time.Second * 10,
		StorageRetries:  3,
	}
}

// Kernel owns every in-flight run. Namespace/pipeline pairs are
// independently rate-limited by their own parallelism setting; admission
// and queue state is guarded by admissionMu since it is cheap relative to
// the work a run itself performs.
type Kernel struct {
	db     *storage.DB
	engine scheduler.Engine
	config Config

	admissionMu   sync.Mutex
	runningCounts map[string]int
	queues        map[string][]int64

	executionsMu sync.Mutex
	executions   map[string]*execution

	stopping bool
	wg       sync.WaitGroup
}

func New(db *storage.DB, engine scheduler.Engine, config Config) *Kernel {
	return &Kernel{
		db:            db,
		engine:        engine,
		config:        config,
		runningCounts: map[string]int{},
		queues:        map[string][]int64{},
		executions:    map[string]*execution{},
	}
}

func pipelineKey(namespace, pipeline string) string {
	return namespace + "/" + pipeline
}

func runKey(namespace, pipeline string, id int64) string {
	return fmt.Sprintf("%s/%s/%d", namespace, pipeline, id)
}

// StartRun admits a new run per spec §4.3: it always allocates and persists
// the next run ID so full execution history is recorded, but only begins
// executing the task graph immediately if the pipeline's parallelism limit
// allows it; otherwise the run is queued in memory and dequeued as running
// runs complete.
func (k *Kernel) StartRun(ctx context.Context, namespace, pipelineID string, trigger models.TriggerInfo, overrides []models.Variable) (int64, error) {
	k.admissionMu.Lock()
	defer k.admissionMu.Unlock()

	if k.stopping {
		return 0, fmt.Errorf("kernel is shutting down: %w", storage.ErrPreconditionFailure)
	}

	pipeline, err := k.db.GetPipeline(nil, namespace, pipelineID)
	if err != nil {
		return 0, err
	}

	if !pipeline.IsActive() {
		return 0, ErrPipelineNotActive
	}

	lastID, err := k.db.GetLatestRunID(nil, namespace, pipelineID)
	if err != nil {
		return 0, err
	}
	runID := lastID + 1

	variables := models.MergeVariables(pipeline.DefaultVars, overrides)

	run := models.NewRun(namespace, pipelineID, runID, trigger, variables)
	if err := k.db.InsertRun(nil, run); err != nil {
		return 0, err
	}

	key := pipelineKey(namespace, pipelineID)

	if pipeline.Parallelism > 0 && k.runningCounts[key] >= int(pipeline.Parallelism) {
		k.queues[key] = append(k.queues[key], runID)
		log.Debug().Str("namespace", namespace).Str("pipeline", pipelineID).
			Int64("run", runID).Msg("kernel: run queued, parallelism limit reached")
		return runID, nil
	}

	k.runningCounts[key]++
	k.launch(namespace, pipelineID, runID, pipeline)

	return runID, nil
}

// launch starts a run's execution goroutine. Caller must hold admissionMu.
func (k *Kernel) launch(namespace, pipelineID string, runID int64, pipeline models.Pipeline) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.execute(namespace, pipelineID, runID, pipeline)
		k.advanceQueue(namespace, pipelineID)
	}()
}

// advanceQueue pulls the next queued run for a pipeline (if any) and starts
// it, once a running-slot has just freed up.
func (k *Kernel) advanceQueue(namespace, pipelineID string) {
	k.admissionMu.Lock()
	defer k.admissionMu.Unlock()

	key := pipelineKey(namespace, pipelineID)
	k.runningCounts[key]--

	queue := k.queues[key]
	if len(queue) == 0 {
		return
	}

	nextID := queue[0]
	k.queues[key] = queue[1:]

	pipeline, err := k.db.GetPipeline(nil, namespace, pipelineID)
	if err != nil {
		log.Error().Err(err).Str("namespace", namespace).Str("pipeline", pipelineID).
			Msg("kernel: could not fetch pipeline to dequeue run")
		return
	}

	k.runningCounts[key]++
	k.launch(namespace, pipelineID, nextID, pipeline)
}

// Wait blocks until every in-flight run this kernel launched has finished.
// Used during graceful shutdown after new admissions have been refused.
func (k *Kernel) Wait() {
	k.wg.Wait()
}

// StopAdmissions prevents any further run from being admitted. Already
// in-flight runs are unaffected; pair with Wait (optionally after Cancel on
// remaining runs) to drain during shutdown.
func (k *Kernel) StopAdmissions() {
	k.admissionMu.Lock()
	defer k.admissionMu.Unlock()
	k.stopping = true
}

func (k *Kernel) transitionRunState(namespace, pipelineID string, runID int64, state models.RunState) {
	err := k.db.UpdateRun(nil, namespace, pipelineID, runID, storage.UpdatableRunFields{
		State: models.Ptr(state),
	})
	if err != nil {
		log.Error().Err(err).Str("namespace", namespace).Str("pipeline", pipelineID).
			Int64("run", runID).Msg("kernel: could not persist run state transition")
	}
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// RetryRun starts a fresh run cloning the prior run's variables and trigger
// info, per spec §4.3's retry semantics: the kernel never automatically
// retries a failed task, only an explicit RetryRun clones and restarts the
// whole run.
func (k *Kernel) RetryRun(ctx context.Context, namespace, pipelineID string, runID int64) (int64, error) {
	prior, err := k.db.GetRun(nil, namespace, pipelineID, runID)
	if err != nil {
		return 0, err
	}

	if !prior.IsComplete() {
		return 0, ErrRunNotComplete
	}

	return k.StartRun(ctx, namespace, pipelineID, prior.Trigger, prior.Variables)
}
