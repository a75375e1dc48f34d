package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/scheduler"
	"github.com/relayctl/relay/internal/storage"
	"github.com/relayctl/relay/internal/syncmap"
	"github.com/rs/zerolog/log"
)

// execution tracks the live cancellation request (if any) for one in-flight
// run. A zero value means "not cancelled". mu guards the three fields below
// since Cancel is called from a different goroutine than the one polling
// the run's containers.
type execution struct {
	mu              sync.Mutex
	cancelRequested bool
	force           bool
	reason          models.FailureReason
}

func newExecution() *execution {
	return &execution{}
}

func (e *execution) requestCancel(force bool, reason models.FailureReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelRequested = true
	e.force = e.force || force
	e.reason = reason
}

func (e *execution) snapshot() (cancelled, force bool, reason models.FailureReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested, e.force, e.reason
}

func (k *Kernel) execKey(namespace, pipelineID string, runID int64) string {
	return runKey(namespace, pipelineID, runID)
}

// execute drives one run's task graph from admission to finalization. It
// runs on its own goroutine for the lifetime of the run.
func (k *Kernel) execute(namespace, pipelineID string, runID int64, pipeline models.Pipeline) {
	exec := newExecution()
	key := k.execKey(namespace, pipelineID, runID)

	k.executionsMu.Lock()
	k.executions[key] = exec
	k.executionsMu.Unlock()

	defer func() {
		k.executionsMu.Lock()
		delete(k.executions, key)
		k.executionsMu.Unlock()
	}()

	k.transitionRunState(namespace, pipelineID, runID, models.RunStateRunning)

	run, err := k.db.GetRun(nil, namespace, pipelineID, runID)
	if err != nil {
		log.Error().Err(err).Str("namespace", namespace).Str("pipeline", pipelineID).
			Int64("run", runID).Msg("kernel: could not load run for execution")
		return
	}

	ctx := context.Background()

	taskRuns := syncmap.New[string, models.TaskRun]()
	k.runTaskGraph(ctx, namespace, pipelineID, runID, pipeline, run.Variables, &taskRuns, exec)
	k.finalizeRun(namespace, pipelineID, runID, pipeline, &taskRuns)
}

// runTaskGraph repeatedly computes the ready set of tasks (those whose
// dependencies have all reached a terminal state), launches or
// auto-cancels each one, and blocks for completion signals until every
// task has been launched or skipped and reached a terminal state.
func (k *Kernel) runTaskGraph(
	ctx context.Context,
	namespace, pipelineID string,
	runID int64,
	pipeline models.Pipeline,
	runVariables []models.Variable,
	taskRuns *syncmap.Syncmap[string, models.TaskRun],
	exec *execution,
) {
	remaining := map[string]models.Task{}
	for id, t := range pipeline.Tasks {
		remaining[id] = t
	}

	total := len(pipeline.Tasks)
	done := make(chan string, total*2+1)

	launchedOrSkipped := 0
	completed := 0

	for completed < total {
		decidable := decidableTasks(remaining, taskRuns)

		for _, task := range decidable {
			delete(remaining, task.ID)
			launchedOrSkipped++

			if ok, reason := satisfiesAllDeps(task, taskRuns); !ok {
				tr := models.NewTaskRun(namespace, pipelineID, runID, task)
				tr.SetFinished(nil, models.TaskRunStatusSkipped, &models.FailureInfo{
					Reason:      models.FailureReasonFailedPrecondition,
					Description: reason,
				})
				taskRuns.Set(task.ID, *tr)
				if err := k.db.InsertTaskRun(nil, tr); err != nil {
					log.Error().Err(err).Msg("kernel: could not persist skipped task-run")
				}
				done <- task.ID
				continue
			}

			tr := models.NewTaskRun(namespace, pipelineID, runID, task)
			taskRuns.Set(task.ID, *tr)
			if err := k.db.InsertTaskRun(nil, tr); err != nil {
				log.Error().Err(err).Msg("kernel: could not persist new task-run")
			}

			k.wg.Add(1)
			go func(t models.Task) {
				defer k.wg.Done()
				k.executeTask(ctx, namespace, pipelineID, runID, t, runVariables, taskRuns, exec)
				done <- t.ID
			}(task)
		}

		// Every task, skipped or launched, sends exactly one signal on
		// done once it is actually terminal. Waiting here for one signal
		// per loop — rather than stopping once launchedOrSkipped reaches
		// total — is what guarantees the last wave's goroutines are
		// awaited before the caller finalizes the run.
		<-done
		completed++
	}
}

// decidableTasks returns every remaining task whose dependencies have all
// reached TaskRunStateComplete, i.e. tasks ready to either run or be
// auto-skipped.
func decidableTasks(remaining map[string]models.Task, taskRuns *syncmap.Syncmap[string, models.TaskRun]) []models.Task {
	out := []models.Task{}
	for _, t := range remaining {
		ready := true
		for parent := range t.DependsOn {
			tr, ok := taskRuns.Get(parent)
			if !ok || tr.State != models.TaskRunStateComplete {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t)
		}
	}
	return out
}

// satisfiesAllDeps reports whether every one of a task's dependency
// predicates is satisfied by its parent's terminal status.
func satisfiesAllDeps(t models.Task, taskRuns *syncmap.Syncmap[string, models.TaskRun]) (bool, string) {
	for parent, req := range t.DependsOn {
		tr, _ := taskRuns.Get(parent)
		if !req.Satisfies(tr.Status) {
			return false, fmt.Sprintf("dependency %q finished %q, which does not satisfy required predicate %q", parent, tr.Status, req)
		}
	}
	return true, ""
}

// executeTask launches one task as a container, polls it to completion (or
// reacts to a cancellation request), and persists its terminal state.
func (k *Kernel) executeTask(
	ctx context.Context,
	namespace, pipelineID string,
	runID int64,
	task models.Task,
	runVariables []models.Variable,
	taskRuns *syncmap.Syncmap[string, models.TaskRun],
	exec *execution,
) {
	env := buildEnv(namespace, pipelineID, runID, task, runVariables, taskRuns)

	schedulerID := fmt.Sprintf("relay-%s-%s-%d-%s", namespace, pipelineID, runID, task.ID)

	req := scheduler.StartContainerRequest{
		ID:        schedulerID,
		ImageName: task.Image,
		EnvVars:   env,
		Exec:      task.Exec,
	}
	if task.RegistryAuth != nil {
		req.RegistryUser = task.RegistryAuth.User
		req.RegistryPass = task.RegistryAuth.Pass
	}

	startResp, err := k.engine.StartContainer(ctx, req)
	if err != nil {
		k.failTaskRun(namespace, pipelineID, runID, task.ID, taskRuns, schedulerFailureReason(err), err.Error())
		return
	}

	started := nowMillis()
	k.updateTaskRun(namespace, pipelineID, runID, task.ID, taskRuns, storage.UpdatableTaskRunFields{
		State:       models.Ptr(models.TaskRunStateRunning),
		SchedulerID: models.Ptr(startResp.SchedulerID),
		Started:     models.Ptr(started),
	}, func(tr *models.TaskRun) {
		tr.State = models.TaskRunStateRunning
		tr.SchedulerID = startResp.SchedulerID
		tr.Started = started
	})

	state, exitCode, err := k.pollUntilTerminal(ctx, exec, startResp.SchedulerID)
	if err != nil {
		k.failTaskRun(namespace, pipelineID, runID, task.ID, taskRuns, models.FailureReasonSchedulerError, err.Error())
		return
	}

	switch state {
	case models.ContainerStateSuccess:
		k.completeTaskRun(namespace, pipelineID, runID, task.ID, taskRuns, models.TaskRunStatusSuccessful, models.Ptr(int64(exitCode)), nil)
	case models.ContainerStateCancelled:
		_, _, reason := exec.snapshot()
		if reason == "" {
			reason = models.FailureReasonUserCancelled
		}
		k.completeTaskRun(namespace, pipelineID, runID, task.ID, taskRuns, models.TaskRunStatusCancelled, models.Ptr(int64(exitCode)),
			&models.FailureInfo{Reason: reason, Description: "task-run was cancelled"})
	default:
		k.completeTaskRun(namespace, pipelineID, runID, task.ID, taskRuns, models.TaskRunStatusFailed, models.Ptr(int64(exitCode)),
			&models.FailureInfo{Reason: models.FailureReasonAbnormalExit, Description: fmt.Sprintf("container exited with code %d", exitCode)})
	}
}

func schedulerFailureReason(err error) models.FailureReason {
	if errors.Is(err, scheduler.ErrNoSuchImage) {
		return models.FailureReasonSchedulerError
	}
	return models.FailureReasonSchedulerError
}

// pollUntilTerminal polls the scheduler for a container's state with
// exponential backoff, stopping the container if a cancellation has been
// requested in the meantime.
func (k *Kernel) pollUntilTerminal(ctx context.Context, exec *execution, schedulerID string) (models.ContainerState, int, error) {
	interval := k.config.PollIntervalMin
	stopped := false

	for {
		if cancelled, force, _ := exec.snapshot(); cancelled && !stopped {
			stopped = true
			timeout := k.config.StopTimeout
			if force {
				timeout = 0
			}
			if err := k.engine.StopContainer(ctx, scheduler.StopContainerRequest{
				SchedulerID: schedulerID,
				Timeout:     timeout,
			}); err != nil && !errors.Is(err, scheduler.ErrNoSuchContainer) {
				log.Error().Err(err).Str("scheduler_id", schedulerID).Msg("kernel: could not stop container")
			}
		}

		resp, err := k.engine.GetState(ctx, scheduler.GetStateRequest{SchedulerID: schedulerID})
		if err != nil {
			return models.ContainerStateUnknown, 0, err
		}

		if resp.State.IsTerminal() {
			return resp.State, resp.ExitCode, nil
		}

		time.Sleep(interval)
		interval *= 2
		if interval > k.config.PollIntervalMax {
			interval = k.config.PollIntervalMax
		}
	}
}

func (k *Kernel) failTaskRun(namespace, pipelineID string, runID int64, taskID string, taskRuns *syncmap.Syncmap[string, models.TaskRun], reason models.FailureReason, description string) {
	k.completeTaskRun(namespace, pipelineID, runID, taskID, taskRuns, models.TaskRunStatusFailed, nil,
		&models.FailureInfo{Reason: reason, Description: description})
}

func (k *Kernel) completeTaskRun(
	namespace, pipelineID string,
	runID int64,
	taskID string,
	taskRuns *syncmap.Syncmap[string, models.TaskRun],
	status models.TaskRunStatus,
	exitCode *int64,
	failure *models.FailureInfo,
) {
	ended := nowMillis()

	fields := storage.UpdatableTaskRunFields{
		State:    models.Ptr(models.TaskRunStateComplete),
		Status:   models.Ptr(status),
		ExitCode: exitCode,
		Ended:    models.Ptr(ended),
	}
	if failure != nil {
		fields.FailureReason = models.Ptr(failure.Reason)
		fields.FailureDescription = models.Ptr(failure.Description)
	}

	k.updateTaskRun(namespace, pipelineID, runID, taskID, taskRuns, fields, func(tr *models.TaskRun) {
		tr.SetFinished(exitCode, status, failure)
	})
}

func (k *Kernel) updateTaskRun(
	namespace, pipelineID string,
	runID int64,
	taskID string,
	taskRuns *syncmap.Syncmap[string, models.TaskRun],
	fields storage.UpdatableTaskRunFields,
	mutate func(tr *models.TaskRun),
) {
	_ = taskRuns.Swap(taskID, func(tr models.TaskRun, exists bool) (models.TaskRun, error) {
		mutate(&tr)
		return tr, nil
	})

	if err := k.db.UpdateTaskRun(nil, namespace, pipelineID, runID, taskID, fields); err != nil {
		log.Error().Err(err).Str("namespace", namespace).Str("pipeline", pipelineID).
			Int64("run", runID).Str("task", taskID).Msg("kernel: could not persist task-run update")
	}
}

// buildEnv assembles a task's container environment: pipeline/run-level
// variables merged under system-injected identity variables, which always
// win per spec's variable precedence (system-injected > per-task > default).
// A parent that was auto-skipped still satisfies an Any dependency, so its
// outcome is injected too — otherwise the downstream task has no way to tell
// its skipped parent apart from one that actually ran.
func buildEnv(namespace, pipelineID string, runID int64, task models.Task, runVariables []models.Variable, taskRuns *syncmap.Syncmap[string, models.TaskRun]) map[string]string {
	system := []models.Variable{
		{Key: "RELAY_NAMESPACE", Value: namespace, Owner: models.VariableOwnerSystem},
		{Key: "RELAY_PIPELINE", Value: pipelineID, Owner: models.VariableOwnerSystem},
		{Key: "RELAY_RUN", Value: fmt.Sprintf("%d", runID), Owner: models.VariableOwnerSystem},
		{Key: "RELAY_TASK", Value: task.ID, Owner: models.VariableOwnerSystem},
		{Key: "RELAY_TASK_IMAGE", Value: task.Image, Owner: models.VariableOwnerSystem},
	}

	for parent := range task.DependsOn {
		tr, ok := taskRuns.Get(parent)
		if !ok || tr.Status != models.TaskRunStatusSkipped {
			continue
		}
		description := ""
		if tr.FailureInfo != nil {
			description = tr.FailureInfo.Description
		}
		system = append(system, models.Variable{
			Key:   fmt.Sprintf("RELAY_DEPENDENCY_%s_OUTCOME", strings.ToUpper(parent)),
			Value: fmt.Sprintf("skipped: %s", description),
			Owner: models.VariableOwnerSystem,
		})
	}

	merged := models.MergeVariables(runVariables, task.Variables, system)

	env := make(map[string]string, len(merged))
	for _, v := range merged {
		env[v.Key] = v.Value
	}
	return env
}

// finalizeRun computes a run's terminal status from its task-runs and
// persists it, per spec §4.3.
func (k *Kernel) finalizeRun(namespace, pipelineID string, runID int64, pipeline models.Pipeline, taskRuns *syncmap.Syncmap[string, models.TaskRun]) {
	status := models.RunStatusSuccessful
	var failure *models.FailureInfo
	ids := make([]string, 0, taskRuns.Len())

	anyCancelled := false
	anyFailed := false
	var failureDescription string
	var cancelReason models.FailureReason

	for _, tr := range taskRuns.Values() {
		ids = append(ids, tr.ID)
		switch tr.Status {
		case models.TaskRunStatusCancelled:
			anyCancelled = true
			if tr.FailureInfo != nil {
				cancelReason = tr.FailureInfo.Reason
			}
		case models.TaskRunStatusFailed:
			anyFailed = true
			if tr.FailureInfo != nil {
				failureDescription = tr.FailureInfo.Description
			}
		}
	}

	switch {
	case anyCancelled:
		status = models.RunStatusCancelled
		if cancelReason == "" {
			cancelReason = models.FailureReasonUserCancelled
		}
		failure = &models.FailureInfo{Reason: cancelReason, Description: "run was cancelled"}
	case anyFailed:
		status = models.RunStatusFailed
		failure = &models.FailureInfo{Reason: models.FailureReasonAbnormalExit, Description: failureDescription}
	}

	ended := nowMillis()

	fields := storage.UpdatableRunFields{
		Ended:    models.Ptr(ended),
		State:    models.Ptr(models.RunStateComplete),
		Status:   models.Ptr(status),
		TaskRuns: models.Ptr(ids),
	}
	if failure != nil {
		fields.FailureReason = models.Ptr(failure.Reason)
		fields.FailureDescription = models.Ptr(failure.Description)
	}

	if err := k.db.UpdateRun(nil, namespace, pipelineID, runID, fields); err != nil {
		log.Error().Err(err).Str("namespace", namespace).Str("pipeline", pipelineID).
			Int64("run", runID).Msg("kernel: could not persist run finalization")
		return
	}

	if err := k.db.UpdatePipeline(namespace, pipelineID, storage.UpdatablePipelineFields{
		LastRunID:   models.Ptr(runID),
		LastRunTime: models.Ptr(ended),
	}); err != nil {
		log.Error().Err(err).Str("namespace", namespace).Str("pipeline", pipelineID).
			Msg("kernel: could not update pipeline's last-run bookkeeping")
	}
}

// Cancel stops every live task-run of a run this kernel is executing.
// Graceful cancellation (force=false) gives each container the kernel's
// Config.StopTimeout as grace period; force cancels immediately. A run
// already Complete is left untouched and nil is returned. A run that is not
// Complete and has no execution in this kernel (for example one still
// waiting in its pipeline's parallelism queue) is not cancelled, and
// ErrRunNotComplete is returned.
func (k *Kernel) Cancel(namespace, pipelineID string, runID int64, force bool, originator models.FailureReason) error {
	key := k.execKey(namespace, pipelineID, runID)

	k.executionsMu.Lock()
	exec, ok := k.executions[key]
	k.executionsMu.Unlock()

	if !ok {
		run, err := k.db.GetRun(nil, namespace, pipelineID, runID)
		if err != nil {
			return err
		}
		if run.IsComplete() {
			return nil
		}
		return ErrRunNotComplete
	}

	exec.requestCancel(force, originator)
	return nil
}
