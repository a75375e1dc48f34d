package api

import (
	"context"
	"io"

	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/scheduler"
)

func (s *Service) ListTaskRuns(namespace, pipeline string, run int64) ([]models.TaskRun, error) {
	if err := validateID("namespace", namespace); err != nil {
		return nil, err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return nil, err
	}

	taskRuns, err := s.db.ListTaskRuns(nil, namespace, pipeline, run)
	if err != nil {
		return nil, toStatus(err, "failed to retrieve task runs from database")
	}
	return taskRuns, nil
}

func (s *Service) GetTaskRun(namespace, pipeline string, run int64, id string) (models.TaskRun, error) {
	if err := validateID("namespace", namespace); err != nil {
		return models.TaskRun{}, err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return models.TaskRun{}, err
	}

	taskRun, err := s.db.GetTaskRun(nil, namespace, pipeline, run, id)
	if err != nil {
		return models.TaskRun{}, toStatus(err, "failed to retrieve task run from database")
	}
	return taskRun, nil
}

// GetTaskRunLogs streams a task-run's container logs straight from the
// scheduler; logs are never persisted to the database (spec §4.6:
// "log retrieval is a pass-through to the scheduler, not a stored
// artifact").
func (s *Service) GetTaskRunLogs(ctx context.Context, namespace, pipeline string, run int64, id string) (io.Reader, error) {
	if err := validateID("namespace", namespace); err != nil {
		return nil, err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return nil, err
	}

	taskRun, err := s.db.GetTaskRun(nil, namespace, pipeline, run, id)
	if err != nil {
		return nil, toStatus(err, "failed to retrieve task run from database")
	}

	if taskRun.SchedulerID == "" {
		return nil, invalidArgument("task run has not been scheduled yet")
	}

	logs, err := s.engine.GetLogs(ctx, scheduler.GetLogsRequest{SchedulerID: taskRun.SchedulerID})
	if err != nil {
		return nil, toStatus(err, "could not retrieve task run logs")
	}
	return logs, nil
}
