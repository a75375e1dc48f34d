package api

import (
	"context"

	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/storage"
)

func (s *Service) ListRuns(namespace, pipeline string, offset, limit int) ([]models.Run, error) {
	if err := validateID("namespace", namespace); err != nil {
		return nil, err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return nil, err
	}

	runs, err := s.db.ListRuns(nil, namespace, pipeline, offset, limit)
	if err != nil {
		return nil, toStatus(err, "failed to retrieve runs from database")
	}
	return runs, nil
}

func (s *Service) GetRun(namespace, pipeline string, id int64) (models.Run, error) {
	if err := validateID("namespace", namespace); err != nil {
		return models.Run{}, err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return models.Run{}, err
	}

	run, err := s.db.GetRun(nil, namespace, pipeline, id)
	if err != nil {
		return models.Run{}, toStatus(err, "failed to retrieve run from database")
	}
	return run, nil
}

// StartRun admits a new run of pipeline, merging overrides on top of the
// pipeline's default variables (overrides win, per spec §4.5's precedence
// rule). The kernel decides immediately whether it runs now or queues.
func (s *Service) StartRun(ctx context.Context, namespace, pipeline string, trigger models.TriggerInfo, overrides []models.Variable) (int64, error) {
	if err := validateID("namespace", namespace); err != nil {
		return 0, err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return 0, err
	}

	id, err := s.kernel.StartRun(ctx, namespace, pipeline, trigger, overrides)
	if err != nil {
		return 0, toStatus(err, "could not start run")
	}
	return id, nil
}

// RetryRun clones the trigger info and variables of a completed run into a
// brand new run. The kernel never retries automatically; this is the only
// path that re-executes a run's task graph.
func (s *Service) RetryRun(ctx context.Context, namespace, pipeline string, id int64) (int64, error) {
	if err := validateID("namespace", namespace); err != nil {
		return 0, err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return 0, err
	}

	newID, err := s.kernel.RetryRun(ctx, namespace, pipeline, id)
	if err != nil {
		return 0, toStatus(err, "could not retry run")
	}
	return newID, nil
}

// CancelRun stops an in-flight run. A graceful cancellation (force=false)
// gives running containers the kernel's configured stop timeout to exit on
// their own before they're force-killed; force skips straight to that.
func (s *Service) CancelRun(namespace, pipeline string, id int64, force bool) error {
	if err := validateID("namespace", namespace); err != nil {
		return err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return err
	}

	reason := models.FailureReasonUserCancelled
	if err := s.kernel.Cancel(namespace, pipeline, id, force, reason); err != nil {
		return toStatus(err, "could not cancel run")
	}
	return nil
}

// BatchGetRuns fetches several runs of the same pipeline by id in one call,
// skipping ids that no longer exist rather than failing the whole batch on
// one stale reference.
func (s *Service) BatchGetRuns(namespace, pipeline string, ids []int64) ([]models.Run, error) {
	if err := validateID("namespace", namespace); err != nil {
		return nil, err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return nil, err
	}

	runs := make([]models.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.db.GetRun(nil, namespace, pipeline, id)
		if err != nil {
			if err == storage.ErrEntityNotFound {
				continue
			}
			return nil, toStatus(err, "failed to retrieve run from database")
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// CancelAllRuns asks the kernel to cancel every run of pipeline that hasn't
// yet reached Complete. It collects and returns the first cancellation
// failure but keeps attempting the rest, so one stuck run doesn't block the
// others from being signalled. Runs still waiting in the parallelism queue
// are not cancelled; kernel.Cancel reports them with ErrRunNotComplete.
func (s *Service) CancelAllRuns(namespace, pipeline string, force bool) error {
	if err := validateID("namespace", namespace); err != nil {
		return err
	}
	if err := validateID("pipeline", pipeline); err != nil {
		return err
	}

	runs, err := s.db.ListRuns(nil, namespace, pipeline, 0, 0)
	if err != nil {
		return toStatus(err, "failed to retrieve runs from database")
	}

	reason := models.FailureReasonUserCancelled
	var firstErr error
	for _, run := range runs {
		if run.IsComplete() {
			continue
		}
		if err := s.kernel.Cancel(namespace, pipeline, run.ID, force, reason); err != nil && firstErr == nil {
			firstErr = toStatus(err, "could not cancel run")
		}
	}
	return firstErr
}
