package api

import (
	"errors"

	"github.com/relayctl/relay/internal/dag"
	"github.com/relayctl/relay/internal/kernel"
	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/storage"
)

func (s *Service) ListPipelines(namespace string, offset, limit int) ([]models.Pipeline, error) {
	if err := validateID("namespace", namespace); err != nil {
		return nil, err
	}

	pipelines, err := s.db.ListPipelines(nil, namespace, offset, limit)
	if err != nil {
		return nil, toStatus(err, "failed to retrieve pipelines from database")
	}
	return pipelines, nil
}

func (s *Service) GetPipeline(namespace, id string) (models.Pipeline, error) {
	if err := validateID("namespace", namespace); err != nil {
		return models.Pipeline{}, err
	}
	if err := validateID("pipeline", id); err != nil {
		return models.Pipeline{}, err
	}

	pipeline, err := s.db.GetPipeline(nil, namespace, id)
	if err != nil {
		return models.Pipeline{}, toStatus(err, "failed to retrieve pipeline from database")
	}
	return pipeline, nil
}

// validateTaskGraph rejects a pipeline whose depends_on wiring contains a
// cycle, per spec §4.3: "Cycles in depends_on must be rejected at pipeline
// create/update; this is a FailedPrecondition at admission."
func validateTaskGraph(tasks map[string]models.Task) error {
	dependsOn := make(map[string][]string, len(tasks))
	for id, task := range tasks {
		parents := make([]string, 0, len(task.DependsOn))
		for parent := range task.DependsOn {
			parents = append(parents, parent)
		}
		dependsOn[id] = parents
	}

	graph, err := dag.FromDependsOn(dependsOn)
	if errors.Is(err, dag.ErrEntityNotFound) {
		return invalidArgument(err.Error())
	}
	if err != nil {
		return toStatus(kernel.ErrDependencyCycle, err.Error())
	}

	if _, err := graph.TopologicalSort(); err != nil {
		return toStatus(kernel.ErrDependencyCycle, err.Error())
	}

	return nil
}

func (s *Service) CreatePipeline(namespace, id, name, description string, parallelism int64, tasks map[string]models.Task) (models.Pipeline, error) {
	if err := validateID("namespace", namespace); err != nil {
		return models.Pipeline{}, err
	}
	if err := validateID("pipeline", id); err != nil {
		return models.Pipeline{}, err
	}
	if err := validateTaskGraph(tasks); err != nil {
		return models.Pipeline{}, err
	}

	pipeline := models.NewPipeline(namespace, id, name, description, parallelism)
	pipeline.Tasks = tasks

	if err := s.db.InsertPipeline(pipeline); err != nil {
		return models.Pipeline{}, toStatus(err, "could not insert pipeline")
	}

	return *pipeline, nil
}

// UpdatePipeline rejects the update outright unless every one of the
// pipeline's runs is Complete and the pipeline itself is Disabled, per the
// invariant that a pipeline's task graph must not change out from under an
// execution in progress or be disabled mid-flight by an update racing a
// trigger/manual start.
func (s *Service) UpdatePipeline(namespace, id string, tasks *map[string]models.Task, parallelism *int64) (models.Pipeline, error) {
	if err := validateID("namespace", namespace); err != nil {
		return models.Pipeline{}, err
	}
	if err := validateID("pipeline", id); err != nil {
		return models.Pipeline{}, err
	}

	if tasks != nil {
		if err := validateTaskGraph(*tasks); err != nil {
			return models.Pipeline{}, err
		}
	}

	pipeline, err := s.db.GetPipeline(nil, namespace, id)
	if err != nil {
		return models.Pipeline{}, toStatus(err, "could not fetch pipeline")
	}
	if pipeline.State != models.PipelineStateDisabled {
		return models.Pipeline{}, toStatus(kernel.ErrRunNotComplete, "pipeline must be disabled before it can be updated")
	}

	pending, err := s.db.CountRunsByState(nil, namespace, id, models.RunStatePending)
	if err != nil {
		return models.Pipeline{}, toStatus(err, "could not check pipeline's in-flight runs")
	}
	running, err := s.db.CountRunsByState(nil, namespace, id, models.RunStateRunning)
	if err != nil {
		return models.Pipeline{}, toStatus(err, "could not check pipeline's in-flight runs")
	}
	if pending+running > 0 {
		return models.Pipeline{}, toStatus(kernel.ErrRunNotComplete, "cannot update a pipeline until all of its runs are complete")
	}

	fields := storage.UpdatablePipelineFields{
		Tasks:       tasks,
		Parallelism: parallelism,
		Modified:    modifiedNow(),
	}

	if err := s.db.UpdatePipeline(namespace, id, fields); err != nil {
		return models.Pipeline{}, toStatus(err, "could not update pipeline")
	}

	return s.GetPipeline(namespace, id)
}

// EnablePipeline flips a pipeline back to Active so it accepts new runs and
// trigger events again.
func (s *Service) EnablePipeline(namespace, id string) (models.Pipeline, error) {
	return s.setPipelineState(namespace, id, models.PipelineStateActive)
}

// DisablePipeline flips a pipeline to Disabled: it stops accepting new runs
// and discards trigger events (spec invariant 1), and is a precondition for
// UpdatePipeline.
func (s *Service) DisablePipeline(namespace, id string) (models.Pipeline, error) {
	return s.setPipelineState(namespace, id, models.PipelineStateDisabled)
}

func (s *Service) setPipelineState(namespace, id string, state models.PipelineState) (models.Pipeline, error) {
	if err := validateID("namespace", namespace); err != nil {
		return models.Pipeline{}, err
	}
	if err := validateID("pipeline", id); err != nil {
		return models.Pipeline{}, err
	}

	fields := storage.UpdatablePipelineFields{
		State:    models.Ptr(state),
		Modified: modifiedNow(),
	}

	if err := s.db.UpdatePipeline(namespace, id, fields); err != nil {
		return models.Pipeline{}, toStatus(err, "could not update pipeline state")
	}

	return s.GetPipeline(namespace, id)
}

func (s *Service) DeletePipeline(namespace, id string) error {
	if err := validateID("namespace", namespace); err != nil {
		return err
	}
	if err := validateID("pipeline", id); err != nil {
		return err
	}

	if err := s.db.DeletePipeline(namespace, id); err != nil {
		return toStatus(err, "could not delete pipeline")
	}
	return nil
}
