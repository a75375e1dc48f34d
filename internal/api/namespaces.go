package api

import (
	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/storage"
)

func (s *Service) ListNamespaces(offset, limit int) ([]models.Namespace, error) {
	namespaces, err := s.db.ListNamespaces(nil, offset, limit)
	if err != nil {
		return nil, toStatus(err, "failed to retrieve namespaces from database")
	}
	return namespaces, nil
}

func (s *Service) GetNamespace(id string) (models.Namespace, error) {
	if err := validateID("namespace", id); err != nil {
		return models.Namespace{}, err
	}

	namespace, err := s.db.GetNamespace(nil, id)
	if err != nil {
		return models.Namespace{}, toStatus(err, "failed to retrieve namespace from database")
	}
	return namespace, nil
}

func (s *Service) CreateNamespace(id, name, description string) (models.Namespace, error) {
	if err := validateID("namespace", id); err != nil {
		return models.Namespace{}, err
	}
	if name == "" {
		return models.Namespace{}, invalidArgument("name required")
	}

	namespace := models.NewNamespace(id, name, description)

	if err := s.db.InsertNamespace(nil, namespace); err != nil {
		return models.Namespace{}, toStatus(err, "could not insert namespace")
	}

	return *namespace, nil
}

// UpdateNamespace only ever advances Modified; Created is never touched.
// The teacher's namespace update path has a latent bug where a careless
// caller can zero out Created by re-sending the whole row on update — this
// signature makes that impossible since there is no way to pass Created in.
func (s *Service) UpdateNamespace(id string, name, description *string) (models.Namespace, error) {
	if err := validateID("namespace", id); err != nil {
		return models.Namespace{}, err
	}

	fields := storage.UpdatableNamespaceFields{
		Name:        name,
		Description: description,
		Modified:    modifiedNow(),
	}

	if err := s.db.UpdateNamespace(nil, id, fields); err != nil {
		return models.Namespace{}, toStatus(err, "could not update namespace")
	}

	return s.GetNamespace(id)
}

func (s *Service) DeleteNamespace(id string) error {
	if err := validateID("namespace", id); err != nil {
		return err
	}

	if err := s.db.DeleteNamespace(nil, id); err != nil {
		return toStatus(err, "could not delete namespace")
	}
	return nil
}
