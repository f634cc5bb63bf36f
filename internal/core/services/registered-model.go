package services

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
)

type RegisteredModelService struct {
	store ports.TrackingStore
}

func NewRegisteredModelService(store ports.TrackingStore) *RegisteredModelService {
	return &RegisteredModelService{store: store}
}

// Ensure creates the registered model, treating an existing one as success.
func (s *RegisteredModelService) Ensure(ctx context.Context, name string) error {
	if name == "" {
		return domain.ErrInvalidModelName
	}

	_, err := s.store.CreateRegisteredModel(ctx, name)
	if errors.Is(err, domain.ErrModelNameConflict) {
		log.WithField("model", name).Debug("registered model already exists, creating a new version")
		return nil
	}
	if err != nil {
		return err
	}

	log.WithField("model", name).Info("created registered model")
	return nil
}
