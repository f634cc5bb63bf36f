package services

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
)

type ModelVersionService struct {
	store        ports.TrackingStore
	pollInterval time.Duration
}

func NewModelVersionService(store ports.TrackingStore, pollInterval time.Duration) *ModelVersionService {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &ModelVersionService{store: store, pollInterval: pollInterval}
}

func (s *ModelVersionService) Create(ctx context.Context, name, source, runID string) (*domain.ModelVersion, error) {
	if name == "" {
		return nil, domain.ErrInvalidModelName
	}
	return s.store.CreateModelVersion(ctx, name, source, runID)
}

// WaitUntilReady polls the registry until the version leaves
// PENDING_REGISTRATION or timeout elapses.
func (s *ModelVersionService) WaitUntilReady(ctx context.Context, mv *domain.ModelVersion, timeout time.Duration) (*domain.ModelVersion, error) {
	if mv.Status == domain.VersionStatusReady || mv.Status == "" {
		return mv, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	cur := mv
	for {
		switch cur.Status {
		case domain.VersionStatusReady:
			return cur, nil
		case domain.VersionStatusFailed:
			return nil, fmt.Errorf("%w: %s version %d: %s", domain.ErrRegistrationFailed, cur.Name, cur.Version, cur.StatusMessage)
		}

		log.WithFields(log.Fields{
			"model":   cur.Name,
			"version": cur.Version,
			"status":  cur.Status,
		}).Debug("waiting for model version to become READY")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s version %d", domain.ErrRegistrationTimeout, mv.Name, mv.Version)
		case <-ticker.C:
		}

		next, err := s.store.GetModelVersion(ctx, mv.Name, mv.Version)
		if err != nil {
			return nil, fmt.Errorf("get model version: %w", err)
		}
		cur = next
	}
}

// LatestUnstaged returns the first entry of the latest-versions listing for
// stage None.
func (s *ModelVersionService) LatestUnstaged(ctx context.Context, name string) (*domain.ModelVersion, error) {
	versions, err := s.Latest(ctx, name, []domain.Stage{domain.StageNone})
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoUnstagedVersion, name)
	}
	return versions[0], nil
}

func (s *ModelVersionService) Latest(ctx context.Context, name string, stages []domain.Stage) ([]*domain.ModelVersion, error) {
	if name == "" {
		return nil, domain.ErrInvalidModelName
	}
	versions, err := s.store.GetLatestVersions(ctx, name, stages)
	if err != nil {
		return nil, fmt.Errorf("get latest versions: %w", err)
	}
	return versions, nil
}

func (s *ModelVersionService) Transition(ctx context.Context, name string, version int, stage domain.Stage, archiveExisting bool) (*domain.ModelVersion, error) {
	if name == "" {
		return nil, domain.ErrInvalidModelName
	}
	if version <= 0 {
		return nil, domain.ErrInvalidVersion
	}
	if _, err := domain.ParseStage(string(stage)); err != nil {
		return nil, fmt.Errorf("%w: %q", err, stage)
	}

	mv, err := s.store.TransitionModelVersionStage(ctx, name, version, stage, archiveExisting)
	if err != nil {
		return nil, fmt.Errorf("transition model version stage: %w", err)
	}

	log.WithFields(log.Fields{
		"model":   name,
		"version": version,
		"stage":   mv.Stage,
	}).Info("model version stage transitioned")
	return mv, nil
}
