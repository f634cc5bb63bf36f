package ports

import (
	"context"
	"time"

	"model-registrar/internal/core/domain"
)

type CreateRunInput struct {
	ExperimentID string
	RunName      string
	StartTime    time.Time
	Tags         map[string]string
}

// TrackingStore is the subset of a tracking and model registry backend the
// registrar drives. Implementations exist for the REST API, a local
// directory and a SQL database.
type TrackingStore interface {
	// Experiments
	GetExperimentByName(ctx context.Context, name string) (*domain.Experiment, error)
	CreateExperiment(ctx context.Context, name string) (*domain.Experiment, error)

	// Runs
	CreateRun(ctx context.Context, in CreateRunInput) (*domain.Run, error)
	UpdateRun(ctx context.Context, runID string, status domain.RunStatus, endTime time.Time) error
	SetTag(ctx context.Context, runID, key, value string) error
	// LogArtifacts uploads every file under localDir to artifactPath inside the run's artifact root.
	LogArtifacts(ctx context.Context, run *domain.Run, localDir, artifactPath string) error

	// Registry
	CreateRegisteredModel(ctx context.Context, name string) (*domain.RegisteredModel, error)
	CreateModelVersion(ctx context.Context, name, source, runID string) (*domain.ModelVersion, error)
	GetModelVersion(ctx context.Context, name string, version int) (*domain.ModelVersion, error)
	GetLatestVersions(ctx context.Context, name string, stages []domain.Stage) ([]*domain.ModelVersion, error)
	TransitionModelVersionStage(ctx context.Context, name string, version int, stage domain.Stage, archiveExisting bool) (*domain.ModelVersion, error)
}
