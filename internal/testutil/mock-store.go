package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
)

// MockTrackingStore is a mock of TrackingStore.
type MockTrackingStore struct {
	mock.Mock
}

func (m *MockTrackingStore) GetExperimentByName(ctx context.Context, name string) (*domain.Experiment, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Experiment), args.Error(1)
}

func (m *MockTrackingStore) CreateExperiment(ctx context.Context, name string) (*domain.Experiment, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Experiment), args.Error(1)
}

func (m *MockTrackingStore) CreateRun(ctx context.Context, in ports.CreateRunInput) (*domain.Run, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

func (m *MockTrackingStore) UpdateRun(ctx context.Context, runID string, status domain.RunStatus, endTime time.Time) error {
	args := m.Called(ctx, runID, status, endTime)
	return args.Error(0)
}

func (m *MockTrackingStore) SetTag(ctx context.Context, runID, key, value string) error {
	args := m.Called(ctx, runID, key, value)
	return args.Error(0)
}

func (m *MockTrackingStore) LogArtifacts(ctx context.Context, run *domain.Run, localDir, artifactPath string) error {
	args := m.Called(ctx, run, localDir, artifactPath)
	return args.Error(0)
}

func (m *MockTrackingStore) CreateRegisteredModel(ctx context.Context, name string) (*domain.RegisteredModel, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RegisteredModel), args.Error(1)
}

func (m *MockTrackingStore) CreateModelVersion(ctx context.Context, name, source, runID string) (*domain.ModelVersion, error) {
	args := m.Called(ctx, name, source, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ModelVersion), args.Error(1)
}

func (m *MockTrackingStore) GetModelVersion(ctx context.Context, name string, version int) (*domain.ModelVersion, error) {
	args := m.Called(ctx, name, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ModelVersion), args.Error(1)
}

func (m *MockTrackingStore) GetLatestVersions(ctx context.Context, name string, stages []domain.Stage) ([]*domain.ModelVersion, error) {
	args := m.Called(ctx, name, stages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ModelVersion), args.Error(1)
}

func (m *MockTrackingStore) TransitionModelVersionStage(ctx context.Context, name string, version int, stage domain.Stage, archiveExisting bool) (*domain.ModelVersion, error) {
	args := m.Called(ctx, name, version, stage, archiveExisting)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ModelVersion), args.Error(1)
}

// MockArtifactLoader is a mock of ArtifactLoader.
type MockArtifactLoader struct {
	mock.Mock
}

func (m *MockArtifactLoader) LoadModel(path string) (ports.Predictor, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Predictor), args.Error(1)
}

func (m *MockArtifactLoader) LoadVectorizer(path string) (ports.Vectorizer, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Vectorizer), args.Error(1)
}

// StubPredictor returns a fixed prediction, or Err when set.
type StubPredictor struct {
	Output domain.Prediction
	Err    error
	Seen   []domain.Frame
}

func (p *StubPredictor) Predict(input domain.Frame) (domain.Prediction, error) {
	p.Seen = append(p.Seen, input)
	return p.Output, p.Err
}

func (p *StubPredictor) Flavor() string { return "lightgbm" }

// StubVectorizer returns Names as its feature names.
type StubVectorizer struct {
	Names []string
}

func (v StubVectorizer) FeatureNames() []string { return v.Names }
