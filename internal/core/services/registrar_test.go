package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"model-registrar/internal/adapters/secondary/artifacts"
	"model-registrar/internal/adapters/secondary/filestore"
	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
	"model-registrar/internal/testutil"
)

func newMockRegistrar(t *testing.T) (*RegistrarService, *testutil.MockTrackingStore, *testutil.MockArtifactLoader, *bytes.Buffer) {
	t.Helper()
	store := new(testutil.MockTrackingStore)
	loader := new(testutil.MockArtifactLoader)
	out := new(bytes.Buffer)
	svc := NewRegistrarService(store, loader, RegistrarConfig{
		ReadyTimeout: time.Second,
		PollInterval: time.Millisecond,
		Stdout:       out,
	})
	return svc, store, loader, out
}

func expectRun(store *testutil.MockTrackingStore, status domain.RunStatus) *domain.Run {
	run := &domain.Run{ID: "run1", ExperimentID: "0", ArtifactURI: "file:///tmp/mlruns/0/run1/artifacts"}
	store.On("GetExperimentByName", mock.Anything, domain.DefaultExperimentName).Return(&domain.Experiment{ID: "0", Name: domain.DefaultExperimentName}, nil)
	store.On("CreateRun", mock.Anything, mock.AnythingOfType("ports.CreateRunInput")).Return(run, nil)
	store.On("UpdateRun", mock.Anything, "run1", status, mock.AnythingOfType("time.Time")).Return(nil)
	return run
}

func TestRegistrar_MissingModelFile(t *testing.T) {
	svc, store, loader, out := newMockRegistrar(t)
	expectRun(store, domain.RunStatusFailed)
	loader.On("LoadModel", "missing.json").Return(nil, fmt.Errorf("%w: read model missing.json: no such file", domain.ErrArtifactLoad))

	_, err := svc.Register(context.Background(), RegisterRequest{
		ModelName:      "clf",
		ModelPath:      "missing.json",
		VectorizerPath: "vec.json",
	})

	assert.ErrorIs(t, err, domain.ErrArtifactLoad)
	assert.Empty(t, out.String())
	store.AssertCalled(t, "UpdateRun", mock.Anything, "run1", domain.RunStatusFailed, mock.AnythingOfType("time.Time"))
	store.AssertNotCalled(t, "CreateModelVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "TransitionModelVersionStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	loader.AssertNotCalled(t, "LoadVectorizer", mock.Anything)
}

func TestRegistrar_PredictionFails(t *testing.T) {
	svc, store, loader, _ := newMockRegistrar(t)
	expectRun(store, domain.RunStatusFailed)

	predictor := &testutil.StubPredictor{Err: domain.ErrFeatureMismatch}
	loader.On("LoadModel", "m.json").Return(predictor, nil)
	loader.On("LoadVectorizer", "v.json").Return(testutil.StubVectorizer{Names: []string{"a"}}, nil)

	_, err := svc.Register(context.Background(), RegisterRequest{ModelName: "clf", ModelPath: "m.json", VectorizerPath: "v.json"})

	assert.ErrorIs(t, err, domain.ErrPrediction)
	assert.ErrorIs(t, err, domain.ErrFeatureMismatch)
	require.Len(t, predictor.Seen, 1)
	assert.Equal(t, []string{"a"}, predictor.Seen[0].Columns)
	store.AssertNotCalled(t, "LogArtifacts", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRegistrar_EmptyModelName(t *testing.T) {
	svc, store, _, _ := newMockRegistrar(t)

	_, err := svc.Register(context.Background(), RegisterRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidModelName)
	store.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
}

func TestRegistrar_CreatesMissingExperiment(t *testing.T) {
	store := new(testutil.MockTrackingStore)
	loader := new(testutil.MockArtifactLoader)
	svc := NewRegistrarService(store, loader, RegistrarConfig{ExperimentName: "sentiment", Stdout: new(bytes.Buffer)})

	store.On("GetExperimentByName", mock.Anything, "sentiment").Return(nil, domain.ErrExperimentNotFound)
	store.On("CreateExperiment", mock.Anything, "sentiment").Return(&domain.Experiment{ID: "3", Name: "sentiment"}, nil)
	store.On("CreateRun", mock.Anything, mock.MatchedBy(func(in ports.CreateRunInput) bool {
		return in.ExperimentID == "3"
	})).Return(&domain.Run{ID: "r"}, nil)
	store.On("UpdateRun", mock.Anything, "r", domain.RunStatusFailed, mock.Anything).Return(nil)
	loader.On("LoadModel", "m").Return(nil, domain.ErrArtifactLoad)

	_, err := svc.Register(context.Background(), RegisterRequest{ModelName: "clf", ModelPath: "m"})
	assert.ErrorIs(t, err, domain.ErrArtifactLoad)
	store.AssertExpectations(t)
}

func TestRegistrar_PromotesLatestUnstagedVersion(t *testing.T) {
	svc, store, loader, out := newMockRegistrar(t)
	run := expectRun(store, domain.RunStatusFinished)
	modelPath := testutil.WriteModel(t, t.TempDir())

	predictor := &testutil.StubPredictor{Output: domain.Prediction{Values: []float64{0}, DType: "int64"}}
	loader.On("LoadModel", modelPath).Return(predictor, nil)
	loader.On("LoadVectorizer", "v.json").Return(testutil.StubVectorizer{Names: testutil.SentimentFeatures}, nil)

	store.On("LogArtifacts", mock.Anything, run, mock.AnythingOfType("string"), "lgbm_model").Return(nil)
	store.On("SetTag", mock.Anything, "run1", domain.TagLogModelHistory, mock.AnythingOfType("string")).Return(nil)
	store.On("CreateRegisteredModel", mock.Anything, "clf").Return(nil, domain.ErrModelNameConflict)
	store.On("CreateModelVersion", mock.Anything, "clf", run.ArtifactURI+"/lgbm_model", "run1").
		Return(&domain.ModelVersion{Name: "clf", Version: 4, Stage: domain.StageNone, Status: domain.VersionStatusReady}, nil)
	// another registration landed between create and lookup
	store.On("GetLatestVersions", mock.Anything, "clf", []domain.Stage{domain.StageNone}).
		Return([]*domain.ModelVersion{{Name: "clf", Version: 5, Stage: domain.StageNone}}, nil)
	store.On("TransitionModelVersionStage", mock.Anything, "clf", 5, domain.StageStaging, false).
		Return(&domain.ModelVersion{Name: "clf", Version: 5, Stage: domain.StageStaging}, nil)

	res, err := svc.Register(context.Background(), RegisterRequest{ModelName: "clf", ModelPath: modelPath, VectorizerPath: "v.json"})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Version.Version)
	assert.Equal(t, "Model clf version 5 registered and transitioned to Staging.\n", out.String())
	store.AssertExpectations(t)
}

// ============================================================================
// End to end on the local file store
// ============================================================================

func TestRegistrar_FileStoreEndToEnd(t *testing.T) {
	dir := t.TempDir()
	store, err := filestore.New(filepath.Join(dir, "mlruns"))
	require.NoError(t, err)

	modelPath := testutil.WriteModel(t, dir)
	vecPath := testutil.WriteVectorizer(t, dir, testutil.SentimentFeatures)

	out := new(bytes.Buffer)
	svc := NewRegistrarService(store, artifacts.NewFileLoader(), RegistrarConfig{Stdout: out})
	req := RegisterRequest{ModelName: "yt_chrome_plugin_model", ModelPath: modelPath, VectorizerPath: vecPath}
	ctx := context.Background()

	first, err := svc.Register(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version.Version)
	assert.Equal(t, domain.StageStaging, first.Version.Stage)

	second, err := svc.Register(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version.Version)

	assert.Equal(t,
		"Model yt_chrome_plugin_model version 1 registered and transitioned to Staging.\n"+
			"Model yt_chrome_plugin_model version 2 registered and transitioned to Staging.\n",
		out.String())

	versions, err := store.ListVersions(ctx, req.ModelName)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	// no archiving: both stay in Staging
	assert.Equal(t, domain.StageStaging, versions[0].Stage)
	assert.Equal(t, domain.StageStaging, versions[1].Stage)

	run, err := store.GetRun(ctx, second.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFinished, run.Status)
	assert.Contains(t, run.Tags[domain.TagLogModelHistory], `"artifact_path":"lgbm_model"`)

	artifactDir := filepath.Join(store.Root(), "0", second.RunID, "artifacts", "lgbm_model")

	example, err := os.ReadFile(filepath.Join(artifactDir, "input_example.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"columns":["bad","good","great"],"data":[[0,0,0]]}`, string(example))

	_, err = os.Stat(filepath.Join(artifactDir, "lgbm_model.json"))
	assert.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(artifactDir, "MLmodel"))
	require.NoError(t, err)
	var mlm struct {
		RunID     string `yaml:"run_id"`
		Signature struct {
			Inputs  string `yaml:"inputs"`
			Outputs string `yaml:"outputs"`
		} `yaml:"signature"`
	}
	require.NoError(t, yaml.Unmarshal(b, &mlm))
	assert.Equal(t, second.RunID, mlm.RunID)

	var inputs []domain.ColumnSpec
	require.NoError(t, json.Unmarshal([]byte(mlm.Signature.Inputs), &inputs))
	require.Len(t, inputs, 3)
	assert.Equal(t, "great", inputs[2].Name)
	assert.JSONEq(t, `[{"type":"tensor","tensor-spec":{"dtype":"int64","shape":[-1]}}]`, mlm.Signature.Outputs)
}

func TestRegistrar_FileStoreVectorizerWiderThanModel(t *testing.T) {
	dir := t.TempDir()
	store, err := filestore.New(filepath.Join(dir, "mlruns"))
	require.NoError(t, err)

	modelPath := testutil.WriteModel(t, dir)
	vecPath := testutil.WriteVectorizer(t, dir, append([]string{"awful", "meh"}, testutil.SentimentFeatures...))
	svc := NewRegistrarService(store, artifacts.NewFileLoader(), RegistrarConfig{Stdout: new(bytes.Buffer)})

	_, err = svc.Register(context.Background(), RegisterRequest{ModelName: "clf", ModelPath: modelPath, VectorizerPath: vecPath})
	assert.ErrorIs(t, err, domain.ErrPrediction)
	assert.ErrorIs(t, err, domain.ErrFeatureMismatch)

	_, err = store.GetLatestVersions(context.Background(), "clf", nil)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestRegistrar_FileStoreMissingModel(t *testing.T) {
	dir := t.TempDir()
	store, err := filestore.New(filepath.Join(dir, "mlruns"))
	require.NoError(t, err)

	vecPath := testutil.WriteVectorizer(t, dir, testutil.SentimentFeatures)
	svc := NewRegistrarService(store, artifacts.NewFileLoader(), RegistrarConfig{Stdout: new(bytes.Buffer)})

	_, err = svc.Register(context.Background(), RegisterRequest{
		ModelName:      "clf",
		ModelPath:      filepath.Join(dir, "nope.json"),
		VectorizerPath: vecPath,
	})
	assert.ErrorIs(t, err, domain.ErrArtifactLoad)

	_, err = store.GetLatestVersions(context.Background(), "clf", nil)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}
