package postgres

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
)

// newTestStore starts a throwaway PostgreSQL container, applies the schema and
// returns a store on it.
func newTestStore(t *testing.T) *TrackingStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tracking"),
		tcpostgres.WithUsername("mlflow"),
		tcpostgres.WithPassword("mlflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(dsn))
	// idempotent
	require.NoError(t, RunMigrations(dsn))

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s, err := NewTrackingStore(pool, t.TempDir())
	require.NoError(t, err)
	return s
}

func TestTrackingStore_Experiments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def, err := s.GetExperimentByName(ctx, domain.DefaultExperimentName)
	require.NoError(t, err)
	assert.Equal(t, "0", def.ID)

	exp, err := s.CreateExperiment(ctx, "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "1", exp.ID)

	_, err = s.CreateExperiment(ctx, "sentiment")
	assert.ErrorIs(t, err, domain.ErrExperimentConflict)

	_, err = s.GetExperimentByName(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrExperimentNotFound)
}

func TestTrackingStore_Runs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, ports.CreateRunInput{
		ExperimentID: "0",
		Tags:         map[string]string{domain.TagUser: "alice"},
	})
	require.NoError(t, err)
	assert.Len(t, run.ID, 32)
	assert.Contains(t, run.ArtifactURI, "file://")

	require.NoError(t, s.SetTag(ctx, run.ID, "k", "v1"))
	require.NoError(t, s.SetTag(ctx, run.ID, "k", "v2"))
	require.NoError(t, s.UpdateRun(ctx, run.ID, domain.RunStatusFinished, time.Now()))

	assert.ErrorIs(t, s.UpdateRun(ctx, "nope", domain.RunStatusFailed, time.Now()), domain.ErrRunNotFound)
	assert.ErrorIs(t, s.SetTag(ctx, "nope", "k", "v"), domain.ErrRunNotFound)

	_, err = s.CreateRun(ctx, ports.CreateRunInput{ExperimentID: "99"})
	assert.ErrorIs(t, err, domain.ErrExperimentNotFound)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "MLmodel"), []byte("x"), 0o644))
	require.NoError(t, s.LogArtifacts(ctx, run, src, "lgbm_model"))
	_, err = os.Stat(filepath.Join(s.artifactRoot, "0", run.ID, "artifacts", "lgbm_model", "MLmodel"))
	assert.NoError(t, err)
}

func TestTrackingStore_Registry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateModelVersion(ctx, "clf", "src", "run")
	assert.ErrorIs(t, err, domain.ErrModelNotFound)

	_, err = s.CreateRegisteredModel(ctx, "clf")
	require.NoError(t, err)
	_, err = s.CreateRegisteredModel(ctx, "clf")
	assert.ErrorIs(t, err, domain.ErrModelNameConflict)

	for i := 1; i <= 3; i++ {
		mv, err := s.CreateModelVersion(ctx, "clf", "src", "run")
		require.NoError(t, err)
		assert.Equal(t, i, mv.Version)
		assert.Equal(t, domain.StageNone, mv.Stage)
	}

	_, err = s.TransitionModelVersionStage(ctx, "clf", 1, domain.StageStaging, false)
	require.NoError(t, err)
	mv, err := s.TransitionModelVersionStage(ctx, "clf", 2, domain.StageStaging, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StageStaging, mv.Stage)

	v1, err := s.GetModelVersion(ctx, "clf", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StageArchived, v1.Stage)

	latest, err := s.GetLatestVersions(ctx, "clf", []domain.Stage{domain.StageNone})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 3, latest[0].Version)

	_, err = s.GetModelVersion(ctx, "clf", 42)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	_, err = s.TransitionModelVersionStage(ctx, "clf", 42, domain.StageStaging, false)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	_, err = s.GetLatestVersions(ctx, "ghost", nil)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}
