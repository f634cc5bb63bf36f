package tracking

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-registrar/internal/adapters/secondary/filestore"
	"model-registrar/internal/adapters/secondary/mlflow"
	"model-registrar/internal/config"
	"model-registrar/internal/core/domain"
)

func TestOpen_LocalWithoutToken(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	store, closer, err := Open(context.Background(), config.TrackingConfig{URL: "https://dagshub.com/x/y.mlflow"})
	require.NoError(t, err)
	defer closer.Close()

	fs, ok := store.(*filestore.Store)
	require.True(t, ok, "expected file store, got %T", store)

	want, err := filepath.EvalSymlinks(filepath.Join(dir, "mlruns"))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(fs.Root())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOpen_TokenWithoutURLWarns(t *testing.T) {
	chdir(t, t.TempDir())
	hook := test.NewGlobal()
	t.Cleanup(func() { log.StandardLogger().ReplaceHooks(make(log.LevelHooks)) })

	store, closer, err := Open(context.Background(), config.TrackingConfig{Token: "pat"})
	require.NoError(t, err)
	defer closer.Close()

	_, ok := store.(*filestore.Store)
	assert.True(t, ok, "expected file store, got %T", store)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && strings.Contains(e.Message, "MLFLOW_URL is empty") {
			warned = true
		}
	}
	assert.True(t, warned, "expected a fallback warning")
}

func TestOpen_LocalWithoutTokenDoesNotWarn(t *testing.T) {
	chdir(t, t.TempDir())
	hook := test.NewGlobal()
	t.Cleanup(func() { log.StandardLogger().ReplaceHooks(make(log.LevelHooks)) })

	_, closer, err := Open(context.Background(), config.TrackingConfig{})
	require.NoError(t, err)
	defer closer.Close()

	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, log.WarnLevel, e.Level, e.Message)
	}
}

func TestOpen_ExplicitFileURI(t *testing.T) {
	root := filepath.Join(t.TempDir(), "runs")
	store, closer, err := Open(context.Background(), config.TrackingConfig{URI: "file://" + filepath.ToSlash(root)})
	require.NoError(t, err)
	defer closer.Close()

	_, ok := store.(*filestore.Store)
	assert.True(t, ok)
	_, err = os.Stat(filepath.Join(root, "0", "meta.yaml"))
	assert.NoError(t, err)
}

func TestOpen_RemoteWithToken(t *testing.T) {
	store, closer, err := Open(context.Background(), config.TrackingConfig{
		URL:      "https://dagshub.com/x/y.mlflow",
		Username: "sohamfcb",
		Token:    "secret",
	})
	require.NoError(t, err)
	defer closer.Close()

	_, ok := store.(*mlflow.Client)
	assert.True(t, ok, "expected REST client, got %T", store)
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, _, err := Open(context.Background(), config.TrackingConfig{URI: "databricks://profile"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedScheme)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	if filepath.IsAbs(dir) {
		t.Setenv("PWD", dir)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldwd); err != nil {
			panic("chdir: restoring working directory: " + err.Error())
		}
	})
}
