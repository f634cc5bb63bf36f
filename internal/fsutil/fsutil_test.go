package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-registrar/internal/core/domain"
)

func TestLocalPath(t *testing.T) {
	cases := map[string]string{
		"file:./mlruns":           "mlruns",
		"file:///tmp/mlruns/0":    "/tmp/mlruns/0",
		"file://localhost/var/mr": "/var/mr",
		"./relative/dir":          "./relative/dir",
	}
	for in, want := range cases {
		got, err := LocalPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, filepath.Clean(want), filepath.Clean(got), in)
	}
}

func TestLocalPath_Unsupported(t *testing.T) {
	for _, in := range []string{"s3://bucket/key", "file://otherhost/x", "mlflow-artifacts:/0/abc"} {
		_, err := LocalPath(in)
		assert.ErrorIs(t, err, domain.ErrUnsupportedArtifactURI, in)
	}
}

func TestFileURI(t *testing.T) {
	assert.Equal(t, "file:///tmp/mlruns", FileURI("/tmp/mlruns"))
}

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "MLmodel"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "x.json"), []byte("b"), 0o644))

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, CopyDir(src, dst))

	files, err := ListFiles(dst)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"MLmodel", "nested/x.json"}, files)

	b, err := os.ReadFile(filepath.Join(dst, "nested", "x.json"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(b))
}
