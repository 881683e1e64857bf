package startup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/testutil"
)

func TestPrepareDataDirCreatesLayout(t *testing.T) {
	root := t.TempDir()
	cfg := config.StorageConfig{
		DataDir:   filepath.Join(root, "data"),
		ModelsDir: filepath.Join(root, "models"),
		CacheDir:  filepath.Join(root, "data", "cache"),
	}

	require.NoError(t, PrepareDataDir(cfg))

	for _, dir := range []string{cfg.DataDir, cfg.VectorsDir(), cfg.ModelsDir, cfg.CacheDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestPrepareDataDirIdempotent(t *testing.T) {
	cfg := config.StorageConfig{DataDir: t.TempDir()}
	require.NoError(t, PrepareDataDir(cfg))
	require.NoError(t, PrepareDataDir(cfg))
}

func TestCleanupStaleCacheFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, TempFilePrefix+"abc")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(dir, TempFilePrefix+"def")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	unrelated := filepath.Join(dir, "keep.bin")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o644))

	removed, err := CleanupStaleCacheFiles(testutil.Logger(), dir, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, unrelated)
}

func TestCleanupMissingDirIsNoop(t *testing.T) {
	removed, err := CleanupStaleCacheFiles(testutil.Logger(), filepath.Join(t.TempDir(), "missing"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
