// Package startup provides utilities for application startup tasks.
package startup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediasift/mediasift/internal/config"
)

// TempFilePrefix is the prefix used for mediasift ingest scratch files.
const TempFilePrefix = "mediasift-ingest-"

// PrepareDataDir creates the persisted on-disk layout under the data dir:
// the vectors root, the models dir, and the cache dir. The catalog file
// itself is created by the database layer on first open.
func PrepareDataDir(cfg config.StorageConfig) error {
	dirs := []string{
		cfg.DataDir,
		cfg.VectorsDir(),
		cfg.ModelsDir,
		cfg.CacheDir,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// CleanupStaleCacheFiles removes ingest scratch files in the cache dir that
// are older than maxAge. A crashed worker can leave these behind.
// Returns the number of files removed.
func CleanupStaleCacheFiles(logger *slog.Logger, cacheDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		logger.Debug("cache directory does not exist, skipping cleanup",
			slog.String("path", cacheDir))
		return 0, nil
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), TempFilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(cacheDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove stale cache file",
				slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info("removed stale cache files",
			slog.String("path", cacheDir), slog.Int("count", removed))
	}
	return removed, nil
}
