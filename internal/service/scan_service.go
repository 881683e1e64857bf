package service

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mediasift/mediasift/internal/classify"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/repository"
)

// ScanService walks directories, enqueues ingest tasks for the media files
// it finds, and enqueues removals for cataloged paths that no longer exist.
type ScanService struct {
	taskService *TaskService
	files       repository.FileRepository
	recursive   bool
	log         *slog.Logger
}

// NewScanService creates a scan service. recursive controls whether scans
// descend into subdirectories.
func NewScanService(taskService *TaskService, files repository.FileRepository, recursive bool, log *slog.Logger) *ScanService {
	return &ScanService{
		taskService: taskService,
		files:       files,
		recursive:   recursive,
		log:         observability.WithComponent(log, "scan"),
	}
}

// typeForPriority is the cheap extension-only type used for queue priority.
func typeForPriority(path string) models.FileType {
	t := classify.TypeFromPath(path)
	if t == models.FileTypeUnknown {
		return models.FileTypeUnknown
	}
	return t
}

// ScanDirectory walks the task's target directory and enqueues one
// ingest_file task per media file. An empty directory succeeds with zero
// tasks enqueued. The task's "recursive" param overrides the configured
// default.
func (s *ScanService) ScanDirectory(ctx context.Context, task *models.Task) (string, error) {
	root := task.Target
	recursive := task.ParamBool("recursive", s.recursive)
	info, err := os.Stat(root)
	if err != nil {
		return "", models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: %s", models.ErrFileMissing, root))
	}
	if !info.IsDir() {
		return "", models.WrapKind(models.ErrKindInput,
			fmt.Errorf("not a directory: %s", root))
	}

	enqueued, skipped := 0, 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.Warn("scan error, skipping entry", slog.String("path", path), slog.Any("error", err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
		}
		if d.IsDir() {
			if path != root && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if typeForPriority(path) == models.FileTypeUnknown {
			skipped++
			return nil
		}

		if _, err := s.taskService.Enqueue(ctx, models.TaskKindIngestFile, path, EnqueueOptions{}); err != nil {
			return err
		}
		enqueued++
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	removals, err := s.reconcile(ctx, root, recursive)
	if err != nil {
		return "", err
	}

	s.log.Info("directory scanned",
		slog.String("root", root),
		slog.Int("enqueued", enqueued),
		slog.Int("skipped", skipped),
		slog.Int("removals", removals))
	return fmt.Sprintf("enqueued %d file tasks (%d skipped, %d removals)", enqueued, skipped, removals), nil
}

// reconcile enqueues a remove_path task for every cataloged location under
// root that no longer exists on disk, so deletions that happened while the
// watcher was not running still leave the index.
func (s *ScanService) reconcile(ctx context.Context, root string, recursive bool) (int, error) {
	prefix := root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}

	cataloged, err := s.files.ListByPathPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}

	removals := 0
	for _, file := range cataloged {
		for _, path := range file.AllPaths() {
			if cerr := ctx.Err(); cerr != nil {
				return removals, models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
			}
			// LIKE over-selects; re-check the prefix and the scan scope.
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			if !recursive && filepath.Dir(path) != root {
				continue
			}
			if _, serr := os.Stat(path); serr == nil || !os.IsNotExist(serr) {
				continue
			}
			if _, err := s.taskService.Enqueue(ctx, models.TaskKindRemovePath, path, EnqueueOptions{}); err != nil {
				return removals, err
			}
			removals++
		}
	}
	return removals, nil
}
