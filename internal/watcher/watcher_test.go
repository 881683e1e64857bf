package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service"
	"github.com/mediasift/mediasift/internal/service/progress"
	"github.com/mediasift/mediasift/internal/testutil"
)

func newWatcher(t *testing.T, cfg config.WatcherConfig) (*Watcher, *service.TaskService) {
	t.Helper()
	db := testutil.NewDB(t)
	tasks := service.NewTaskService(
		repository.NewTaskRepository(db.DB),
		repository.NewSegmentRepository(db.DB),
		repository.NewFileRepository(db.DB),
		progress.NewRegistry(),
		3, 30,
		testutil.Logger(),
	)
	return New(cfg, tasks, testutil.Logger()), tasks
}

func pendingTasks(t *testing.T, tasks *service.TaskService, kind models.TaskKind) []*models.Task {
	t.Helper()
	pending := models.TaskStatusPending
	queued, err := tasks.List(testutil.Ctx(), &pending, &kind, 0)
	require.NoError(t, err)
	return queued
}

func TestStartEnqueuesInitialScan(t *testing.T) {
	root := t.TempDir()
	w, tasks := newWatcher(t, config.WatcherConfig{
		Roots:     []string{root},
		Debounce:  10 * time.Millisecond,
		Recursive: true,
	})

	require.NoError(t, w.Start(testutil.Ctx()))
	t.Cleanup(w.Stop)

	scans := pendingTasks(t, tasks, models.TaskKindScanDir)
	require.Len(t, scans, 1)
	assert.Equal(t, root, scans[0].Target)
}

func TestNewMediaFileGetsIngestTask(t *testing.T) {
	root := t.TempDir()
	w, tasks := newWatcher(t, config.WatcherConfig{
		Roots:     []string{root},
		Debounce:  10 * time.Millisecond,
		Recursive: true,
	})

	require.NoError(t, w.Start(testutil.Ctx()))
	t.Cleanup(w.Stop)

	path := filepath.Join(root, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, task := range pendingTasks(t, tasks, models.TaskKindIngestFile) {
			if task.Target == path {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDeletedMediaFileGetsRemovalTask(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w, tasks := newWatcher(t, config.WatcherConfig{
		Roots:     []string{root},
		Debounce:  10 * time.Millisecond,
		Recursive: true,
	})
	require.NoError(t, w.Start(testutil.Ctx()))
	t.Cleanup(w.Stop)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		for _, task := range pendingTasks(t, tasks, models.TaskKindRemovePath) {
			if task.Target == path {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNonMediaFilesAreIgnored(t *testing.T) {
	root := t.TempDir()
	w, tasks := newWatcher(t, config.WatcherConfig{
		Roots:     []string{root},
		Debounce:  10 * time.Millisecond,
		Recursive: true,
	})

	require.NoError(t, w.Start(testutil.Ctx()))
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(root, "temp.xyz"), []byte("x"), 0o644))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, pendingTasks(t, tasks, models.TaskKindIngestFile))
}

func TestNoRootsIsNoop(t *testing.T) {
	w, tasks := newWatcher(t, config.WatcherConfig{})
	require.NoError(t, w.Start(testutil.Ctx()))
	w.Stop()
	assert.Empty(t, pendingTasks(t, tasks, models.TaskKindScanDir))
}

func TestMissingRootFailsStart(t *testing.T) {
	w, _ := newWatcher(t, config.WatcherConfig{Roots: []string{"/does/not/exist"}})
	require.Error(t, w.Start(testutil.Ctx()))
}

func TestInvalidScheduleFailsStart(t *testing.T) {
	w, _ := newWatcher(t, config.WatcherConfig{
		Roots:          []string{t.TempDir()},
		RescanSchedule: "not a schedule",
	})
	require.Error(t, w.Start(testutil.Ctx()))
}
