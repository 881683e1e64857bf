package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/testutil"
)

func scanFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"a.jpg", "b.mp3", "notes.txt", "ignore.xyz"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}
	sub := filepath.Join(root, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.mp4"), []byte("x"), 0o644))
	return root
}

func TestScanDirectoryEnqueuesMediaFiles(t *testing.T) {
	tasks, db := newTaskService(t)
	scan := NewScanService(tasks, repository.NewFileRepository(db.DB), true, testutil.Logger())
	root := scanFixture(t)

	result, err := scan.ScanDirectory(testutil.Ctx(), &models.Task{Target: root})
	require.NoError(t, err)
	assert.Equal(t, "enqueued 4 file tasks (1 skipped, 0 removals)", result)

	pending := models.TaskStatusPending
	queued, err := tasks.List(testutil.Ctx(), &pending, nil, 0)
	require.NoError(t, err)
	require.Len(t, queued, 4)
	for _, task := range queued {
		assert.Equal(t, models.TaskKindIngestFile, task.Kind)
	}
}

func TestScanDirectoryNonRecursive(t *testing.T) {
	tasks, db := newTaskService(t)
	scan := NewScanService(tasks, repository.NewFileRepository(db.DB), false, testutil.Logger())
	root := scanFixture(t)

	result, err := scan.ScanDirectory(testutil.Ctx(), &models.Task{Target: root})
	require.NoError(t, err)
	assert.Equal(t, "enqueued 3 file tasks (1 skipped, 0 removals)", result)
}

func TestScanRecursiveParamOverridesDefault(t *testing.T) {
	tasks, db := newTaskService(t)
	scan := NewScanService(tasks, repository.NewFileRepository(db.DB), true, testutil.Logger())
	root := scanFixture(t)

	result, err := scan.ScanDirectory(testutil.Ctx(), &models.Task{
		Target: root,
		Params: models.Extra{"recursive": false},
	})
	require.NoError(t, err)
	assert.Equal(t, "enqueued 3 file tasks (1 skipped, 0 removals)", result)
}

func TestScanEmptyDirectorySucceeds(t *testing.T) {
	tasks, db := newTaskService(t)
	scan := NewScanService(tasks, repository.NewFileRepository(db.DB), true, testutil.Logger())

	result, err := scan.ScanDirectory(testutil.Ctx(), &models.Task{Target: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "enqueued 0 file tasks (0 skipped, 0 removals)", result)
}

func TestScanEnqueuesRemovalForVanishedFile(t *testing.T) {
	tasks, db := newTaskService(t)
	scan := NewScanService(tasks, repository.NewFileRepository(db.DB), true, testutil.Logger())
	root := scanFixture(t)

	gone := filepath.Join(root, "deleted.jpg")
	testutil.NewFile(t, db, gone, models.FileTypeImage)

	result, err := scan.ScanDirectory(testutil.Ctx(), &models.Task{Target: root})
	require.NoError(t, err)
	assert.Equal(t, "enqueued 4 file tasks (1 skipped, 1 removals)", result)

	pending := models.TaskStatusPending
	kind := models.TaskKindRemovePath
	queued, err := tasks.List(testutil.Ctx(), &pending, &kind, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, gone, queued[0].Target)
}

func TestScanMissingDirectoryFails(t *testing.T) {
	tasks, db := newTaskService(t)
	scan := NewScanService(tasks, repository.NewFileRepository(db.DB), true, testutil.Logger())

	_, err := scan.ScanDirectory(testutil.Ctx(), &models.Task{Target: "/does/not/exist"})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestScanRejectsRegularFile(t *testing.T) {
	tasks, db := newTaskService(t)
	scan := NewScanService(tasks, repository.NewFileRepository(db.DB), true, testutil.Logger())

	path := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := scan.ScanDirectory(testutil.Ctx(), &models.Task{Target: path})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestScanDeduplicatesAgainstQueue(t *testing.T) {
	tasks, db := newTaskService(t)
	scan := NewScanService(tasks, repository.NewFileRepository(db.DB), true, testutil.Logger())
	root := scanFixture(t)

	_, err := scan.ScanDirectory(testutil.Ctx(), &models.Task{Target: root})
	require.NoError(t, err)
	_, err = scan.ScanDirectory(testutil.Ctx(), &models.Task{Target: root})
	require.NoError(t, err)

	pending := models.TaskStatusPending
	queued, err := tasks.List(testutil.Ctx(), &pending, nil, 0)
	require.NoError(t, err)
	assert.Len(t, queued, 4)
}
