package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/database"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service/progress"
	"github.com/mediasift/mediasift/internal/testutil"
)

func newTaskService(t *testing.T) (*TaskService, *database.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := NewTaskService(
		repository.NewTaskRepository(db.DB),
		repository.NewSegmentRepository(db.DB),
		repository.NewFileRepository(db.DB),
		progress.NewRegistry(),
		3, 30,
		testutil.Logger(),
	)
	return svc, db
}

func TestEnqueueDefaultPriorityByType(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx := testutil.Ctx()

	video, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPriority(models.FileTypeVideo), video.Priority)

	text, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/notes.txt", EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPriority(models.FileTypeText), text.Priority)

	// Directory scans materialize file tasks, so they run first.
	scan, err := svc.Enqueue(ctx, models.TaskKindScanDir, "/media", EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPriority(models.FileTypeVideo), scan.Priority)
}

func TestEnqueueDeduplicatesActiveTasks(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx := testutil.Ctx()

	first, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.txt", EnqueueOptions{})
	require.NoError(t, err)

	second, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.txt", EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	statuses, err := svc.List(ctx, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, statuses, 1)
}

func TestEnqueueDuplicateRaisesPriority(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx := testutil.Ctx()

	first, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.txt", EnqueueOptions{})
	require.NoError(t, err)
	require.Equal(t, 7, first.Priority)

	dup, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.txt", EnqueueOptions{Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, first.ID, dup.ID)
	assert.Equal(t, 2, dup.Priority)

	// A less urgent duplicate never lowers urgency.
	dup, err = svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.txt", EnqueueOptions{Priority: 8})
	require.NoError(t, err)
	assert.Equal(t, 2, dup.Priority)
}

func TestCancelPendingTask(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx := testutil.Ctx()

	task, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, task.ID))

	got, err := svc.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)

	// Cancelling a terminal task is an input error.
	err = svc.Cancel(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestCancelUnknownTask(t *testing.T) {
	svc, _ := newTaskService(t)

	err := svc.Cancel(testutil.Ctx(), models.NewULID())
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestCancelAllPending(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx := testutil.Ctx()

	for _, target := range []string{"/media/a.mp4", "/media/b.mp4", "/media/c.mp4"} {
		_, err := svc.Enqueue(ctx, models.TaskKindIngestFile, target, EnqueueOptions{})
		require.NoError(t, err)
	}

	n, err := svc.CancelAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	status := models.TaskStatusCancelled
	cancelled, err := svc.List(ctx, &status, nil, 0)
	require.NoError(t, err)
	assert.Len(t, cancelled, 3)
}

func TestRetryResetsCancelledTask(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx := testutil.Ctx()

	task, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, task.ID))

	retried, err := svc.Retry(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, retried.Status)
	assert.False(t, retried.CancelRequested)
	assert.Nil(t, retried.NextRunAt)
	assert.Nil(t, retried.CompletedAt)
}

func TestRetryRejectsNonTerminalTask(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx := testutil.Ctx()

	task, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", EnqueueOptions{})
	require.NoError(t, err)

	_, err = svc.Retry(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestSetPriority(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx := testutil.Ctx()

	task, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", EnqueueOptions{})
	require.NoError(t, err)

	updated, err := svc.SetPriority(ctx, task.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Priority)

	require.NoError(t, svc.Cancel(ctx, task.ID))
	_, err = svc.SetPriority(ctx, task.ID, 1)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestIndexStatusCounts(t *testing.T) {
	svc, db := newTaskService(t)
	ctx := testutil.Ctx()

	testutil.NewFile(t, db, "/media/a.mp4", models.FileTypeVideo)
	testutil.NewFile(t, db, "/media/b.jpg", models.FileTypeImage)
	_, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/c.mp4", EnqueueOptions{})
	require.NoError(t, err)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Files[models.FileTypeVideo])
	assert.Equal(t, int64(1), status.Files[models.FileTypeImage])
	assert.Equal(t, int64(1), status.Tasks[models.TaskStatusPending])
}
