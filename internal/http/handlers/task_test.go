package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/database"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service"
	"github.com/mediasift/mediasift/internal/service/progress"
	"github.com/mediasift/mediasift/internal/testutil"
)

func newTaskFixture(t *testing.T) (*TaskHandler, *service.TaskService, *database.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := service.NewTaskService(
		repository.NewTaskRepository(db.DB),
		repository.NewSegmentRepository(db.DB),
		repository.NewFileRepository(db.DB),
		progress.NewRegistry(),
		3, 30,
		testutil.Logger(),
	)
	return NewTaskHandler(svc, nil), svc, db
}

func TestTaskHandler_List(t *testing.T) {
	handler, svc, _ := newTaskFixture(t)
	ctx := testutil.Ctx()

	_, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", service.EnqueueOptions{})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/b.jpg", service.EnqueueOptions{})
	require.NoError(t, err)

	resp, err := handler.List(ctx, &ListTasksInput{})
	require.NoError(t, err)
	assert.Len(t, resp.Body.Tasks, 2)

	resp, err = handler.List(ctx, &ListTasksInput{Status: "running"})
	require.NoError(t, err)
	assert.Empty(t, resp.Body.Tasks)
}

func TestTaskHandler_GetByID(t *testing.T) {
	handler, svc, _ := newTaskFixture(t)
	ctx := testutil.Ctx()

	task, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", service.EnqueueOptions{})
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		resp, err := handler.GetByID(ctx, &GetTaskInput{ID: task.ID.String()})
		require.NoError(t, err)
		assert.Equal(t, task.ID, resp.Body.ID)
		assert.Equal(t, models.TaskKindIngestFile, resp.Body.Kind)
		assert.Nil(t, resp.Body.Progress)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := handler.GetByID(ctx, &GetTaskInput{ID: models.NewULID().String()})
		assert.Error(t, err)
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := handler.GetByID(ctx, &GetTaskInput{ID: "not-a-ulid"})
		assert.Error(t, err)
	})
}

func TestTaskHandler_Cancel(t *testing.T) {
	handler, svc, _ := newTaskFixture(t)
	ctx := testutil.Ctx()

	task, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", service.EnqueueOptions{})
	require.NoError(t, err)

	resp, err := handler.Cancel(ctx, &CancelTaskInput{ID: task.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "cancel requested", resp.Body.Message)

	got, err := svc.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)

	// Cancelling a terminal task is a client error.
	_, err = handler.Cancel(ctx, &CancelTaskInput{ID: task.ID.String()})
	assert.Error(t, err)
}

func TestTaskHandler_CancelAll(t *testing.T) {
	handler, svc, _ := newTaskFixture(t)
	ctx := testutil.Ctx()

	for _, target := range []string{"/media/a.mp4", "/media/b.jpg", "/media/c.mp3"} {
		_, err := svc.Enqueue(ctx, models.TaskKindIngestFile, target, service.EnqueueOptions{})
		require.NoError(t, err)
	}

	input := &CancelAllTasksInput{}
	resp, err := handler.CancelAll(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Body.Cancelled)
}

func TestTaskHandler_SetPriority(t *testing.T) {
	handler, svc, _ := newTaskFixture(t)
	ctx := testutil.Ctx()

	task, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", service.EnqueueOptions{})
	require.NoError(t, err)

	input := &SetTaskPriorityInput{ID: task.ID.String()}
	input.Body.Priority = 2
	resp, err := handler.SetPriority(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Body.Priority)
}

func TestTaskHandler_Retry(t *testing.T) {
	handler, svc, _ := newTaskFixture(t)
	ctx := testutil.Ctx()

	task, err := svc.Enqueue(ctx, models.TaskKindIngestFile, "/media/a.mp4", service.EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, task.ID))

	resp, err := handler.Retry(ctx, &RetryTaskInput{ID: task.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, resp.Body.Status)

	// Pending tasks cannot be retried again.
	_, err = handler.Retry(ctx, &RetryTaskInput{ID: task.ID.String()})
	assert.Error(t, err)
}

func TestTaskHandler_RunnerStatusWithoutRunner(t *testing.T) {
	handler, _, _ := newTaskFixture(t)

	resp, err := handler.GetRunnerStatus(testutil.Ctx(), &GetRunnerStatusInput{})
	require.NoError(t, err)
	assert.False(t, resp.Body.Running)
}

func TestTaskHandler_GetHistoryEmpty(t *testing.T) {
	handler, _, _ := newTaskFixture(t)

	resp, err := handler.GetHistory(testutil.Ctx(), &GetTaskHistoryInput{})
	require.NoError(t, err)
	assert.Empty(t, resp.Body.History)
	assert.Equal(t, 1, resp.Body.Pagination.CurrentPage)
	assert.Equal(t, 50, resp.Body.Pagination.PageSize)
}
