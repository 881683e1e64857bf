package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/database"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/testutil"
)

func newIndexFixture(t *testing.T) (*IndexHandler, *database.DB) {
	t.Helper()
	_, svc, db := newTaskFixture(t)
	files := repository.NewFileRepository(db.DB)
	return NewIndexHandler(svc, files), db
}

func TestIndexHandler_IndexFile(t *testing.T) {
	handler, _ := newIndexFixture(t)
	ctx := testutil.Ctx()

	input := &IndexFileInput{}
	input.Body.Path = "/media/clip.mp4"
	resp, err := handler.IndexFile(ctx, input)
	require.NoError(t, err)
	assert.False(t, resp.Body.TaskID.IsZero())
	assert.Equal(t, models.TaskStatusPending, resp.Body.Status)

	// Re-submitting the same path returns the existing task.
	again, err := handler.IndexFile(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, resp.Body.TaskID, again.Body.TaskID)
}

func TestIndexHandler_IndexDirectoryRecursiveParam(t *testing.T) {
	handler, _ := newIndexFixture(t)
	ctx := testutil.Ctx()

	recursive := false
	input := &IndexDirectoryInput{}
	input.Body.Path = "/media/library"
	input.Body.Recursive = &recursive

	resp, err := handler.IndexDirectory(ctx, input)
	require.NoError(t, err)

	task, err := handler.taskService.GetByID(ctx, resp.Body.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskKindScanDir, task.Kind)
	assert.False(t, task.ParamBool("recursive", true))
}

func TestIndexHandler_Status(t *testing.T) {
	handler, _ := newIndexFixture(t)
	ctx := testutil.Ctx()

	input := &IndexFileInput{}
	input.Body.Path = "/media/clip.mp4"
	_, err := handler.IndexFile(ctx, input)
	require.NoError(t, err)

	resp, err := handler.Status(ctx, &IndexStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Body.Tasks[models.TaskStatusPending])
}

func TestIndexHandler_ListFiles(t *testing.T) {
	handler, db := newIndexFixture(t)
	ctx := testutil.Ctx()

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		testutil.NewFile(t, db, "/media/"+name, models.FileTypeImage)
	}

	resp, err := handler.ListFiles(ctx, &ListFilesInput{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Body.Files, 2)
	assert.Equal(t, int64(3), resp.Body.Pagination.TotalItems)
	assert.Equal(t, int64(2), resp.Body.Pagination.TotalPages)

	filtered, err := handler.ListFiles(ctx, &ListFilesInput{Type: "video"})
	require.NoError(t, err)
	assert.Empty(t, filtered.Body.Files)
}
