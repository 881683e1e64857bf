package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service/progress"
	"github.com/mediasift/mediasift/internal/testutil"
)

func acquireTask(t *testing.T, tasks repository.TaskRepository) *models.Task {
	t.Helper()
	task, err := tasks.Acquire(testutil.Ctx(), "test-worker")
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func TestExecutorSuccess(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)
	executor := NewExecutor(tasks, testutil.Logger())
	executor.RegisterHandler(models.TaskKindIngestFile, TaskHandlerFunc(
		func(ctx context.Context, task *models.Task) (string, error) {
			return "indexed " + task.Target, nil
		}))

	testutil.NewTask(t, db, models.TaskKindIngestFile, "/media/a.mp4")
	task := acquireTask(t, tasks)

	require.NoError(t, executor.Execute(testutil.Ctx(), task))

	got, err := tasks.GetByID(testutil.Ctx(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSucceeded, got.Status)
	assert.Equal(t, "indexed /media/a.mp4", got.Result)
	assert.Empty(t, got.LockedBy)

	history, total, err := tasks.GetHistory(testutil.Ctx(), nil, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, models.TaskStatusSucceeded, history[0].Status)
}

func TestExecutorRetryableFailureSchedulesRetry(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)
	executor := NewExecutor(tasks, testutil.Logger())
	executor.RegisterHandler(models.TaskKindIngestFile, TaskHandlerFunc(
		func(ctx context.Context, task *models.Task) (string, error) {
			return "", models.WrapKind(models.ErrKindModel, fmt.Errorf("engine unreachable"))
		}))

	testutil.NewTask(t, db, models.TaskKindIngestFile, "/media/a.mp4")
	task := acquireTask(t, tasks)

	require.NoError(t, executor.Execute(testutil.Ctx(), task))

	got, err := tasks.GetByID(testutil.Ctx(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusScheduled, got.Status)
	assert.NotNil(t, got.NextRunAt)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, models.ErrKindModel, got.ErrorKind)

	// Retry is not terminal, so no history yet.
	_, total, err := tasks.GetHistory(testutil.Ctx(), nil, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestExecutorInputFailureIsTerminal(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)
	executor := NewExecutor(tasks, testutil.Logger())
	executor.RegisterHandler(models.TaskKindIngestFile, TaskHandlerFunc(
		func(ctx context.Context, task *models.Task) (string, error) {
			return "", models.WrapKind(models.ErrKindInput, models.ErrFileMissing)
		}))

	testutil.NewTask(t, db, models.TaskKindIngestFile, "/media/gone.mp4")
	task := acquireTask(t, tasks)

	require.NoError(t, executor.Execute(testutil.Ctx(), task))

	got, err := tasks.GetByID(testutil.Ctx(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, models.ErrKindInput, got.ErrorKind)
	assert.Nil(t, got.NextRunAt)

	_, total, err := tasks.GetHistory(testutil.Ctx(), nil, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestExecutorExhaustedRetriesAreTerminal(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)
	executor := NewExecutor(tasks, testutil.Logger())
	executor.RegisterHandler(models.TaskKindIngestFile, TaskHandlerFunc(
		func(ctx context.Context, task *models.Task) (string, error) {
			return "", models.WrapKind(models.ErrKindStorage, fmt.Errorf("disk full"))
		}))

	task := testutil.NewTask(t, db, models.TaskKindIngestFile, "/media/a.mp4")
	task.MaxAttempts = 1
	require.NoError(t, tasks.Update(testutil.Ctx(), task))
	task = acquireTask(t, tasks)

	require.NoError(t, executor.Execute(testutil.Ctx(), task))

	got, err := tasks.GetByID(testutil.Ctx(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
}

func TestExecutorCancellation(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)
	executor := NewExecutor(tasks, testutil.Logger())
	executor.RegisterHandler(models.TaskKindIngestFile, TaskHandlerFunc(
		func(ctx context.Context, task *models.Task) (string, error) {
			return "", models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
		}))

	testutil.NewTask(t, db, models.TaskKindIngestFile, "/media/a.mp4")
	task := acquireTask(t, tasks)

	require.NoError(t, executor.Execute(testutil.Ctx(), task))

	got, err := tasks.GetByID(testutil.Ctx(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Equal(t, models.ErrKindCancelled, got.ErrorKind)
}

func TestExecutorNoHandler(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)
	executor := NewExecutor(tasks, testutil.Logger())

	testutil.NewTask(t, db, models.TaskKindReindex, "/media/a.mp4")
	task := acquireTask(t, tasks)

	require.NoError(t, executor.Execute(testutil.Ctx(), task))

	got, err := tasks.GetByID(testutil.Ctx(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, models.ErrKindInput, got.ErrorKind)
}

func TestRunnerProcessesQueuedTasks(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)

	var executed atomic.Int32
	executor := NewExecutor(tasks, testutil.Logger())
	executor.RegisterHandler(models.TaskKindIngestFile, TaskHandlerFunc(
		func(ctx context.Context, task *models.Task) (string, error) {
			executed.Add(1)
			return "ok", nil
		}))

	runner := NewRunner(config.QueueConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		LockTimeout:  time.Minute,
		TaskTimeout:  time.Minute,
	}, tasks, executor, testutil.Logger())

	testutil.NewTask(t, db, models.TaskKindIngestFile, "/media/a.mp4")
	testutil.NewTask(t, db, models.TaskKindIngestFile, "/media/b.mp4")

	require.NoError(t, runner.Start(testutil.Ctx()))
	defer runner.Stop()

	require.Eventually(t, func() bool {
		return executed.Load() == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		counts, err := tasks.CountByStatus(testutil.Ctx())
		return err == nil && counts[models.TaskStatusSucceeded] == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCleanupEvictsFinishedTrackers(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)
	registry := progress.NewRegistry()

	runner := NewRunner(config.QueueConfig{Workers: 1}, tasks,
		NewExecutor(tasks, testutil.Logger()), testutil.Logger()).WithProgress(registry)
	runner.progressRetention = 0

	registry.Track("done", progress.IngestStages()).Complete()
	registry.Track("live", progress.IngestStages())

	runner.performCleanup(testutil.Ctx())

	_, ok := registry.Get("done")
	assert.False(t, ok)
	_, ok = registry.Get("live")
	assert.True(t, ok)
}

func TestRunnerDoubleStart(t *testing.T) {
	db := testutil.NewDB(t)
	tasks := repository.NewTaskRepository(db.DB)
	runner := NewRunner(config.QueueConfig{
		Workers:      1,
		PollInterval: 50 * time.Millisecond,
	}, tasks, NewExecutor(tasks, testutil.Logger()), testutil.Logger())

	require.NoError(t, runner.Start(testutil.Ctx()))
	assert.Error(t, runner.Start(testutil.Ctx()))
	runner.Stop()
}
