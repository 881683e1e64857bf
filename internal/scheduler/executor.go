// Package scheduler runs the durable task queue: a worker pool that
// acquires tasks in priority order, executes registered handlers, applies
// the retry policy, and records history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/repository"
)

// TaskHandler executes one kind of task.
type TaskHandler interface {
	// Execute runs the task and returns a short result summary. Handlers
	// observe ctx at their checkpoints; a cancel request surfaces as
	// context cancellation with models.ErrCancelled as the cause.
	Execute(ctx context.Context, task *models.Task) (string, error)
}

// TaskHandlerFunc adapts a function to the TaskHandler interface.
type TaskHandlerFunc func(ctx context.Context, task *models.Task) (string, error)

// Execute implements TaskHandler.
func (f TaskHandlerFunc) Execute(ctx context.Context, task *models.Task) (string, error) {
	return f(ctx, task)
}

// cancelPollInterval is how often a running task's cancel flag is checked.
const cancelPollInterval = 2 * time.Second

// Executor dispatches acquired tasks to the appropriate handlers and
// persists the outcome.
type Executor struct {
	handlers map[models.TaskKind]TaskHandler
	tasks    repository.TaskRepository
	log      *slog.Logger
}

// NewExecutor creates a task executor.
func NewExecutor(tasks repository.TaskRepository, log *slog.Logger) *Executor {
	return &Executor{
		handlers: make(map[models.TaskKind]TaskHandler),
		tasks:    tasks,
		log:      observability.WithComponent(log, "scheduler"),
	}
}

// RegisterHandler registers a handler for a task kind.
func (e *Executor) RegisterHandler(kind models.TaskKind, handler TaskHandler) {
	e.handlers[kind] = handler
}

// Execute runs an acquired (already running-marked) task and updates its
// status. The returned error covers bookkeeping failures only; handler
// failures are absorbed into the task's status.
func (e *Executor) Execute(ctx context.Context, task *models.Task) error {
	handler, ok := e.handlers[task.Kind]
	if !ok {
		task.MarkFailed(models.WrapKind(models.ErrKindInput,
			fmt.Errorf("no handler for task kind %q", task.Kind)))
		return e.persist(ctx, task)
	}

	e.log.Info("executing task",
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)),
		slog.String("target", task.Target),
		slog.Int("attempt", task.Attempts))

	taskCtx, stop := e.watchCancel(ctx, task)
	result, err := handler.Execute(taskCtx, task)
	stop()

	switch {
	case err == nil:
		task.MarkSucceeded(result)
		e.log.Info("task succeeded",
			slog.String("task_id", task.ID.String()),
			slog.String("kind", string(task.Kind)),
			slog.String("result", result),
			slog.Int64("duration_ms", task.DurationMs))

	case isCancellation(taskCtx, err):
		task.MarkCancelled()
		e.log.Info("task cancelled",
			slog.String("task_id", task.ID.String()),
			slog.String("kind", string(task.Kind)))

	default:
		e.log.Error("task failed",
			slog.String("task_id", task.ID.String()),
			slog.String("kind", string(task.Kind)),
			slog.String("error_kind", string(models.KindOf(err))),
			slog.Any("error", err))

		task.MarkFailed(err)
		if models.Retryable(err) && task.CanRetry() {
			task.ScheduleRetry()
			e.log.Info("task scheduled for retry",
				slog.String("task_id", task.ID.String()),
				slog.Int("attempt", task.Attempts),
				slog.Time("next_run", task.NextRunAt.UTC()))
		}
	}

	return e.persist(ctx, task)
}

// persist saves the task and, for terminal outcomes, its history record.
func (e *Executor) persist(ctx context.Context, task *models.Task) error {
	if err := e.tasks.Update(ctx, task); err != nil {
		e.log.Error("failed to update task status",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
		return fmt.Errorf("updating task status: %w", err)
	}

	if task.Status.IsTerminal() {
		if err := e.tasks.CreateHistory(ctx, models.HistoryFrom(task)); err != nil {
			e.log.Error("failed to create task history",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", err))
		}
	}
	return nil
}

// watchCancel derives the handler context and polls the task's cancel flag,
// cancelling with models.ErrCancelled when a cancel was requested.
func (e *Executor) watchCancel(ctx context.Context, task *models.Task) (context.Context, context.CancelFunc) {
	taskCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				requested, err := e.tasks.IsCancelRequested(ctx, task.ID)
				if err != nil {
					continue
				}
				if requested {
					cancel(models.ErrCancelled)
					return
				}
			}
		}
	}()

	return taskCtx, func() {
		close(done)
		cancel(nil)
	}
}

// isCancellation reports whether the task stopped because of a cancel
// request rather than a real failure.
func isCancellation(ctx context.Context, err error) bool {
	if models.KindOf(err) == models.ErrKindCancelled {
		return true
	}
	if errors.Is(err, context.Canceled) && errors.Is(context.Cause(ctx), models.ErrCancelled) {
		return true
	}
	return false
}
