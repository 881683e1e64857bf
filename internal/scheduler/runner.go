package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service/progress"
)

// Runner manages a pool of workers that acquire and execute tasks.
type Runner struct {
	mu sync.RWMutex

	tasks    repository.TaskRepository
	executor *Executor
	log      *slog.Logger

	workerCount   int
	pollInterval  time.Duration
	lockTimeout   time.Duration
	workerID      string
	taskTimeout   time.Duration
	cleanupAge    time.Duration
	shutdownGrace time.Duration

	progress          *progress.Registry
	progressRetention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a task runner from queue configuration.
func NewRunner(cfg config.QueueConfig, tasks repository.TaskRepository, executor *Executor, log *slog.Logger) *Runner {
	r := &Runner{
		tasks:         tasks,
		executor:      executor,
		log:           observability.WithComponent(log, "scheduler"),
		workerCount:   cfg.Workers,
		pollInterval:  cfg.PollInterval,
		lockTimeout:   cfg.LockTimeout,
		workerID:      fmt.Sprintf("worker-%s", models.NewULID()),
		taskTimeout:   cfg.TaskTimeout,
		cleanupAge:    cfg.CleanupAge,
		shutdownGrace: cfg.ShutdownGrace,
	}
	if r.workerCount < 1 {
		r.workerCount = 1
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 2 * time.Second
	}
	if r.lockTimeout <= 0 {
		r.lockTimeout = 30 * time.Minute
	}
	if r.taskTimeout <= 0 {
		r.taskTimeout = 30 * time.Minute
	}
	return r
}

// WithProgress attaches the progress registry so the cleanup loop can evict
// trackers of long-finished tasks.
func (r *Runner) WithProgress(registry *progress.Registry) *Runner {
	r.progress = registry
	r.progressRetention = 10 * time.Minute
	return r
}

// Start launches the workers, the stale-lock recovery loop, and the
// terminal-task cleanup loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	runCtx := r.ctx

	for i := 0; i < r.workerCount; i++ {
		id := fmt.Sprintf("%s-%d", r.workerID, i)
		r.wg.Add(1)
		go r.worker(runCtx, id)
	}

	r.wg.Add(2)
	go r.recoverStaleTasks(runCtx)
	go r.cleanup(runCtx)

	r.log.Info("runner started",
		slog.Int("workers", r.workerCount),
		slog.Duration("poll_interval", r.pollInterval),
		slog.String("worker_id", r.workerID))
	return nil
}

// Stop cancels the workers and waits for running tasks to drain, up to the
// shutdown grace period.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	grace := r.shutdownGrace
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	if grace > 0 {
		select {
		case <-done:
		case <-time.After(grace):
			r.log.Warn("shutdown grace elapsed with tasks still running")
		}
	} else {
		<-done
	}

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.log.Info("runner stopped")
}

// errNoTasks signals an idle poll, not a failure.
var errNoTasks = fmt.Errorf("no tasks ready")

func (r *Runner) worker(ctx context.Context, workerID string) {
	defer r.wg.Done()

	r.log.Debug("worker started", slog.String("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			r.log.Debug("worker stopping", slog.String("worker_id", workerID))
			return
		default:
			if err := r.processTask(ctx, workerID); err != nil {
				if err != errNoTasks && ctx.Err() == nil {
					r.log.Error("error processing task",
						slog.String("worker_id", workerID),
						slog.Any("error", err))
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(r.pollInterval):
				}
			}
		}
	}
}

// processTask acquires and executes a single task.
func (r *Runner) processTask(ctx context.Context, workerID string) error {
	task, err := r.tasks.Acquire(ctx, workerID)
	if err != nil {
		return fmt.Errorf("acquiring task: %w", err)
	}
	if task == nil {
		return errNoTasks
	}

	r.log.Debug("acquired task",
		slog.String("worker_id", workerID),
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)))

	taskCtx, cancel := context.WithTimeout(ctx, r.taskTimeout)
	defer cancel()

	if err := r.executor.Execute(taskCtx, task); err != nil {
		return fmt.Errorf("executing task: %w", err)
	}
	return nil
}

// recoverStaleTasks periodically releases tasks whose worker never finished,
// usually after a crash.
func (r *Runner) recoverStaleTasks(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.performStaleRecovery(ctx)
		}
	}
}

func (r *Runner) performStaleRecovery(ctx context.Context) {
	running, err := r.tasks.GetRunning(ctx)
	if err != nil {
		r.log.Error("failed to list running tasks for stale recovery", slog.Any("error", err))
		return
	}

	cutoff := time.Now().Add(-r.lockTimeout)
	for _, task := range running {
		if task.LockedAt == nil || !task.LockedAt.Before(cutoff) {
			continue
		}
		r.log.Warn("recovering stale task",
			slog.String("task_id", task.ID.String()),
			slog.String("locked_by", task.LockedBy),
			slog.Time("locked_at", *task.LockedAt))

		task.MarkFailed(models.WrapKind(models.ErrKindStorage,
			fmt.Errorf("task stale: locked since %s", task.LockedAt.Format(time.RFC3339))))
		if task.CanRetry() {
			task.ScheduleRetry()
		}
		if err := r.tasks.Update(ctx, task); err != nil {
			r.log.Error("failed to recover stale task",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", err))
		}
	}
}

// cleanup periodically prunes terminal tasks and history past the retention
// age and evicts finished progress trackers. Zero cleanupAge disables the
// task pruning; tracker eviction always runs so the registry cannot grow
// with every finished task.
func (r *Runner) cleanup(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.performCleanup(ctx)
		}
	}
}

func (r *Runner) performCleanup(ctx context.Context) {
	if r.cleanupAge > 0 {
		cutoff := time.Now().Add(-r.cleanupAge)

		deleted, err := r.tasks.DeleteTerminal(ctx, cutoff)
		if err != nil {
			r.log.Error("failed to prune terminal tasks", slog.Any("error", err))
		} else if deleted > 0 {
			r.log.Info("pruned terminal tasks", slog.Int64("deleted", deleted))
		}

		deleted, err = r.tasks.DeleteHistory(ctx, cutoff)
		if err != nil {
			r.log.Error("failed to prune task history", slog.Any("error", err))
		} else if deleted > 0 {
			r.log.Info("pruned task history", slog.Int64("deleted", deleted))
		}
	}

	if r.progress != nil {
		if removed := r.progress.Sweep(time.Now().Add(-r.progressRetention)); removed > 0 {
			r.log.Debug("evicted finished progress trackers", slog.Int("removed", removed))
		}
	}
}

// Status is a point-in-time snapshot of the runner.
type Status struct {
	Running      bool          `json:"running"`
	WorkerCount  int           `json:"worker_count"`
	WorkerID     string        `json:"worker_id"`
	PollInterval time.Duration `json:"poll_interval"`
}

// GetStatus returns the current runner status.
func (r *Runner) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Running:      r.ctx != nil && r.ctx.Err() == nil,
		WorkerCount:  r.workerCount,
		WorkerID:     r.workerID,
		PollInterval: r.pollInterval,
	}
}
