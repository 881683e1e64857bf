package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service/progress"
)

// TaskService manages the durable task queue: enqueueing with dedup,
// cancellation, retry, and status queries.
type TaskService struct {
	tasks       repository.TaskRepository
	segments    repository.SegmentRepository
	files       repository.FileRepository
	progress    *progress.Registry
	maxAttempts int
	backoffSecs int
	log         *slog.Logger
}

// NewTaskService creates a task service. maxAttempts and backoffSecs seed
// new tasks; zero values fall back to the model defaults.
func NewTaskService(
	tasks repository.TaskRepository,
	segments repository.SegmentRepository,
	files repository.FileRepository,
	registry *progress.Registry,
	maxAttempts int,
	backoffSecs int,
	log *slog.Logger,
) *TaskService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffSecs <= 0 {
		backoffSecs = 30
	}
	return &TaskService{
		tasks:       tasks,
		segments:    segments,
		files:       files,
		progress:    registry,
		maxAttempts: maxAttempts,
		backoffSecs: backoffSecs,
		log:         observability.WithComponent(log, "tasks"),
	}
}

// EnqueueOptions tune a single enqueue.
type EnqueueOptions struct {
	// Priority overrides the file-type default; zero keeps the default.
	// Smaller values run sooner.
	Priority int
	// DependsOn lists task ids that must reach a terminal status first.
	DependsOn []string
	// Params carries kind-specific options stored on the task.
	Params models.Extra
}

// Enqueue adds a task, deduplicating on (kind, target): when an equivalent
// task is already pending or running, the existing task is returned and its
// priority raised to the more urgent of the two.
func (s *TaskService) Enqueue(ctx context.Context, kind models.TaskKind, target string, opts EnqueueOptions) (*models.Task, error) {
	priority := opts.Priority
	if priority <= 0 {
		priority = models.DefaultPriority(classifyTarget(kind, target))
	}

	existing, err := s.tasks.FindDuplicateActive(ctx, kind, target)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if priority < existing.Priority && existing.IsPending() {
			existing.Priority = priority
			if err := s.tasks.Update(ctx, existing); err != nil {
				return nil, err
			}
			s.log.Debug("raised priority of duplicate task",
				slog.String("task_id", existing.ID.String()),
				slog.Int("priority", priority))
		}
		return existing, nil
	}

	task := &models.Task{
		Kind:        kind,
		Target:      target,
		Priority:    priority,
		Status:      models.TaskStatusPending,
		DependsOn:   models.StringList(opts.DependsOn),
		Params:      opts.Params,
		MaxAttempts: s.maxAttempts,
	}
	task.BackoffSeconds = s.backoffSecs
	if err := s.tasks.Create(ctx, task); err != nil {
		// A concurrent enqueue may have won the unique (kind, target) race.
		if dup, dupErr := s.tasks.FindDuplicateActive(ctx, kind, target); dupErr == nil && dup != nil {
			return dup, nil
		}
		return nil, err
	}

	s.log.Info("enqueued task",
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(kind)),
		slog.String("target", target),
		slog.Int("priority", priority))
	return task, nil
}

// classifyTarget picks the default priority class for a task target.
// Directory scans run ahead of everything so file tasks materialize early.
func classifyTarget(kind models.TaskKind, target string) models.FileType {
	if kind == models.TaskKindScanDir {
		return models.FileTypeVideo
	}
	return typeForPriority(target)
}

// GetByID retrieves a task.
func (s *TaskService) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	return s.tasks.GetByID(ctx, id)
}

// List retrieves tasks filtered by status and kind, queue order first.
func (s *TaskService) List(ctx context.Context, status *models.TaskStatus, kind *models.TaskKind, limit int) ([]*models.Task, error) {
	return s.tasks.List(ctx, status, kind, limit)
}

// GetHistory retrieves terminal task history with pagination.
func (s *TaskService) GetHistory(ctx context.Context, kind *models.TaskKind, offset, limit int) ([]*models.TaskHistory, int64, error) {
	return s.tasks.GetHistory(ctx, kind, offset, limit)
}

// Progress returns the live progress snapshot for a task, if the task is
// (or recently was) executing on this instance.
func (s *TaskService) Progress(taskID models.ULID) (progress.Snapshot, bool) {
	return s.progress.Get(taskID.String())
}

// Cancel cancels a task: pending tasks immediately, running tasks
// cooperatively at the worker's next checkpoint.
func (s *TaskService) Cancel(ctx context.Context, id models.ULID) error {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return models.WrapKind(models.ErrKindInput, fmt.Errorf("task not found: %s", id))
	}
	if task.Status.IsTerminal() {
		return models.WrapKind(models.ErrKindInput,
			fmt.Errorf("task already %s: %s", task.Status, id))
	}
	if err := s.tasks.RequestCancel(ctx, id); err != nil {
		return err
	}
	s.log.Info("cancel requested",
		slog.String("task_id", id.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// CancelAll cancels every pending and scheduled task; with cancelRunning it
// also flags running tasks. Returns how many tasks were affected.
func (s *TaskService) CancelAll(ctx context.Context, cancelRunning bool) (int, error) {
	cancelled := 0
	for _, status := range []models.TaskStatus{models.TaskStatusPending, models.TaskStatusScheduled} {
		st := status
		tasks, err := s.tasks.List(ctx, &st, nil, 0)
		if err != nil {
			return cancelled, err
		}
		for _, task := range tasks {
			if err := s.tasks.RequestCancel(ctx, task.ID); err != nil {
				return cancelled, err
			}
			cancelled++
		}
	}

	if cancelRunning {
		running, err := s.tasks.GetRunning(ctx)
		if err != nil {
			return cancelled, err
		}
		for _, task := range running {
			if err := s.tasks.RequestCancel(ctx, task.ID); err != nil {
				return cancelled, err
			}
			cancelled++
		}
	}

	s.log.Info("cancelled tasks", slog.Int("count", cancelled), slog.Bool("running", cancelRunning))
	return cancelled, nil
}

// Retry puts a terminal failed task back into the queue.
func (s *TaskService) Retry(ctx context.Context, id models.ULID) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, models.WrapKind(models.ErrKindInput, fmt.Errorf("task not found: %s", id))
	}
	if task.Status != models.TaskStatusFailed && task.Status != models.TaskStatusCancelled {
		return nil, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("only failed or cancelled tasks can be retried, task is %s", task.Status))
	}

	task.Status = models.TaskStatusPending
	task.NextRunAt = nil
	task.CompletedAt = nil
	task.CancelRequested = false
	if task.Attempts >= task.MaxAttempts {
		// An explicit retry gets one more attempt past the cap.
		task.MaxAttempts = task.Attempts + 1
	}
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}

	s.log.Info("task requeued", slog.String("task_id", id.String()))
	return task, nil
}

// SetPriority overrides a pending task's priority.
func (s *TaskService) SetPriority(ctx context.Context, id models.ULID, priority int) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, models.WrapKind(models.ErrKindInput, fmt.Errorf("task not found: %s", id))
	}
	if !task.IsPending() {
		return nil, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("priority can only change while pending, task is %s", task.Status))
	}
	task.Priority = priority
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// IndexStatus summarizes the index: file, vector, and task counts.
type IndexStatus struct {
	Files   map[models.FileType]int64   `json:"files"`
	Vectors map[models.Modality]int64   `json:"vectors"`
	Tasks   map[models.TaskStatus]int64 `json:"tasks"`
}

// Status returns counts by file type, modality, and task status.
func (s *TaskService) Status(ctx context.Context) (*IndexStatus, error) {
	files, err := s.files.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := s.segments.CountVectorsByModality(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &IndexStatus{Files: files, Vectors: vectors, Tasks: tasks}, nil
}
