package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mediasift/mediasift/internal/models"
)

// acquireCandidates is how many ready tasks an acquire scans while checking
// dependency terminality in Go.
const acquireCandidates = 20

// taskRepo implements TaskRepository using GORM.
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepo{db: db}
}

// Create creates a new task.
func (r *taskRepo) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by ID.
func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by ID: %w", err)
	}
	return &task, nil
}

// List retrieves tasks with optional status/kind filters, queue order first.
func (r *taskRepo) List(ctx context.Context, status *models.TaskStatus, kind *models.TaskKind, limit int) ([]*models.Task, error) {
	query := r.db.WithContext(ctx).Order("priority ASC, created_at ASC")
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if kind != nil {
		query = query.Where("kind = ?", *kind)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var tasks []*models.Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// GetRunning retrieves all currently running tasks.
func (r *taskRepo) GetRunning(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.TaskStatusRunning).
		Order("started_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting running tasks: %w", err)
	}
	return tasks, nil
}

// FindDuplicateActive finds a pending/scheduled/running task for the same
// (kind, target). This backs Enqueue deduplication.
func (r *taskRepo) FindDuplicateActive(ctx context.Context, kind models.TaskKind, target string) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND target = ? AND status IN (?, ?, ?)",
			kind, target,
			models.TaskStatusPending, models.TaskStatusScheduled, models.TaskStatusRunning).
		First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding duplicate task: %w", err)
	}
	return &task, nil
}

// Acquire atomically claims the best ready task: lowest priority value among
// pending tasks whose dependencies are all terminal. Returns nil when no
// task is ready.
func (r *taskRepo) Acquire(ctx context.Context, workerID string) (*models.Task, error) {
	var claimed *models.Task
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []*models.Task
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? OR (status = ? AND next_run_at <= ?))",
				models.TaskStatusPending, models.TaskStatusScheduled, now).
			Where("locked_by IS NULL OR locked_by = ''").
			Order("priority ASC, created_at ASC").
			Limit(acquireCandidates)

		if err := query.Find(&candidates).Error; err != nil {
			return fmt.Errorf("finding ready tasks: %w", err)
		}

		for _, task := range candidates {
			ok, err := depsTerminal(tx, task)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			task.MarkRunning(workerID)
			if err := tx.Save(task).Error; err != nil {
				return fmt.Errorf("claiming task: %w", err)
			}
			claimed = task
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// depsTerminal reports whether every dependency of the task has finished.
func depsTerminal(tx *gorm.DB, task *models.Task) (bool, error) {
	if len(task.DependsOn) == 0 {
		return true, nil
	}
	var open int64
	err := tx.Model(&models.Task{}).
		Where("id IN ?", []string(task.DependsOn)).
		Where("status NOT IN (?, ?, ?)",
			models.TaskStatusSucceeded, models.TaskStatusFailed, models.TaskStatusCancelled).
		Count(&open).Error
	if err != nil {
		return false, fmt.Errorf("checking task dependencies: %w", err)
	}
	return open == 0, nil
}

// Update updates an existing task.
func (r *taskRepo) Update(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// RequestCancel flags a task for cooperative cancellation. A pending or
// scheduled task is cancelled immediately; a running worker observes the
// flag at its next checkpoint.
func (r *taskRepo) RequestCancel(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.Where("id = ?", id).First(&task).Error; err != nil {
			return err
		}
		switch {
		case task.IsPending():
			task.MarkCancelled()
			return tx.Save(&task).Error
		case task.IsRunning():
			return tx.Model(&models.Task{}).Where("id = ?", id).
				UpdateColumn("cancel_requested", true).Error
		default:
			return nil // already terminal
		}
	})
	if err != nil {
		return fmt.Errorf("requesting cancel: %w", err)
	}
	return nil
}

// IsCancelRequested reads the cancel flag for a running task.
func (r *taskRepo) IsCancelRequested(ctx context.Context, id models.ULID) (bool, error) {
	var requested bool
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Pluck("cancel_requested", &requested).Error
	if err != nil {
		return false, fmt.Errorf("reading cancel flag: %w", err)
	}
	return requested, nil
}

// CountByStatus returns task counts grouped by status.
func (r *taskRepo) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	var rows []struct {
		Status models.TaskStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Task{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting tasks by status: %w", err)
	}
	counts := make(map[models.TaskStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteTerminal deletes terminal tasks older than the given time.
func (r *taskRepo) DeleteTerminal(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?, ?) AND completed_at < ?",
			models.TaskStatusSucceeded, models.TaskStatusFailed, models.TaskStatusCancelled, before).
		Delete(&models.Task{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting terminal tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CreateHistory creates a task history record.
func (r *taskRepo) CreateHistory(ctx context.Context, history *models.TaskHistory) error {
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return fmt.Errorf("creating task history: %w", err)
	}
	return nil
}

// GetHistory retrieves task history with pagination.
func (r *taskRepo) GetHistory(ctx context.Context, kind *models.TaskKind, offset, limit int) ([]*models.TaskHistory, int64, error) {
	var history []*models.TaskHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&models.TaskHistory{})
	if kind != nil {
		query = query.Where("kind = ?", *kind)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting task history: %w", err)
	}
	if err := query.Order("completed_at DESC").Offset(offset).Limit(limit).Find(&history).Error; err != nil {
		return nil, 0, fmt.Errorf("getting task history: %w", err)
	}
	return history, total, nil
}

// DeleteHistory deletes history records older than the given time.
func (r *taskRepo) DeleteHistory(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("completed_at < ?", before).
		Delete(&models.TaskHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting task history: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure taskRepo implements TaskRepository at compile time.
var _ TaskRepository = (*taskRepo)(nil)
