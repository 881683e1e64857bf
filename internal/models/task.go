package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskKind represents the type of ingestion work to execute.
type TaskKind string

const (
	// TaskKindScanDir walks a directory and enqueues ingest tasks for its files.
	TaskKindScanDir TaskKind = "scan_dir"
	// TaskKindIngestFile runs the full classify/hash/decompose/encode pipeline
	// for one file.
	TaskKindIngestFile TaskKind = "ingest_file"
	// TaskKindReindex re-derives vectors for an already-cataloged file.
	TaskKindReindex TaskKind = "reindex"
	// TaskKindRemovePath forgets one filesystem location; the file record and
	// its vectors go with it once no locations remain.
	TaskKindRemovePath TaskKind = "remove_path"
)

// TaskStatus represents the current status of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be executed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusScheduled indicates the task is backed off until NextRunAt.
	TaskStatusScheduled TaskStatus = "scheduled"
	// TaskStatusRunning indicates the task is currently executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task completed successfully. Terminal.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed. Re-enters pending only via
	// explicit retry scheduling that bumps the attempt count.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible without an
// explicit retry.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCancelled
}

// DefaultPriority returns the queue priority for a file type.
// Smaller values run sooner.
func DefaultPriority(t FileType) int {
	switch t {
	case FileTypeVideo:
		return 1
	case FileTypeAudio:
		return 2
	case FileTypeImage:
		return 5
	case FileTypeText:
		return 7
	default:
		return 9
	}
}

// Task is a durable unit of ingestion work. Tasks deduplicate on
// (kind, target) while pending or running.
type Task struct {
	BaseModel

	// Kind indicates what kind of work this is.
	Kind TaskKind `gorm:"not null;size:20;index;uniqueIndex:idx_tasks_kind_target,priority:1" json:"kind"`

	// Target is the filesystem path the task operates on.
	Target string `gorm:"not null;size:4096;uniqueIndex:idx_tasks_kind_target,priority:2" json:"target"`

	// Active disambiguates the dedup index: 1 while pending/scheduled/running,
	// NULL once terminal so finished tasks never block a re-enqueue.
	Active *int16 `gorm:"uniqueIndex:idx_tasks_kind_target,priority:3" json:"-"`

	// Priority determines execution order; smaller values are taken first.
	Priority int `gorm:"default:5;index" json:"priority"`

	Status TaskStatus `gorm:"not null;default:'pending';size:16;index" json:"status"`

	// DependsOn lists task ids that must reach a terminal status first.
	DependsOn StringList `json:"depends_on,omitempty"`

	// Params carries kind-specific options, e.g. {"recursive": false} for a
	// scan_dir task.
	Params Extra `json:"params,omitempty"`

	// NextRunAt delays scheduled (backed-off) tasks.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`

	// DurationMs is the execution duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// Attempts counts how many times this task has been started.
	Attempts int `gorm:"default:0" json:"attempts"`

	// MaxAttempts caps retries; a failure at the cap is terminal.
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffSeconds is the initial retry backoff; it doubles per attempt.
	BackoffSeconds int `gorm:"default:30" json:"backoff_seconds"`

	// LastError holds the message from the most recent failure.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// ErrorKind classifies LastError per the error taxonomy.
	ErrorKind ErrorKind `gorm:"size:16" json:"error_kind,omitempty"`

	// Result holds a short human-readable summary, e.g. "dedup" or
	// "partial_success: audio track unreadable".
	Result string `gorm:"size:4096" json:"result,omitempty"`

	// CancelRequested asks a running worker to stop at the next checkpoint.
	CancelRequested bool `gorm:"default:false" json:"cancel_requested,omitempty"`

	// LockedBy is the worker ID that claimed the task.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`
	LockedAt *Time  `json:"locked_at,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// activeMarker is stored in Task.Active for non-terminal tasks.
var activeMarker int16 = 1

// IsPending returns true if the task is eligible for execution now or later.
func (t *Task) IsPending() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusScheduled
}

// IsRunning returns true if the task is currently executing.
func (t *Task) IsRunning() bool {
	return t.Status == TaskStatusRunning
}

// CanRetry returns true if a failed task has attempts left.
func (t *Task) CanRetry() bool {
	return t.Status == TaskStatusFailed && t.Attempts < t.MaxAttempts
}

// MarkRunning claims the task for a worker and bumps the attempt count.
func (t *Task) MarkRunning(workerID string) {
	t.Status = TaskStatusRunning
	now := Now()
	t.StartedAt = &now
	t.LockedBy = workerID
	t.LockedAt = &now
	t.Attempts++
	t.LastError = ""
	t.ErrorKind = ""
	t.Active = &activeMarker
}

// MarkSucceeded marks the task as succeeded with a result summary.
func (t *Task) MarkSucceeded(result string) {
	t.Status = TaskStatusSucceeded
	now := Now()
	t.CompletedAt = &now
	t.Result = result
	t.LastError = ""
	t.ErrorKind = ""
	if t.StartedAt != nil {
		t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
	}
	t.releaseLock()
}

// MarkFailed marks the task as failed and records the error taxonomy kind.
func (t *Task) MarkFailed(err error) {
	t.Status = TaskStatusFailed
	now := Now()
	t.CompletedAt = &now
	if err != nil {
		t.LastError = err.Error()
		t.ErrorKind = KindOf(err)
	}
	if t.StartedAt != nil {
		t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
	}
	t.releaseLock()
}

// MarkCancelled marks the task as cancelled.
func (t *Task) MarkCancelled() {
	t.Status = TaskStatusCancelled
	now := Now()
	t.CompletedAt = &now
	t.ErrorKind = ErrKindCancelled
	t.releaseLock()
}

func (t *Task) releaseLock() {
	t.LockedBy = ""
	t.LockedAt = nil
	if t.Status.IsTerminal() {
		t.Active = nil
	} else {
		t.Active = &activeMarker
	}
}

// NextBackoff returns the retry delay: base * 2^(attempts-1), capped at 15m.
func (t *Task) NextBackoff() time.Duration {
	base := t.BackoffSeconds
	if base <= 0 {
		base = 30
	}
	attempts := t.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		attempts = 16
	}
	secs := base * (1 << (attempts - 1))
	const maxBackoffSecs = 15 * 60
	if secs > maxBackoffSecs {
		secs = maxBackoffSecs
	}
	return time.Duration(secs) * time.Second
}

// ScheduleRetry moves a retryable failed task back into the queue with
// exponential backoff.
func (t *Task) ScheduleRetry() {
	if !t.CanRetry() {
		return
	}
	next := Now().Add(t.NextBackoff())
	t.NextRunAt = &next
	t.Status = TaskStatusScheduled
	t.CompletedAt = nil
	t.releaseLock()
}

// ParamBool reads a boolean task parameter, returning def when unset.
func (t *Task) ParamBool(key string, def bool) bool {
	if v, ok := t.Params[key].(bool); ok {
		return v
	}
	return def
}

// Validate performs basic validation on the task.
func (t *Task) Validate() error {
	if t.Kind == "" {
		return ErrTaskKindRequired
	}
	if t.Target == "" {
		return ErrTargetRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the task and generates an ID.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if t.Active == nil && !t.Status.IsTerminal() {
		t.Active = &activeMarker
	}
	return t.Validate()
}

// BeforeUpdate is a GORM hook that validates the task before update.
func (t *Task) BeforeUpdate(tx *gorm.DB) error {
	return t.Validate()
}

// TaskHistory stores one record per terminal task attempt, kept separate from
// the live queue table so the queue stays small.
type TaskHistory struct {
	BaseModel

	TaskID ULID `gorm:"not null;index" json:"task_id"`

	Kind   TaskKind `gorm:"not null;size:20;index" json:"kind"`
	Target string   `gorm:"size:4096" json:"target"`

	Status TaskStatus `gorm:"not null;size:16" json:"status"`

	StartedAt   *Time `gorm:"index" json:"started_at,omitempty"`
	CompletedAt *Time `gorm:"index" json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	// AttemptNumber is which attempt this was (1 = first attempt).
	AttemptNumber int `json:"attempt_number"`

	Error  string `gorm:"size:4096" json:"error,omitempty"`
	Result string `gorm:"size:4096" json:"result,omitempty"`
}

// TableName returns the table name for TaskHistory.
func (TaskHistory) TableName() string {
	return "task_history"
}

// HistoryFrom builds a history record from a terminal task.
func HistoryFrom(t *Task) *TaskHistory {
	return &TaskHistory{
		TaskID:        t.ID,
		Kind:          t.Kind,
		Target:        t.Target,
		Status:        t.Status,
		StartedAt:     t.StartedAt,
		CompletedAt:   t.CompletedAt,
		DurationMs:    t.DurationMs,
		AttemptNumber: t.Attempts,
		Error:         t.LastError,
		Result:        t.Result,
	}
}
