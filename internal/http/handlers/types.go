// Package handlers provides the HTTP API handlers for mediasift.
package handlers

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediasift/mediasift/internal/models"
)

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

// TaskResponse represents a task in API responses.
type TaskResponse struct {
	ID              models.ULID       `json:"id"`
	Kind            models.TaskKind   `json:"kind"`
	Target          string            `json:"target"`
	Priority        int               `json:"priority"`
	Status          models.TaskStatus `json:"status"`
	Attempts        int               `json:"attempts"`
	MaxAttempts     int               `json:"max_attempts"`
	CreatedAt       models.Time       `json:"created_at"`
	StartedAt       *models.Time      `json:"started_at,omitempty"`
	CompletedAt     *models.Time      `json:"completed_at,omitempty"`
	NextRunAt       *models.Time      `json:"next_run_at,omitempty"`
	DurationMs      int64             `json:"duration_ms,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	ErrorKind       models.ErrorKind  `json:"error_kind,omitempty"`
	Result          string            `json:"result,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
}

// TaskFromModel converts a task to a response.
func TaskFromModel(t *models.Task) TaskResponse {
	return TaskResponse{
		ID:              t.ID,
		Kind:            t.Kind,
		Target:          t.Target,
		Priority:        t.Priority,
		Status:          t.Status,
		Attempts:        t.Attempts,
		MaxAttempts:     t.MaxAttempts,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
		NextRunAt:       t.NextRunAt,
		DurationMs:      t.DurationMs,
		LastError:       t.LastError,
		ErrorKind:       t.ErrorKind,
		Result:          t.Result,
		CancelRequested: t.CancelRequested,
	}
}

// TaskHistoryResponse represents a terminal task attempt.
type TaskHistoryResponse struct {
	ID            models.ULID       `json:"id"`
	TaskID        models.ULID       `json:"task_id"`
	Kind          models.TaskKind   `json:"kind"`
	Target        string            `json:"target"`
	Status        models.TaskStatus `json:"status"`
	StartedAt     *models.Time      `json:"started_at,omitempty"`
	CompletedAt   *models.Time      `json:"completed_at,omitempty"`
	DurationMs    int64             `json:"duration_ms,omitempty"`
	AttemptNumber int               `json:"attempt_number"`
	Error         string            `json:"error,omitempty"`
	Result        string            `json:"result,omitempty"`
}

// TaskHistoryFromModel converts a history record to a response.
func TaskHistoryFromModel(h *models.TaskHistory) TaskHistoryResponse {
	return TaskHistoryResponse{
		ID:            h.ID,
		TaskID:        h.TaskID,
		Kind:          h.Kind,
		Target:        h.Target,
		Status:        h.Status,
		StartedAt:     h.StartedAt,
		CompletedAt:   h.CompletedAt,
		DurationMs:    h.DurationMs,
		AttemptNumber: h.AttemptNumber,
		Error:         h.Error,
		Result:        h.Result,
	}
}

// PersonResponse represents a person in API responses.
type PersonResponse struct {
	ID        models.ULID `json:"id"`
	Name      string      `json:"name"`
	Aliases   []string    `json:"aliases,omitempty"`
	FaceCount int         `json:"face_count"`
}

// PersonFromModel converts a person to a response.
func PersonFromModel(p *models.Person) PersonResponse {
	return PersonResponse{
		ID:        p.ID,
		Name:      p.Name,
		Aliases:   p.Aliases,
		FaceCount: p.FaceCount,
	}
}

// FileResponse represents a cataloged file in API responses.
type FileResponse struct {
	ID          models.ULID     `json:"id"`
	Path        string          `json:"path"`
	RefPaths    []string        `json:"ref_paths,omitempty"`
	ContentHash string          `json:"content_hash"`
	Size        int64           `json:"size"`
	Type        models.FileType `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	CreatedAt   models.Time     `json:"created_at"`
}

// FileFromModel converts a file to a response.
func FileFromModel(f *models.File) FileResponse {
	return FileResponse{
		ID:          f.ID,
		Path:        f.Path,
		RefPaths:    f.RefPaths,
		ContentHash: f.ContentHash,
		Size:        f.Size,
		Type:        f.Type,
		Subtype:     f.Subtype,
		DurationMs:  f.DurationMs,
		CreatedAt:   f.CreatedAt,
	}
}

// apiError maps a taxonomy-classified error to an HTTP status. Input errors
// about missing entities become 404s; everything else follows the kind.
func apiError(err error, msg string) error {
	switch models.KindOf(err) {
	case models.ErrKindInput:
		text := err.Error()
		if strings.Contains(text, "not found") || strings.Contains(text, "unknown person") {
			return huma.Error404NotFound(text)
		}
		return huma.Error400BadRequest(text)
	case models.ErrKindDecode:
		return huma.Error422UnprocessableEntity(msg, err)
	case models.ErrKindModel:
		return huma.Error503ServiceUnavailable(msg, err)
	case models.ErrKindCancelled:
		return huma.Error409Conflict(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
