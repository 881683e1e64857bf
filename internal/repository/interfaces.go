// Package repository provides data access for catalog entities.
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mediasift/mediasift/internal/models"
)

// FileRepository manages File rows keyed by content hash.
type FileRepository interface {
	Create(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id models.ULID) (*models.File, error)
	GetByHash(ctx context.Context, contentHash string) (*models.File, error)
	GetByPath(ctx context.Context, path string) (*models.File, error)
	GetByAnyPath(ctx context.Context, path string) (*models.File, error)
	ListByPathPrefix(ctx context.Context, prefix string) ([]*models.File, error)
	Update(ctx context.Context, file *models.File) error
	Delete(ctx context.Context, id models.ULID) error
	List(ctx context.Context, fileType *models.FileType, offset, limit int) ([]*models.File, int64, error)
	CountByType(ctx context.Context) (map[models.FileType]int64, error)
}

// SegmentRepository manages Segment and VectorRef rows.
type SegmentRepository interface {
	ListByFile(ctx context.Context, fileID models.ULID) ([]*models.Segment, error)
	ListByFileModality(ctx context.Context, fileID models.ULID, modality models.Modality) ([]*models.Segment, error)
	UpdateEmbeddingStatus(ctx context.Context, segmentID models.ULID, status models.EmbeddingStatus) error
	ResolveVector(ctx context.Context, vectorID string) (*models.VectorRef, error)
	ListVectorRefsByFile(ctx context.Context, fileID models.ULID) ([]*models.VectorRef, error)
	CountVectorsByModality(ctx context.Context) (map[models.Modality]int64, error)
}

// TaskRepository is the durable priority queue backing store.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	List(ctx context.Context, status *models.TaskStatus, kind *models.TaskKind, limit int) ([]*models.Task, error)
	GetRunning(ctx context.Context) ([]*models.Task, error)
	FindDuplicateActive(ctx context.Context, kind models.TaskKind, target string) (*models.Task, error)
	Acquire(ctx context.Context, workerID string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	RequestCancel(ctx context.Context, id models.ULID) error
	IsCancelRequested(ctx context.Context, id models.ULID) (bool, error)
	CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)
	DeleteTerminal(ctx context.Context, before time.Time) (int64, error)
	CreateHistory(ctx context.Context, history *models.TaskHistory) error
	GetHistory(ctx context.Context, kind *models.TaskKind, offset, limit int) ([]*models.TaskHistory, int64, error)
	DeleteHistory(ctx context.Context, before time.Time) (int64, error)
}

// PersonRepository manages Person rows and person/file tags.
type PersonRepository interface {
	Create(ctx context.Context, person *models.Person) error
	GetByID(ctx context.Context, id models.ULID) (*models.Person, error)
	GetByNameOrAlias(ctx context.Context, name string) (*models.Person, error)
	ListAll(ctx context.Context) ([]*models.Person, error)
	Update(ctx context.Context, person *models.Person) error
	Tag(ctx context.Context, tag *models.PersonFileTag) error
	FilesContaining(ctx context.Context, personID models.ULID) ([]models.ULID, error)
}

// TxProvider hands a request-scoped transaction to ingest commits.
type TxProvider interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}
