package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mediasift/mediasift/internal/models"
)

// fileRepo implements FileRepository using GORM.
type fileRepo struct {
	db *gorm.DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepo{db: db}
}

// Create creates a new file record.
func (r *fileRepo) Create(ctx context.Context, file *models.File) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	return nil
}

// GetByID retrieves a file by ID.
func (r *fileRepo) GetByID(ctx context.Context, id models.ULID) (*models.File, error) {
	var file models.File
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting file by ID: %w", err)
	}
	return &file, nil
}

// GetByHash retrieves a file by content hash. This is the dedup lookup.
func (r *fileRepo) GetByHash(ctx context.Context, contentHash string) (*models.File, error) {
	var file models.File
	if err := r.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting file by hash: %w", err)
	}
	return &file, nil
}

// GetByPath retrieves the file whose primary path matches. Ref paths are not
// indexed; callers needing those resolve through the hash instead.
func (r *fileRepo) GetByPath(ctx context.Context, path string) (*models.File, error) {
	var file models.File
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting file by path: %w", err)
	}
	return &file, nil
}

// GetByAnyPath retrieves the file known at path, whether as its primary path
// or as one of its ref paths. RefPaths is a JSON text column, so the ref
// lookup matches on the JSON-quoted form.
func (r *fileRepo) GetByAnyPath(ctx context.Context, path string) (*models.File, error) {
	quoted, err := json.Marshal(path)
	if err != nil {
		return nil, fmt.Errorf("quoting path: %w", err)
	}
	var file models.File
	if err := r.db.WithContext(ctx).
		Where("path = ? OR ref_paths LIKE ?", path, "%"+string(quoted)+"%").
		First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting file by any path: %w", err)
	}
	return &file, nil
}

// ListByPathPrefix retrieves files with any known location under prefix. The
// LIKE match can over-select when the prefix contains wildcards; callers
// verify candidate paths themselves.
func (r *fileRepo) ListByPathPrefix(ctx context.Context, prefix string) ([]*models.File, error) {
	var files []*models.File
	if err := r.db.WithContext(ctx).
		Where("path LIKE ? OR ref_paths LIKE ?", prefix+"%", `%"`+prefix+"%").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("listing files by path prefix: %w", err)
	}
	return files, nil
}

// Update updates an existing file record.
func (r *fileRepo) Update(ctx context.Context, file *models.File) error {
	if err := r.db.WithContext(ctx).Save(file).Error; err != nil {
		return fmt.Errorf("updating file: %w", err)
	}
	return nil
}

// Delete deletes a file and its owned segments and vector refs.
func (r *fileRepo) Delete(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", id).Delete(&models.VectorRef{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_id = ?", id).Delete(&models.Segment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_id = ?", id).Delete(&models.PersonFileTag{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.File{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// List retrieves files with optional type filter and pagination.
func (r *fileRepo) List(ctx context.Context, fileType *models.FileType, offset, limit int) ([]*models.File, int64, error) {
	var files []*models.File
	var total int64

	query := r.db.WithContext(ctx).Model(&models.File{})
	if fileType != nil {
		query = query.Where("type = ?", *fileType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting files: %w", err)
	}
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&files).Error; err != nil {
		return nil, 0, fmt.Errorf("listing files: %w", err)
	}
	return files, total, nil
}

// CountByType returns file counts grouped by media type.
func (r *fileRepo) CountByType(ctx context.Context) (map[models.FileType]int64, error) {
	var rows []struct {
		Type  models.FileType
		Count int64
	}
	if err := r.db.WithContext(ctx).Model(&models.File{}).
		Select("type, count(*) as count").Group("type").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting files by type: %w", err)
	}
	counts := make(map[models.FileType]int64, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Count
	}
	return counts, nil
}

// Ensure fileRepo implements FileRepository at compile time.
var _ FileRepository = (*fileRepo)(nil)
