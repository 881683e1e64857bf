package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mediasift/mediasift/internal/models"
)

// segmentRepo implements SegmentRepository using GORM.
type segmentRepo struct {
	db *gorm.DB
}

// NewSegmentRepository creates a new SegmentRepository.
func NewSegmentRepository(db *gorm.DB) SegmentRepository {
	return &segmentRepo{db: db}
}

// ListByFile returns all segments of a file ordered by modality track and seq.
func (r *segmentRepo) ListByFile(ctx context.Context, fileID models.ULID) ([]*models.Segment, error) {
	var segments []*models.Segment
	if err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("modality ASC, seq ASC").
		Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("listing segments by file: %w", err)
	}
	return segments, nil
}

// ListByFileModality returns one modality track of a file in seq order.
func (r *segmentRepo) ListByFileModality(ctx context.Context, fileID models.ULID, modality models.Modality) ([]*models.Segment, error) {
	var segments []*models.Segment
	if err := r.db.WithContext(ctx).
		Where("file_id = ? AND modality = ?", fileID, modality).
		Order("seq ASC").
		Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("listing segments by modality: %w", err)
	}
	return segments, nil
}

// UpdateEmbeddingStatus flips the embedding status of one segment.
func (r *segmentRepo) UpdateEmbeddingStatus(ctx context.Context, segmentID models.ULID, status models.EmbeddingStatus) error {
	result := r.db.WithContext(ctx).Model(&models.Segment{}).
		Where("id = ?", segmentID).
		UpdateColumn("embedding_status", status)
	if result.Error != nil {
		return fmt.Errorf("updating embedding status: %w", result.Error)
	}
	return nil
}

// ResolveVector maps a vector store id back to its file and timestamp.
func (r *segmentRepo) ResolveVector(ctx context.Context, vectorID string) (*models.VectorRef, error) {
	var ref models.VectorRef
	if err := r.db.WithContext(ctx).Where("vector_id = ?", vectorID).First(&ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving vector: %w", err)
	}
	return &ref, nil
}

// ListVectorRefsByFile returns all vector refs of a file.
func (r *segmentRepo) ListVectorRefsByFile(ctx context.Context, fileID models.ULID) ([]*models.VectorRef, error) {
	var refs []*models.VectorRef
	if err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("modality ASC, start_ms ASC").
		Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("listing vector refs by file: %w", err)
	}
	return refs, nil
}

// CountVectorsByModality returns committed vector counts per modality.
func (r *segmentRepo) CountVectorsByModality(ctx context.Context) (map[models.Modality]int64, error) {
	var rows []struct {
		Modality models.Modality
		Count    int64
	}
	if err := r.db.WithContext(ctx).Model(&models.VectorRef{}).
		Select("modality, count(*) as count").Group("modality").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting vectors by modality: %w", err)
	}
	counts := make(map[models.Modality]int64, len(rows))
	for _, row := range rows {
		counts[row.Modality] = row.Count
	}
	return counts, nil
}

// Ensure segmentRepo implements SegmentRepository at compile time.
var _ SegmentRepository = (*segmentRepo)(nil)
