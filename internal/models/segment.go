package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// Modality is the representation channel of a segment. Each modality maps to
// one vector collection and one encoder route.
type Modality string

const (
	// ModalityImage is a whole still image.
	ModalityImage Modality = "image"
	// ModalityVisualFrame is one sampled frame of a video.
	ModalityVisualFrame Modality = "visual_frame"
	// ModalityAudioMusic is a music-classified audio chunk.
	ModalityAudioMusic Modality = "audio_music"
	// ModalityAudioSpeech is a speech-classified audio chunk.
	ModalityAudioSpeech Modality = "audio_speech"
	// ModalityText is a text document or a speech transcription.
	ModalityText Modality = "text"
	// ModalityFace is a reference face embedding for person retrieval.
	ModalityFace Modality = "face"
)

// AllModalities lists every modality with its own vector collection.
var AllModalities = []Modality{
	ModalityImage,
	ModalityVisualFrame,
	ModalityAudioMusic,
	ModalityAudioSpeech,
	ModalityText,
	ModalityFace,
}

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	switch m {
	case ModalityImage, ModalityVisualFrame, ModalityAudioMusic,
		ModalityAudioSpeech, ModalityText, ModalityFace:
		return true
	default:
		return false
	}
}

// Timed reports whether segments of this modality carry meaningful
// timestamps. Image and text segments always sit at [0,0].
func (m Modality) Timed() bool {
	return m == ModalityVisualFrame || m == ModalityAudioMusic || m == ModalityAudioSpeech
}

// Extra is a small opaque JSON document attached to a segment, e.g. the
// transcription for a speech chunk or the scene id for a video frame.
type Extra map[string]any

// Value implements driver.Valuer.
func (e Extra) Value() (driver.Value, error) {
	if len(e) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(map[string]any(e))
	if err != nil {
		return nil, fmt.Errorf("marshaling extra: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (e *Extra) Scan(value any) error {
	if value == nil {
		*e = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for Extra: %T", value)
	}
	if len(data) == 0 {
		*e = nil
		return nil
	}
	return json.Unmarshal(data, (*map[string]any)(e))
}

// GormDataType returns the GORM data type for Extra.
func (Extra) GormDataType() string {
	return "text"
}

// EmbeddingStatus tracks whether a segment's vector made it into the store.
type EmbeddingStatus string

const (
	// EmbeddingPending means the segment has not been encoded yet.
	EmbeddingPending EmbeddingStatus = "pending"
	// EmbeddingStored means the vector is committed to the vector store.
	EmbeddingStored EmbeddingStatus = "stored"
	// EmbeddingFailed means encoding failed after per-item retries.
	EmbeddingFailed EmbeddingStatus = "failed"
)

// Segment is a [start_ms,end_ms] region of a file in one modality. A segment
// owns at most one embedding per modality; (file_id, modality, seq) is unique.
type Segment struct {
	BaseModel

	FileID ULID `gorm:"not null;index;uniqueIndex:idx_segments_file_modality_seq,priority:1" json:"file_id"`

	Modality Modality `gorm:"not null;size:16;index;uniqueIndex:idx_segments_file_modality_seq,priority:2" json:"modality"`

	// Seq is the order of the segment within its modality track.
	Seq int `gorm:"not null;uniqueIndex:idx_segments_file_modality_seq,priority:3" json:"seq"`

	StartMs int64 `gorm:"not null" json:"start_ms"`
	EndMs   int64 `gorm:"not null" json:"end_ms"`

	// Quality in [0,1]; degraded engines and low-confidence decodes score below 1.
	Quality float64 `gorm:"default:1" json:"quality"`

	Extra Extra `json:"extra,omitempty"`

	EmbeddingStatus EmbeddingStatus `gorm:"not null;default:'pending';size:16;index" json:"embedding_status"`
}

// TableName returns the table name for Segment.
func (Segment) TableName() string {
	return "segments"
}

// DurationMs returns the segment window length.
func (s *Segment) DurationMs() int64 {
	return s.EndMs - s.StartMs
}

// MidMs returns the midpoint of the segment window.
func (s *Segment) MidMs() int64 {
	return (s.StartMs + s.EndMs) / 2
}

// Validate performs basic validation on the segment.
func (s *Segment) Validate() error {
	if !s.Modality.Valid() {
		return ErrInvalidModality
	}
	if s.StartMs < 0 || s.EndMs < s.StartMs {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the segment and generates an ID.
func (s *Segment) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the segment before update.
func (s *Segment) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}

// VectorRef maps a vector store entry back to its segment. The vector store
// is derived state; these rows are what make it rebuildable from the catalog.
type VectorRef struct {
	BaseModel

	// VectorID is the id used in the vector store collection.
	VectorID string `gorm:"not null;uniqueIndex;size:64" json:"vector_id"`

	SegmentID ULID `gorm:"not null;index" json:"segment_id"`

	// FileID is denormalized for timestamp resolution without a join.
	FileID ULID `gorm:"not null;index" json:"file_id"`

	Modality Modality `gorm:"not null;size:16;index" json:"modality"`

	// Dim is the embedding dimension, fixed per modality collection.
	Dim int `gorm:"not null" json:"dim"`

	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// TableName returns the table name for VectorRef.
func (VectorRef) TableName() string {
	return "vector_refs"
}
