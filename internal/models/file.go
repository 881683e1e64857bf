package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// FileType is the coarse media class assigned by the classifier.
type FileType string

const (
	// FileTypeImage is a still image (jpeg, png, webp, ...).
	FileTypeImage FileType = "image"
	// FileTypeVideo is a video container with at least one video stream.
	FileTypeVideo FileType = "video"
	// FileTypeAudio is an audio-only file.
	FileTypeAudio FileType = "audio"
	// FileTypeText is a plain-text document.
	FileTypeText FileType = "text"
	// FileTypeUnknown is anything the classifier could not place.
	FileTypeUnknown FileType = "unknown"
)

// Indexable returns true if files of this type produce segments.
func (t FileType) Indexable() bool {
	switch t {
	case FileTypeImage, FileTypeVideo, FileTypeAudio, FileTypeText:
		return true
	default:
		return false
	}
}

// StringList stores a JSON-encoded list of strings in a single column.
// Used for File.RefPaths and Person.Aliases.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshaling string list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

// GormDataType returns the GORM data type for StringList.
func (StringList) GormDataType() string {
	return "text"
}

// Contains reports whether s is present in the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// File is one record per distinct content hash. Re-ingesting the same bytes
// at a new location adds the location to RefPaths instead of creating a row.
type File struct {
	BaseModel

	// ContentHash is the hex SHA-256 digest of the file bytes.
	ContentHash string `gorm:"not null;uniqueIndex;size:64" json:"content_hash"`

	// Path is the location the file was first ingested from.
	Path string `gorm:"not null;size:4096;index" json:"path"`

	// RefPaths holds additional known locations for the same hash.
	RefPaths StringList `json:"ref_paths,omitempty"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// Type is the classified media type.
	Type FileType `gorm:"not null;size:16;index" json:"file_type"`

	// Subtype is the finer classification (e.g. "mp4", "flac").
	Subtype string `gorm:"size:64" json:"subtype,omitempty"`

	// ModTime is the source file's modification time at ingest.
	ModTime *Time `json:"mtime,omitempty"`

	// DurationMs is the media duration; zero for images and text.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// Segments are owned by the file and removed with it.
	Segments []Segment `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// AllPaths returns every known location of the file, primary path first.
func (f *File) AllPaths() []string {
	paths := make([]string, 0, len(f.RefPaths)+1)
	paths = append(paths, f.Path)
	for _, p := range f.RefPaths {
		if p != f.Path {
			paths = append(paths, p)
		}
	}
	return paths
}

// AddRefPath records an additional location for the file's content.
// Returns true if the path was not already known.
func (f *File) AddRefPath(path string) bool {
	if path == f.Path || f.RefPaths.Contains(path) {
		return false
	}
	f.RefPaths = append(f.RefPaths, path)
	return true
}

// RemovePath forgets one location. Returns the number of locations left;
// the caller deletes the file record when it reaches zero.
func (f *File) RemovePath(path string) int {
	if f.Path == path {
		if len(f.RefPaths) > 0 {
			f.Path = f.RefPaths[0]
			f.RefPaths = f.RefPaths[1:]
		} else {
			f.Path = ""
		}
	} else {
		kept := f.RefPaths[:0]
		for _, p := range f.RefPaths {
			if p != path {
				kept = append(kept, p)
			}
		}
		f.RefPaths = kept
	}
	n := len(f.RefPaths)
	if f.Path != "" {
		n++
	}
	return n
}

// Validate performs basic validation on the file.
func (f *File) Validate() error {
	if f.ContentHash == "" {
		return ErrContentHashRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the file and generates an ID.
func (f *File) BeforeCreate(tx *gorm.DB) error {
	if err := f.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return f.Validate()
}
