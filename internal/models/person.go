package models

import (
	"strings"

	"gorm.io/gorm"
)

// Person is an identity for face-tagged retrieval. Reference face embeddings
// live in the vector store under the face collection; the rows here only
// carry names and aliases for query-time matching.
type Person struct {
	BaseModel

	Name string `gorm:"not null;uniqueIndex;size:255" json:"name"`

	Aliases StringList `json:"aliases,omitempty"`

	// FaceCount is the number of registered reference face embeddings.
	FaceCount int `gorm:"default:0" json:"face_count"`
}

// TableName returns the table name for Person.
func (Person) TableName() string {
	return "persons"
}

// Matches reports whether token equals the person's name or any alias,
// case-insensitively.
func (p *Person) Matches(token string) bool {
	if strings.EqualFold(p.Name, token) {
		return true
	}
	for _, a := range p.Aliases {
		if strings.EqualFold(a, token) {
			return true
		}
	}
	return false
}

// Validate performs basic validation on the person.
func (p *Person) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrPersonNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the person and generates an ID.
func (p *Person) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// PersonFileTag links a person to a file they appear in. Populated when a
// face vector for the person matches a file's visual segments.
type PersonFileTag struct {
	BaseModel

	PersonID ULID `gorm:"not null;index;uniqueIndex:idx_person_file,priority:1" json:"person_id"`
	FileID   ULID `gorm:"not null;index;uniqueIndex:idx_person_file,priority:2" json:"file_id"`

	// Confidence of the best face match that produced this tag.
	Confidence float64 `json:"confidence"`
}

// TableName returns the table name for PersonFileTag.
func (PersonFileTag) TableName() string {
	return "person_file_tags"
}
