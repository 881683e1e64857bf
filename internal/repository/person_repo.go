package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/mediasift/mediasift/internal/models"
)

// personRepo implements PersonRepository using GORM.
type personRepo struct {
	db *gorm.DB
}

// NewPersonRepository creates a new PersonRepository.
func NewPersonRepository(db *gorm.DB) PersonRepository {
	return &personRepo{db: db}
}

// Create creates a new person.
func (r *personRepo) Create(ctx context.Context, person *models.Person) error {
	if err := r.db.WithContext(ctx).Create(person).Error; err != nil {
		return fmt.Errorf("creating person: %w", err)
	}
	return nil
}

// GetByID retrieves a person by ID.
func (r *personRepo) GetByID(ctx context.Context, id models.ULID) (*models.Person, error) {
	var person models.Person
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&person).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting person by ID: %w", err)
	}
	return &person, nil
}

// GetByNameOrAlias resolves a person by exact name or any alias,
// case-insensitively. Aliases are JSON-encoded, so the alias match happens
// in Go over the (small) person list.
func (r *personRepo) GetByNameOrAlias(ctx context.Context, name string) (*models.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	var person models.Person
	err := r.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).First(&person).Error
	if err == nil {
		return &person, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("getting person by name: %w", err)
	}

	persons, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range persons {
		if p.Matches(name) {
			return p, nil
		}
	}
	return nil, nil
}

// ListAll retrieves all persons.
func (r *personRepo) ListAll(ctx context.Context) ([]*models.Person, error) {
	var persons []*models.Person
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&persons).Error; err != nil {
		return nil, fmt.Errorf("listing persons: %w", err)
	}
	return persons, nil
}

// Update updates an existing person.
func (r *personRepo) Update(ctx context.Context, person *models.Person) error {
	if err := r.db.WithContext(ctx).Save(person).Error; err != nil {
		return fmt.Errorf("updating person: %w", err)
	}
	return nil
}

// Tag records that a person appears in a file, keeping the best confidence.
func (r *personRepo) Tag(ctx context.Context, tag *models.PersonFileTag) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PersonFileTag
		err := tx.Where("person_id = ? AND file_id = ?", tag.PersonID, tag.FileID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(tag).Error
		}
		if err != nil {
			return err
		}
		if tag.Confidence > existing.Confidence {
			existing.Confidence = tag.Confidence
			return tx.Save(&existing).Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tagging person in file: %w", err)
	}
	return nil
}

// FilesContaining returns the ids of files a person is tagged in.
func (r *personRepo) FilesContaining(ctx context.Context, personID models.ULID) ([]models.ULID, error) {
	var ids []models.ULID
	if err := r.db.WithContext(ctx).Model(&models.PersonFileTag{}).
		Where("person_id = ?", personID).
		Order("confidence DESC").
		Pluck("file_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing files containing person: %w", err)
	}
	return ids, nil
}

// Ensure personRepo implements PersonRepository at compile time.
var _ PersonRepository = (*personRepo)(nil)
