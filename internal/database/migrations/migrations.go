// Package migrations provides catalog schema migration management.
// It uses GORM's AutoMigrate with a migration registry to track versions.
package migrations

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/mediasift/mediasift/internal/models"
)

// Migration represents a single database migration.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
}

// MigrationRecord tracks applied migrations in the database.
type MigrationRecord struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for migration records.
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// All returns the registered migrations in order.
func All() []Migration {
	return []Migration{
		{
			Version:     "001_initial_schema",
			Description: "files, segments, vector refs, tasks, task history, persons",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&models.File{},
					&models.Segment{},
					&models.VectorRef{},
					&models.Task{},
					&models.TaskHistory{},
					&models.Person{},
					&models.PersonFileTag{},
				)
			},
		},
	}
}

// Run applies all pending migrations in version order.
func Run(db *gorm.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := db.AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var applied []MigrationRecord
	if err := db.Find(&applied).Error; err != nil {
		return fmt.Errorf("loading applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}

	migrations := All()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		logger.Info("applying migration",
			slog.String("version", m.Version),
			slog.String("description", m.Description))

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:     m.Version,
				Description: m.Description,
				AppliedAt:   time.Now(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
	}

	return nil
}
