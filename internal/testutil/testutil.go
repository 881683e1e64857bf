// Package testutil provides shared helpers for package tests: an in-memory
// catalog with migrations applied and builders for common fixtures.
package testutil

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/database"
	"github.com/mediasift/mediasift/internal/database/migrations"
	"github.com/mediasift/mediasift/internal/models"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewDB opens an in-memory SQLite catalog with all migrations applied.
func NewDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Run(db.DB, Logger()))
	return db
}

// NewFile builds a persisted file row.
func NewFile(t *testing.T, db *database.DB, path string, fileType models.FileType) *models.File {
	t.Helper()
	mtime := models.Now()
	file := &models.File{
		ContentHash: models.NewULID().String(),
		Path:        path,
		Size:        1024,
		Type:        fileType,
		ModTime:     &mtime,
	}
	require.NoError(t, db.DB.Create(file).Error)
	return file
}

// NewTask builds a persisted pending task.
func NewTask(t *testing.T, db *database.DB, kind models.TaskKind, target string) *models.Task {
	t.Helper()
	task := &models.Task{
		Kind:        kind,
		Target:      target,
		Priority:    models.DefaultPriority(models.FileTypeVideo),
		Status:      models.TaskStatusPending,
		MaxAttempts: 3,
	}
	require.NoError(t, db.DB.Create(task).Error)
	return task
}

// NewPerson builds a persisted person with optional aliases.
func NewPerson(t *testing.T, db *database.DB, name string, aliases ...string) *models.Person {
	t.Helper()
	person := &models.Person{Name: name, Aliases: aliases}
	require.NoError(t, db.DB.Create(person).Error)
	return person
}

// Ctx returns a background context for tests.
func Ctx() context.Context {
	return context.Background()
}
