package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/models"
)

func TestNewFilePersistsFixture(t *testing.T) {
	db := NewDB(t)

	file := NewFile(t, db, "/media/a.jpg", models.FileTypeImage)
	require.NotNil(t, file.ModTime)

	var got models.File
	require.NoError(t, db.DB.First(&got, "id = ?", file.ID).Error)
	assert.Equal(t, models.FileTypeImage, got.Type)
	assert.Equal(t, "/media/a.jpg", got.Path)
	require.NotNil(t, got.ModTime)
}
