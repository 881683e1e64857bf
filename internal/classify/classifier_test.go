package classify

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/models"
)

// pngHeader is a minimal valid PNG signature plus IHDR start.
var pngHeader = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x02, 0x00, 0x00, 0x00,
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestClassifyAgreement(t *testing.T) {
	c := New()
	path := writeFile(t, "photo.png", pngHeader)

	res, err := c.Classify(path)
	require.NoError(t, err)
	assert.Equal(t, models.FileTypeImage, res.Type)
	assert.InDelta(t, ConfidenceAgree, res.Confidence, 1e-9)
	assert.False(t, res.Disagreed)
}

func TestClassifyDisagreementMagicWins(t *testing.T) {
	c := New()
	// PNG bytes behind an audio extension: magic wins, confidence drops.
	path := writeFile(t, "song.mp3", pngHeader)

	res, err := c.Classify(path)
	require.NoError(t, err)
	assert.Equal(t, models.FileTypeImage, res.Type)
	assert.InDelta(t, ConfidenceMagic, res.Confidence, 1e-9)
	assert.True(t, res.Disagreed)
}

func TestClassifyExtensionOnly(t *testing.T) {
	c := New()
	// Binary garbage with no recognizable magic but a text extension.
	path := writeFile(t, "notes.md", []byte("# heading\nplain notes\n"))

	res, err := c.Classify(path)
	require.NoError(t, err)
	assert.Equal(t, models.FileTypeText, res.Type)
	// Plain text is also detected by content, so agreement is acceptable.
	assert.GreaterOrEqual(t, res.Confidence, ConfidenceExtension)
}

func TestClassifyUnknown(t *testing.T) {
	c := New()
	path := writeFile(t, "blob.zzz", []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE})

	res, err := c.Classify(path)
	require.NoError(t, err)
	assert.Equal(t, models.FileTypeUnknown, res.Type)
	assert.InDelta(t, ConfidenceUnknown, res.Confidence, 1e-9)
}

func TestClassifyMissingFile(t *testing.T) {
	c := New()
	_, err := c.Classify(filepath.Join(t.TempDir(), "nope.mp4"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrFileMissing))
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestTypeFromExtension(t *testing.T) {
	tests := []struct {
		path string
		want models.FileType
	}{
		{"a/b/clip.MKV", models.FileTypeVideo},
		{"track.flac", models.FileTypeAudio},
		{"page.html", models.FileTypeText},
		{"dump.gz", models.FileTypeText},
		{"noext", models.FileTypeUnknown},
		{"weird.xyz", models.FileTypeUnknown},
	}
	for _, tt := range tests {
		got, _ := typeFromExtension(tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}
