package contenthash

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SHA-256("hello world")
const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	digest, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, helloDigest, digest)
}

func TestFileStableAcrossPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "nested", "b.bin")
	content := bytes.Repeat([]byte{0xAB, 0xCD}, 4096)

	require.NoError(t, os.WriteFile(a, content, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0o755))
	require.NoError(t, os.WriteFile(b, content, 0o644))

	da, err := File(a)
	require.NoError(t, err)
	db, err := File(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "gone"))
	require.Error(t, err)
	assert.True(t, IsMissing(err))
}

func TestFileNotRegular(t *testing.T) {
	_, err := File(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRegular)
}

func TestReaderMatchesBytes(t *testing.T) {
	content := strings.Repeat("mediasift", 100000)
	digest, err := Reader(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, Bytes([]byte(content)), digest)
	assert.Len(t, digest, 64)
}
