package media

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/mediasift/mediasift/internal/models"
)

const (
	// maxTextBytes caps decompressed text; beyond this the tail is dropped.
	maxTextBytes = 16 << 20

	// textChunkRunes is the target chunk length; chunks break on paragraph
	// boundaries when one falls inside the window.
	textChunkRunes   = 2000
	textChunkOverlap = 200
)

// LoadText reads a text file, transparently decompressing gzip, bzip2, xz
// and brotli by extension, then decodes it to UTF-8 using the configured
// encoding candidates.
func LoadText(path string, encodings []string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", models.WrapKind(models.ErrKindInput,
				fmt.Errorf("%w: %s", models.ErrFileMissing, path))
		}
		return "", models.WrapKind(models.ErrKindInput, fmt.Errorf("opening %s: %w", path, err))
	}
	defer f.Close()

	var reader io.Reader = f
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", decodeErr(path, err)
		}
		defer gz.Close()
		reader = gz
	case ".bz2":
		bz, err := bzip2.NewReader(f, nil)
		if err != nil {
			return "", decodeErr(path, err)
		}
		defer bz.Close()
		reader = bz
	case ".xz":
		xzr, err := xz.NewReader(f)
		if err != nil {
			return "", decodeErr(path, err)
		}
		reader = xzr
	case ".br":
		reader = brotli.NewReader(f)
	}

	raw, err := io.ReadAll(io.LimitReader(reader, maxTextBytes))
	if err != nil {
		return "", decodeErr(path, err)
	}

	return DecodeText(raw, encodings)
}

// DecodeText converts raw bytes to a UTF-8 string. Valid UTF-8 passes
// through; otherwise each candidate encoding is tried in order and the
// first that decodes to valid UTF-8 wins.
func DecodeText(raw []byte, encodings []string) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM

	if utf8.Valid(raw) {
		return string(raw), nil
	}

	for _, name := range encodings {
		enc, err := htmlindex.Get(name)
		if err != nil {
			continue
		}
		// The utf-8 decoder substitutes U+FFFD for invalid bytes instead of
		// failing; the fast path above already ruled valid UTF-8 out, so a
		// utf-8 candidate here would only corrupt and mask later candidates.
		if canonical, err := htmlindex.Name(enc); err == nil && canonical == "utf-8" {
			continue
		}
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			continue
		}
		if utf8.Valid(decoded) {
			return string(decoded), nil
		}
	}

	return "", models.WrapKind(models.ErrKindDecode,
		fmt.Errorf("%w: undecodable text content", models.ErrDecodeFailed))
}

// ChunkText splits text into overlapping chunks, preferring paragraph
// boundaries. Empty input yields no chunks.
func ChunkText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= textChunkRunes {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + textChunkRunes
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}

		// Break on the last paragraph or sentence boundary in the window.
		cut := end
		for i := end; i > start+textChunkRunes/2; i-- {
			if runes[i-1] == '\n' || runes[i-1] == '.' {
				cut = i
				break
			}
		}

		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := cut - textChunkOverlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

func decodeErr(path string, err error) error {
	return models.WrapKind(models.ErrKindDecode,
		fmt.Errorf("%w: %s: %v", models.ErrDecodeFailed, path, err))
}
