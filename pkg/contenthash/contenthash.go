// Package contenthash computes stable content digests for files. The digest
// is the canonical identity of a file; two files with equal digests are the
// same content regardless of path.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// copyBufSize is the streaming read buffer. Large enough to keep syscall
// count low on multi-GB media without holding meaningful memory.
const copyBufSize = 1 << 20

// ErrNotRegular is returned when the path exists but is not a regular file.
var ErrNotRegular = errors.New("not a regular file")

// File streams the file at path through SHA-256 and returns the lowercase
// hex digest. The file is never loaded into memory at once.
func File(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegular, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return Reader(f)
}

// Reader hashes everything remaining in r and returns the lowercase hex
// digest.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes hashes an in-memory buffer. Used for small derived artifacts.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IsMissing reports whether the error from File means the path is gone.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
