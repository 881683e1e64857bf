// Package classify assigns a media type to a file using its extension and
// its magic bytes, with disagreement-weighted confidence.
package classify

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mediasift/mediasift/internal/models"
)

// Confidence levels per agreement outcome.
const (
	// ConfidenceAgree applies when extension and magic bytes agree.
	ConfidenceAgree = 0.95
	// ConfidenceMagic applies when magic bytes are known but disagree with
	// the extension; magic wins.
	ConfidenceMagic = 0.8
	// ConfidenceExtension applies when only the extension is known.
	ConfidenceExtension = 0.7
	// ConfidenceUnknown applies when neither signal resolves.
	ConfidenceUnknown = 0.3
)

// sniffLimit caps how many leading bytes the magic detector reads.
const sniffLimit = 3072

// The limit lives in mimetype's package state, so it is configured once at
// init rather than on every Classify call.
func init() {
	mimetype.SetLimit(sniffLimit)
}

// Result is the classification outcome for one file.
type Result struct {
	Type       models.FileType
	Subtype    string
	Confidence float64
	// Disagreed is set when extension and magic bytes resolved to different
	// types; the magic-byte type is reported.
	Disagreed bool
}

// extTable maps lowercase extensions (without dot) to media types.
var extTable = map[string]models.FileType{
	"jpg": models.FileTypeImage, "jpeg": models.FileTypeImage,
	"png": models.FileTypeImage, "gif": models.FileTypeImage,
	"webp": models.FileTypeImage, "bmp": models.FileTypeImage,
	"tif": models.FileTypeImage, "tiff": models.FileTypeImage,
	"heic": models.FileTypeImage,

	"mp4": models.FileTypeVideo, "mkv": models.FileTypeVideo,
	"mov": models.FileTypeVideo, "avi": models.FileTypeVideo,
	"webm": models.FileTypeVideo, "m4v": models.FileTypeVideo,
	"ts": models.FileTypeVideo, "flv": models.FileTypeVideo,
	"wmv": models.FileTypeVideo, "mpg": models.FileTypeVideo,
	"mpeg": models.FileTypeVideo,

	"mp3": models.FileTypeAudio, "flac": models.FileTypeAudio,
	"wav": models.FileTypeAudio, "ogg": models.FileTypeAudio,
	"oga": models.FileTypeAudio, "m4a": models.FileTypeAudio,
	"aac": models.FileTypeAudio, "opus": models.FileTypeAudio,
	"wma": models.FileTypeAudio, "aiff": models.FileTypeAudio,

	"txt": models.FileTypeText, "md": models.FileTypeText,
	"rst": models.FileTypeText, "log": models.FileTypeText,
	"srt": models.FileTypeText, "vtt": models.FileTypeText,
	"csv": models.FileTypeText, "json": models.FileTypeText,
	"xml": models.FileTypeText, "html": models.FileTypeText,
	"htm": models.FileTypeText, "yaml": models.FileTypeText,
	"yml": models.FileTypeText,

	// Compressed text still decomposes as text after decompression.
	"gz": models.FileTypeText, "bz2": models.FileTypeText,
	"xz": models.FileTypeText, "br": models.FileTypeText,
}

// Classifier maps a path to a media type. Pure apart from a small read of
// the file head.
type Classifier struct{}

// New creates a Classifier.
func New() *Classifier {
	return &Classifier{}
}

// Classify inspects path and returns its media type with confidence.
func (c *Classifier) Classify(path string) (Result, error) {
	tExt, extSub := typeFromExtension(path)

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, models.WrapKind(models.ErrKindInput,
				fmt.Errorf("%w: %s", models.ErrFileMissing, path))
		}
		return Result{}, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("reading %s: %w", path, err))
	}
	tMagic, magicSub := typeFromMIME(mt)

	switch {
	case tMagic != models.FileTypeUnknown && tMagic == tExt:
		return Result{Type: tMagic, Subtype: magicSub, Confidence: ConfidenceAgree}, nil
	case tMagic != models.FileTypeUnknown && tExt != models.FileTypeUnknown:
		// Magic is the stronger signal; record the disagreement.
		return Result{Type: tMagic, Subtype: magicSub, Confidence: ConfidenceMagic, Disagreed: true}, nil
	case tMagic != models.FileTypeUnknown:
		return Result{Type: tMagic, Subtype: magicSub, Confidence: ConfidenceMagic}, nil
	case tExt != models.FileTypeUnknown:
		return Result{Type: tExt, Subtype: extSub, Confidence: ConfidenceExtension}, nil
	default:
		return Result{Type: models.FileTypeUnknown, Confidence: ConfidenceUnknown}, nil
	}
}

// TypeFromPath resolves the media type from the extension alone, without
// touching the file. Directory scans use it to filter and prioritize
// candidates before the full classifier runs at ingest.
func TypeFromPath(path string) models.FileType {
	t, _ := typeFromExtension(path)
	return t
}

// typeFromExtension resolves the extension table entry for path.
func typeFromExtension(path string) (models.FileType, string) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return models.FileTypeUnknown, ""
	}
	if t, ok := extTable[ext]; ok {
		return t, ext
	}
	return models.FileTypeUnknown, ""
}

// typeFromMIME maps a detected MIME type to a media type.
func typeFromMIME(mt *mimetype.MIME) (models.FileType, string) {
	if mt == nil {
		return models.FileTypeUnknown, ""
	}
	mime := mt.String()
	sub := strings.TrimPrefix(filepath.Ext(mt.Extension()), ".")

	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.FileTypeImage, sub
	case strings.HasPrefix(mime, "video/"):
		return models.FileTypeVideo, sub
	case strings.HasPrefix(mime, "audio/"):
		return models.FileTypeAudio, sub
	case strings.HasPrefix(mime, "text/"):
		return models.FileTypeText, sub
	case mime == "application/json" || mime == "application/xml":
		return models.FileTypeText, sub
	case mime == "application/gzip" || mime == "application/x-bzip2" ||
		mime == "application/x-xz" || mime == "application/x-brotli":
		return models.FileTypeText, sub
	default:
		return models.FileTypeUnknown, ""
	}
}
