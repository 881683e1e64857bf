package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for retry policy and API error codes.
// The kind decides whether a task is retried, surfaced, or treated as a bug.
type ErrorKind string

const (
	// ErrKindInput is a caller mistake: missing file, unsupported type,
	// malformed query. Never retried.
	ErrKindInput ErrorKind = "input"
	// ErrKindDecode means media could not be decoded, fully or partially.
	ErrKindDecode ErrorKind = "decode"
	// ErrKindModel covers encoder engine failures (batch failed, engine
	// unavailable, shape mismatch). Retryable.
	ErrKindModel ErrorKind = "model"
	// ErrKindStorage covers vector store and catalog write failures. Retryable
	// up to max attempts.
	ErrKindStorage ErrorKind = "storage"
	// ErrKindConsistency is a foreign-key or uniqueness violation. Always a
	// bug; never retried.
	ErrKindConsistency ErrorKind = "consistency"
	// ErrKindCancelled is cooperative cancellation.
	ErrKindCancelled ErrorKind = "cancelled"
)

// KindError attaches an ErrorKind to an underlying error so the orchestrator
// and the API can classify failures without string matching.
type KindError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *KindError) Unwrap() error {
	return e.Err
}

// WrapKind wraps err with the given kind. Returns nil if err is nil.
func WrapKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf returns the ErrorKind of err, walking the wrap chain. Unclassified
// errors default to ErrKindStorage so they stay retryable.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return ErrKindCancelled
	}
	return ErrKindStorage
}

// Retryable reports whether a task failing with err may re-enter the queue.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrKindModel, ErrKindStorage:
		return true
	default:
		return false
	}
}

// Common errors shared across models and services.
var (
	// ErrFileMissing indicates the source file does not exist on disk.
	ErrFileMissing = errors.New("file missing")

	// ErrUnsupportedType indicates the file type cannot be indexed.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrDecodeFailed indicates the media could not be decoded.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrUnsupportedCodec indicates the codec is not handled by the decoder.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrModelUnavailable indicates no healthy engine serves the modality.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrBatchFailed indicates an embedding batch call failed.
	ErrBatchFailed = errors.New("batch failed")

	// ErrShapeMismatch indicates an engine returned vectors of the wrong
	// dimension or with non-finite values.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrCollectionMissing indicates a vector collection was not created.
	ErrCollectionMissing = errors.New("collection missing")

	// ErrDimMismatch indicates a vector does not match its collection dim.
	ErrDimMismatch = errors.New("dimension mismatch")

	// ErrCancelled indicates cooperative task cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrTaskKindRequired indicates a required task kind field is empty.
	ErrTaskKindRequired = errors.New("task kind is required")

	// ErrTargetRequired indicates a required target path field is empty.
	ErrTargetRequired = errors.New("target is required")

	// ErrPersonNameRequired indicates a required person name field is empty.
	ErrPersonNameRequired = errors.New("person name is required")

	// ErrContentHashRequired indicates a required content hash field is empty.
	ErrContentHashRequired = errors.New("content_hash is required")

	// ErrInvalidTimeRange indicates end_ms is before start_ms.
	ErrInvalidTimeRange = errors.New("end_ms must not be before start_ms")

	// ErrInvalidModality indicates an unknown modality value.
	ErrInvalidModality = errors.New("invalid modality")
)
