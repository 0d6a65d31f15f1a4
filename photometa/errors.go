package photometa

import (
	"errors"
	"fmt"
)

// ValidationError means the request is malformed or carries nothing to embed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// SourceUnavailableError means the image could not be fetched or decoded.
// Err keeps the cause for logs; Error() only returns Message.
type SourceUnavailableError struct {
	Message string
	Err     error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s", e.Message)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// UnsupportedFormatError means the bytes are not a JPEG.
type UnsupportedFormatError struct {
	Message string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %s", e.Message)
}

// MergeError means the mandatory EXIF write failed.
type MergeError struct {
	Message string
	Err     error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("metadata merge failed: %s", e.Message)
}

func (e *MergeError) Unwrap() error { return e.Err }

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func newSourceError(message string, err error) error {
	return &SourceUnavailableError{Message: message, Err: err}
}

func newMergeError(message string, err error) error {
	return &MergeError{Message: message, Err: err}
}

// IsClientError reports whether err belongs to the caller-fixable part of the
// taxonomy (validation, source, format).
func IsClientError(err error) bool {
	var (
		ve *ValidationError
		se *SourceUnavailableError
		ue *UnsupportedFormatError
	)
	return errors.As(err, &ve) || errors.As(err, &se) || errors.As(err, &ue)
}
