package contentstore

import (
	"errors"
	"strings"
)

var (
	// ErrStorage marks filesystem failures. The message is not meant for clients.
	ErrStorage = errors.New("content storage error")

	// ErrValidation marks documents or patches that violate the document schema.
	ErrValidation = errors.New("invalid content document")

	// ErrNotFound is returned for unknown backup names.
	ErrNotFound = errors.New("backup not found")

	// ErrCorruptBackup is returned when a selected backup does not parse.
	ErrCorruptBackup = errors.New("backup is corrupt")
)

// ValidationError lists the required fields a document is missing, or
// describes the value that failed validation.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required fields: " + strings.Join(e.Missing, ", ")
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
