package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline failure taxonomy.
var (
	// ErrMalformedInput means the parser extracted no content from a
	// non-blank document. Fatal for that document only.
	ErrMalformedInput = errors.New("malformed input")

	// ErrConfiguration means an invalid configuration was supplied.
	// Returned fail-fast from constructors, before any processing.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrTransientStore means a network or timeout failure talking to the
	// vector store. Retried with bounded backoff before escalating.
	ErrTransientStore = errors.New("transient store failure")

	// ErrPersistence means a non-retryable store failure, or a transient
	// one that outlived its retry budget. Fatal for that document.
	ErrPersistence = errors.New("persistence failure")
)

// ProcessError wraps a failure with the document and pipeline stage it
// occurred in. Batch runs report these per document instead of aborting.
type ProcessError struct {
	DocumentID string
	Stage      string
	Wrapped    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s: %s: %s", e.DocumentID, e.Stage, e.Wrapped)
}

func (e *ProcessError) Unwrap() error { return e.Wrapped }

// NewProcessError creates a ProcessError.
func NewProcessError(documentID, stage string, wrapped error) *ProcessError {
	return &ProcessError{DocumentID: documentID, Stage: stage, Wrapped: wrapped}
}
