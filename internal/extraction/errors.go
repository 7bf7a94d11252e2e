package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEntity is returned for entities without a type or value.
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrInvalidWorldModel is returned when the profile handed to
	// enrichment fails validation.
	ErrInvalidWorldModel = errors.New("invalid world model")
	// ErrInvalidPatternTable is returned when the pattern file cannot be used.
	ErrInvalidPatternTable = errors.New("invalid pattern table")
	// ErrMalformedResponse is returned when LLM output is not the expected JSON.
	ErrMalformedResponse = errors.New("malformed llm response")
	// ErrCanceled wraps context cancellation observed between stages.
	ErrCanceled = errors.New("extraction canceled")
)

// Failure codes reported on runs.
const (
	CodeExtractionError = "entity_extraction_error"
	CodeCanceled        = "canceled"
)

// Error is a batch-level failure. No partial results accompany it.
type Error struct {
	Stage string
	Code  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Code, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StageError wraps err for stage, picking the canceled code for context
// errors.
func StageError(stage string, err error) *Error {
	code := CodeExtractionError
	if errors.Is(err, ErrCanceled) {
		code = CodeCanceled
	}
	return &Error{Stage: stage, Code: code, Err: err}
}
