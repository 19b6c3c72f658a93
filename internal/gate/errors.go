package gate

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by [Gate.SafeGenerate] and [Gate.SafeStream].
var (
	// ErrTooManyConcurrent is returned when the active-request table is full.
	ErrTooManyConcurrent = errors.New("gate: too many concurrent generations")

	// ErrPromptTooLong is returned when the input exceeds the character cap.
	ErrPromptTooLong = errors.New("gate: prompt too long")

	// ErrTimeout is returned when the model does not answer before the
	// deadline. The slot is freed before the error is returned.
	ErrTimeout = errors.New("gate: generation timed out")

	// ErrEmptyInput is returned when neither a prompt nor messages are given.
	ErrEmptyInput = errors.New("gate: empty input")
)

// UpstreamError wraps a failure reported by the generation backend.
type UpstreamError struct {
	RequestID string
	Err       error
}

// Error implements error.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gate: upstream generation failed (request %s): %v", e.RequestID, e.Err)
}

// Unwrap returns the backend error.
func (e *UpstreamError) Unwrap() error { return e.Err }
