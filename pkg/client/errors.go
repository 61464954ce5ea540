package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/post-fetcher/pkg/outcome"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends while a fetch is
	// in flight or cooling down.
	ErrContextCancelled = errors.New("context cancelled")
)

// FetchError describes one failed attempt for a post.
type FetchError struct {
	ID          int
	URL         string
	Attempt     int
	Reason      outcome.Reason
	StatusCode  int
	ContentType string
	Err         error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("post %d attempt %d: %s", e.ID, e.Attempt, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d, content-type %q)", e.StatusCode, e.ContentType)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// reasonOf extracts the attempt classification from err.
func reasonOf(err error) outcome.Reason {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return outcome.ReasonTransport
}
