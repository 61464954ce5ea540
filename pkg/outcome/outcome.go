// Package outcome defines the per-ID result of a fetch and its JSON form in
// the output document.
package outcome

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Kind tags the variant held by an Outcome.
type Kind string

const (
	// KindSuccess holds a decoded record.
	KindSuccess Kind = "success"

	// KindNotFound holds the JSON body the service returned for a missing post.
	KindNotFound Kind = "not_found"

	// KindFailure marks an ID that could not be resolved to a record.
	KindFailure Kind = "failure"

	// KindStopped is the terminal sentinel of a truncated run.
	KindStopped Kind = "stopped"
)

// Reason classifies a failed attempt, a failed ID or a run stop.
type Reason string

const (
	// ReasonNonJSON is a response without a JSON content type.
	ReasonNonJSON Reason = "non_json_response"

	// ReasonDecode is a JSON response whose body could not be decoded.
	ReasonDecode Reason = "decode_error"

	// ReasonTransport is a connection, DNS or protocol level failure.
	ReasonTransport Reason = "transport_error"

	// ReasonRetriesExhausted means every allowed attempt failed.
	ReasonRetriesExhausted Reason = "retries_exhausted"

	// ReasonTimeout means the run deadline passed before the ID resolved.
	ReasonTimeout Reason = "timeout"

	// ReasonInterrupted means the operator stopped the run.
	ReasonInterrupted Reason = "interrupted"
)

// IsStop reports whether r is a run-level stop reason.
func (r Reason) IsStop() bool {
	return r == ReasonTimeout || r == ReasonInterrupted
}

// Outcome is the tagged result for one ID. Exactly one outcome exists per
// target; which fields are set depends on Kind.
type Outcome struct {
	Kind Kind
	ID   int

	// Record is the raw JSON body (success and not_found).
	Record json.RawMessage

	// Reason is why the ID failed or the run stopped.
	Reason Reason
	// Cause is the classification of the last failed attempt when Reason
	// is ReasonRetriesExhausted.
	Cause Reason
	// Attempts is the number of requests issued for the ID.
	Attempts int
	// Message is the error text captured from the last failed attempt.
	Message string

	// Elapsed is the run time at which a stop happened (sentinel only).
	Elapsed time.Duration
}

// Success returns a successful outcome carrying record.
func Success(id int, record []byte) Outcome {
	return Outcome{Kind: KindSuccess, ID: id, Record: record}
}

// NotFound returns an outcome for a post the service reported as missing.
func NotFound(id int, record []byte) Outcome {
	return Outcome{Kind: KindNotFound, ID: id, Record: record}
}

// Failure returns a failed outcome with the given reason.
func Failure(id int, reason Reason) Outcome {
	return Outcome{Kind: KindFailure, ID: id, Reason: reason}
}

// Exhausted returns the outcome of an ID whose attempts all failed. cause
// and message describe the last attempt.
func Exhausted(id, attempts int, cause Reason, message string) Outcome {
	return Outcome{
		Kind:     KindFailure,
		ID:       id,
		Reason:   ReasonRetriesExhausted,
		Cause:    cause,
		Attempts: attempts,
		Message:  message,
	}
}

// Stopped returns the terminal sentinel for a run that stopped at id.
func Stopped(id int, reason Reason, elapsed time.Duration) Outcome {
	return Outcome{Kind: KindStopped, ID: id, Reason: reason, Elapsed: elapsed}
}

// HasRecord reports whether the outcome carries a decoded body.
func (o Outcome) HasRecord() bool {
	return o.Kind == KindSuccess || o.Kind == KindNotFound
}

// IsSentinel reports whether o terminates a truncated run.
func (o Outcome) IsSentinel() bool {
	return o.Kind == KindStopped
}

// StopMessage renders the human readable stop line of a sentinel.
func (o Outcome) StopMessage() string {
	switch o.Reason {
	case ReasonTimeout:
		return fmt.Sprintf("Stop at %d, timeout %.1fs in", o.ID, o.Elapsed.Seconds())
	case ReasonInterrupted:
		return fmt.Sprintf("Stop at %d, keyboard interrupt", o.ID)
	default:
		return fmt.Sprintf("Stop at %d, error %s", o.ID, o.Reason)
	}
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o.Kind {
	case KindStopped:
		return o.StopMessage()
	case KindFailure:
		if o.Cause != "" {
			return fmt.Sprintf("%d: %s (%s)", o.ID, o.Reason, o.Cause)
		}
		return fmt.Sprintf("%d: %s", o.ID, o.Reason)
	default:
		return fmt.Sprintf("%d: %s", o.ID, o.Kind)
	}
}

type failureJSON struct {
	ID       int    `json:"id"`
	Error    Reason `json:"error"`
	Cause    Reason `json:"cause,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Message  string `json:"message,omitempty"`
}

// MarshalJSON renders the element written to the output array: the record
// itself, a failure object, or the sentinel stop string.
func (o Outcome) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case KindSuccess, KindNotFound:
		if len(o.Record) == 0 {
			return []byte("null"), nil
		}
		return o.Record, nil
	case KindFailure:
		return json.Marshal(failureJSON{
			ID:       o.ID,
			Error:    o.Reason,
			Cause:    o.Cause,
			Attempts: o.Attempts,
			Message:  o.Message,
		})
	case KindStopped:
		return json.Marshal(o.StopMessage())
	default:
		return nil, fmt.Errorf("outcome %d: unknown kind %q", o.ID, o.Kind)
	}
}
