// Package progress reports run, batch and record completion events.
// Reporters observe a run; they never influence its result.
package progress

import (
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
)

// Reporter receives progress events. The scheduler calls a reporter from a
// single goroutine, so implementations need no locking of their own.
type Reporter interface {
	// RunStarted is called once before the first batch.
	RunStarted(r idrange.Range, batches int)
	// BatchStarted is called before a batch's fetches are launched.
	BatchStarted(b idrange.Batch)
	// RecordResolved is called once per resolved target, in completion order.
	RecordResolved(o outcome.Outcome)
	// BatchFinished is called with the batch's final state.
	BatchFinished(b idrange.Batch, state string, resolved int)
	// RunFinished is called once after the last batch or the stop.
	RunFinished(state string, elapsed time.Duration)
}

// Nop discards every event.
type Nop struct{}

func (Nop) RunStarted(idrange.Range, int) {}
func (Nop) BatchStarted(idrange.Batch) {}
func (Nop) RecordResolved(outcome.Outcome) {}
func (Nop) BatchFinished(idrange.Batch, string, int) {}
func (Nop) RunFinished(string, time.Duration) {}

// Multi forwards every event to each reporter in order.
type Multi []Reporter

func (m Multi) RunStarted(r idrange.Range, batches int) {
	for _, rep := range m {
		rep.RunStarted(r, batches)
	}
}

func (m Multi) BatchStarted(b idrange.Batch) {
	for _, rep := range m {
		rep.BatchStarted(b)
	}
}

func (m Multi) RecordResolved(o outcome.Outcome) {
	for _, rep := range m {
		rep.RecordResolved(o)
	}
}

func (m Multi) BatchFinished(b idrange.Batch, state string, resolved int) {
	for _, rep := range m {
		rep.BatchFinished(b, state, resolved)
	}
}

func (m Multi) RunFinished(state string, elapsed time.Duration) {
	for _, rep := range m {
		rep.RunFinished(state, elapsed)
	}
}
