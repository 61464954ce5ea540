package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
	"github.com/goccy/go-json"
)

// ErrMisaligned is returned when a batch does not continue the outcomes
// collected so far.
var ErrMisaligned = errors.New("batch does not continue the run")

// RunResult is the ordered output of a run. Outcomes[k] belongs to ID
// Range.Start+k; a stopped run ends with exactly one sentinel.
type RunResult struct {
	Range    idrange.Range
	Outcomes []outcome.Outcome
	State    State
	Duration time.Duration
}

// Completed reports whether every ID was resolved without a stop.
func (r *RunResult) Completed() bool {
	return r.State == StateCompleted
}

// Sentinel returns the trailing stop marker, if any.
func (r *RunResult) Sentinel() (outcome.Outcome, bool) {
	if len(r.Outcomes) == 0 {
		return outcome.Outcome{}, false
	}
	last := r.Outcomes[len(r.Outcomes)-1]
	return last, last.IsSentinel()
}

// Tally counts the outcomes by kind.
func (r *RunResult) Tally() outcome.Tally {
	return outcome.Count(r.Outcomes)
}

// MarshalJSON encodes the result as a single JSON array.
func (r *RunResult) MarshalJSON() ([]byte, error) {
	if r.Outcomes == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Outcomes)
}

// Aggregator concatenates batch results into a RunResult.
type Aggregator struct {
	r        idrange.Range
	outcomes []outcome.Outcome
	state    State
}

// maxPrealloc caps the initial outcome capacity for very wide ranges.
const maxPrealloc = 1 << 16

// NewAggregator creates an aggregator for range r.
func NewAggregator(r idrange.Range) *Aggregator {
	return &Aggregator{
		r:        r,
		outcomes: make([]outcome.Outcome, 0, min(max(r.Len(), 0), maxPrealloc-1)+1),
		state:    StatePending,
	}
}

// Append adds the outcomes of br. A stopped batch also appends the
// sentinel naming its first unresolved ID; Append then returns false and
// accepts no further batches.
func (a *Aggregator) Append(br BatchResult, elapsed time.Duration) (bool, error) {
	if a.state.Stopped() {
		return false, nil
	}

	next := a.r.Start + len(a.outcomes)
	if br.Batch.Range.Start != next || len(br.Outcomes) != br.Batch.Len() {
		return false, fmt.Errorf("%w: got %s (%d outcomes), expected start %d",
			ErrMisaligned, br.Batch.Range, len(br.Outcomes), next)
	}

	a.outcomes = append(a.outcomes, br.Outcomes...)
	if br.State.Stopped() {
		a.Stop(br.StopID, br.State, elapsed)
		return false, nil
	}

	a.state = StateRunning
	if len(a.outcomes) == a.r.Len() {
		a.state = StateCompleted
	}
	return true, nil
}

// Stop appends the sentinel for a run stopped at id. It is a no-op once
// the run has stopped.
func (a *Aggregator) Stop(id int, state State, elapsed time.Duration) {
	if a.state.Stopped() {
		return
	}
	a.outcomes = append(a.outcomes, outcome.Stopped(id, state.StopReason(), elapsed))
	a.state = state
}

// Result returns the aggregated run result.
func (a *Aggregator) Result() *RunResult {
	return &RunResult{
		Range:    a.r,
		Outcomes: a.outcomes,
		State:    a.state,
	}
}
