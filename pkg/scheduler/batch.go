package scheduler

import (
	"context"
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
	"golang.org/x/sync/semaphore"
)

// State is the lifecycle state of a batch or run.
type State string

const (
	StatePending     State = "pending"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateTimedOut    State = "timed_out"
	StateInterrupted State = "interrupted"
)

// Stopped reports whether the state ends a run early.
func (s State) Stopped() bool {
	return s == StateTimedOut || s == StateInterrupted
}

// StopReason maps a stopped state to the reason recorded in outcomes.
func (s State) StopReason() outcome.Reason {
	if s == StateInterrupted {
		return outcome.ReasonInterrupted
	}
	return outcome.ReasonTimeout
}

// BatchResult holds the outcomes of one batch, aligned with its targets.
type BatchResult struct {
	Batch    idrange.Batch
	Outcomes []outcome.Outcome
	State    State
	// Resolved counts targets that finished before the batch ended.
	Resolved int
	// StopID is the first unresolved ID of a stopped batch.
	StopID   int
	Duration time.Duration
}

type fetchResult struct {
	index   int
	outcome outcome.Outcome
	err     error
}

// RunBatch launches every target of batch, at most Config.Concurrency at a
// time, and waits until all of them resolve or ctx ends. Outcomes[i] always
// belongs to batch.Targets[i]; targets left unresolved by a stop get a
// failure carrying the stop reason.
func (s *Scheduler) RunBatch(ctx context.Context, batch idrange.Batch) BatchResult {
	start := time.Now()
	n := batch.Len()

	result := BatchResult{
		Batch:    batch,
		Outcomes: make([]outcome.Outcome, n),
		State:    StateRunning,
	}
	resolved := make([]bool, n)

	s.logger.Debug().
		Int("batch", batch.Index).
		Str("range", batch.Range.String()).
		Msg("Batch started")
	s.reporter.BatchStarted(batch)

	sem := semaphore.NewWeighted(int64(s.config.Concurrency))
	results := make(chan fetchResult, n)
	go s.launch(ctx, batch, sem, results)

	collect := func(r fetchResult) {
		if r.err != nil || resolved[r.index] {
			return
		}
		resolved[r.index] = true
		result.Outcomes[r.index] = r.outcome
		result.Resolved++
		postOutcomesTotal.WithLabelValues(string(r.outcome.Kind)).Inc()
		s.reporter.RecordResolved(r.outcome)
	}

wait:
	for result.Resolved < n {
		select {
		case r := <-results:
			collect(r)
		case <-ctx.Done():
			break wait
		}
	}

	// Keep whatever finished alongside the stop.
	for drained := result.Resolved == n; !drained; {
		select {
		case r := <-results:
			collect(r)
		default:
			drained = true
		}
	}

	if result.Resolved == n {
		result.State = StateCompleted
	} else {
		result.State = stopState(ctx)
		reason := result.State.StopReason()
		result.StopID = -1
		for i, target := range batch.Targets {
			if resolved[i] {
				continue
			}
			if result.StopID < 0 {
				result.StopID = target.ID
			}
			result.Outcomes[i] = outcome.Failure(target.ID, reason)
		}
	}

	result.Duration = time.Since(start)
	postBatchesTotal.WithLabelValues(string(result.State)).Inc()
	postBatchDuration.Observe(result.Duration.Seconds())

	s.logger.Debug().
		Int("batch", batch.Index).
		Str("range", batch.Range.String()).
		Str("state", string(result.State)).
		Int("resolved", result.Resolved).
		Int("total", n).
		Dur("duration", result.Duration).
		Msg("Batch finished")

	return result
}

// launch starts one fetch per target once a slot is free. It stops
// launching when ctx ends; fetches already running observe ctx themselves.
func (s *Scheduler) launch(ctx context.Context, batch idrange.Batch, sem *semaphore.Weighted, results chan<- fetchResult) {
	for i, target := range batch.Targets {
		if ctx.Err() != nil {
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		if ctx.Err() != nil {
			sem.Release(1)
			return
		}

		postInflightFetches.Inc()
		go func() {
			defer func() {
				postInflightFetches.Dec()
				sem.Release(1)
			}()

			o, err := s.fetcher.Fetch(ctx, target)
			results <- fetchResult{index: i, outcome: o, err: err}
		}()
	}
}
