package progress

import (
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
	"github.com/rs/zerolog"
)

// DefaultLogEvery is how many resolved records pass between progress lines.
const DefaultLogEvery = 50

// Log writes progress as structured log lines.
type Log struct {
	logger zerolog.Logger
	every  int

	total int
	tally outcome.Tally
}

// NewLog returns a reporter logging a progress line every `every` records.
// every <= 0 uses DefaultLogEvery.
func NewLog(logger zerolog.Logger, every int) *Log {
	if every <= 0 {
		every = DefaultLogEvery
	}
	return &Log{logger: logger, every: every}
}

func (l *Log) RunStarted(r idrange.Range, batches int) {
	l.total = r.Len()
	l.tally = outcome.Tally{}
	l.logger.Info().
		Str("range", r.String()).
		Int("total", l.total).
		Int("batches", batches).
		Msg("Starting post fetch")
}

func (l *Log) BatchStarted(b idrange.Batch) {
	l.logger.Debug().
		Int("batch", b.Index).
		Str("range", b.Range.String()).
		Int("size", b.Len()).
		Msg("Batch started")
}

func (l *Log) RecordResolved(o outcome.Outcome) {
	l.tally.Add(o)
	done := l.tally.Resolved()
	if done%l.every == 0 || done == l.total {
		l.logger.Info().
			Int("fetched", done).
			Int("total", l.total).
			Float64("progress_pct", float64(done)/float64(l.total)*100).
			Msg("Fetch progress")
	}
}

func (l *Log) BatchFinished(b idrange.Batch, state string, resolved int) {
	l.logger.Info().
		Int("batch", b.Index).
		Str("range", b.Range.String()).
		Str("state", state).
		Int("resolved", resolved).
		Int("size", b.Len()).
		Msg("Batch finished")
}

func (l *Log) RunFinished(state string, elapsed time.Duration) {
	l.logger.Info().
		Str("state", state).
		Int("success", l.tally.Success).
		Int("not_found", l.tally.NotFound).
		Int("failed", l.tally.Failure).
		Int("total", l.total).
		Dur("duration", elapsed).
		Msg("Fetch complete")
}

// Tally returns the counts seen so far.
func (l *Log) Tally() outcome.Tally {
	return l.tally
}
