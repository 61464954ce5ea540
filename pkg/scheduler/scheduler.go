// Package scheduler drives fetches for a range of post IDs: it splits the
// range into sequential batches, runs each batch under a concurrency bound
// and a run-wide deadline, and assembles the outcomes in ID order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/logging"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
	"github.com/Sternrassler/post-fetcher/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for scheduling.
var (
	postBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfetch_batches_total",
		Help: "Total batches by final state",
	}, []string{"state"})

	postBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postfetch_batch_duration_seconds",
		Help:    "Wall-clock duration of a batch",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	postInflightFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postfetch_inflight_fetches",
		Help: "Fetches currently holding a concurrency slot",
	})

	postOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfetch_outcomes_total",
		Help: "Resolved posts by outcome kind",
	}, []string{"kind"})
)

var (
	// ErrRunTimeout is the cancellation cause when the run deadline passes.
	ErrRunTimeout = errors.New("run timeout reached")

	// ErrInvalidConfig is returned for unusable scheduler settings.
	ErrInvalidConfig = errors.New("invalid scheduler config")
)

// RecordFetcher resolves one target. The error is non-nil only when ctx
// ended before the target resolved.
type RecordFetcher interface {
	Fetch(ctx context.Context, target idrange.Target) (outcome.Outcome, error)
}

// Config holds scheduler configuration.
type Config struct {
	// Concurrency is the maximum number of fetches in flight within a batch.
	Concurrency int
	// BatchSize is the number of IDs per batch; 0 runs the range as one batch.
	BatchSize int
	// Timeout bounds the wall-clock time of the whole run.
	Timeout time.Duration
}

// DefaultConfig returns a conservative configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 5,
		BatchSize:   100,
		Timeout:     time.Hour,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1 (got %d)", ErrInvalidConfig, c.Concurrency)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative (got %d)", ErrInvalidConfig, c.BatchSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive (got %s)", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithReporter sets the progress reporter.
func WithReporter(r progress.Reporter) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// Scheduler runs ranges of fetches.
type Scheduler struct {
	fetcher  RecordFetcher
	gen      idrange.Generator
	config   Config
	reporter progress.Reporter
	logger   zerolog.Logger
}

// New creates a scheduler fetching targets built by gen through fetcher.
func New(fetcher RecordFetcher, gen idrange.Generator, cfg Config, opts ...Option) (*Scheduler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		fetcher:  fetcher,
		gen:      gen,
		config:   cfg,
		reporter: progress.Nop{},
		logger:   logging.NewLogger("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run fetches every ID in r. Batches run strictly one after another under
// a deadline of Config.Timeout shared by the whole run. Cancelling ctx is
// treated as an operator interrupt.
//
// The result is always returned, truncated with a sentinel when the run
// stopped early. The error is reserved for broken invariants.
func (s *Scheduler) Run(ctx context.Context, r idrange.Range) (*RunResult, error) {
	if r.Start > r.End {
		return nil, fmt.Errorf("%w: %d-%d", idrange.ErrInvalidRange, r.Start, r.End)
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeoutCause(ctx, s.config.Timeout, ErrRunTimeout)
	defer cancel()

	batches := idrange.BatchCount(r, s.config.BatchSize)
	s.logger.Info().
		Str("range", r.String()).
		Int("batches", batches).
		Int("concurrency", s.config.Concurrency).
		Dur("timeout", s.config.Timeout).
		Msg("Starting run")
	s.reporter.RunStarted(r, batches)

	agg := NewAggregator(r)
	for batch := range s.gen.Batches(r, s.config.BatchSize) {
		if runCtx.Err() != nil {
			state := stopState(runCtx)
			agg.Stop(batch.Range.Start, state, time.Since(start))
			s.logger.Warn().
				Int("batch", batch.Index).
				Str("state", string(state)).
				Msg("Run stopped between batches")
			break
		}

		br := s.RunBatch(runCtx, batch)
		s.reporter.BatchFinished(batch, string(br.State), br.Resolved)

		more, err := agg.Append(br, time.Since(start))
		if err != nil {
			return nil, err
		}
		if !more {
			s.logger.Warn().
				Int("batch", batch.Index).
				Int("stop_id", br.StopID).
				Str("state", string(br.State)).
				Msg("Run stopped")
			break
		}
	}

	result := agg.Result()
	result.Duration = time.Since(start)
	s.reporter.RunFinished(string(result.State), result.Duration)

	s.logger.Info().
		Str("range", r.String()).
		Str("state", string(result.State)).
		Int("outcomes", len(result.Outcomes)).
		Dur("duration", result.Duration).
		Msg("Run finished")

	return result, nil
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// stopState maps a finished context to the batch state it ends in.
func stopState(ctx context.Context) State {
	if errors.Is(context.Cause(ctx), ErrRunTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StateTimedOut
	}
	return StateInterrupted
}
