package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	postRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfetch_retries_total",
		Help: "Total number of retry attempts by failure reason",
	}, []string{"reason"})

	postRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfetch_retry_exhausted_total",
		Help: "Total number of posts whose attempts were exhausted, by last failure reason",
	}, []string{"reason"})

	postCooldownSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postfetch_cooldown_seconds_total",
		Help: "Total time spent in post-attempt cooldown",
	})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first request).
	MaxAttempts int

	// Cooldown is the fixed delay after every attempt, successful or not.
	Cooldown time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 10,
		Cooldown:    100 * time.Millisecond,
	}
}

// retryWithCooldown runs fn up to config.MaxAttempts times and waits
// config.Cooldown after every attempt. It returns the number of attempts
// made. A nil error means fn succeeded. If ctx ends during a request or
// between attempts the error wraps ErrContextCancelled; otherwise a failure
// after the last attempt wraps ErrRetryExhausted and the last attempt error.
func retryWithCooldown(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn func(attempt int) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err != nil && ctx.Err() != nil {
			return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, context.Cause(ctx))
		}

		waitErr := cooldown(ctx, config.Cooldown)

		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err
		if attempt >= config.MaxAttempts {
			break
		}
		if waitErr != nil {
			return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, waitErr)
		}

		reason := reasonOf(err)
		postRetriesTotal.WithLabelValues(string(reason)).Inc()
		logger.Debug().
			Err(err).
			Str("reason", string(reason)).
			Int("attempt", attempt).
			Dur("cooldown", config.Cooldown).
			Msg("Retrying request after cooldown")
	}

	reason := reasonOf(lastErr)
	postRetryExhaustedTotal.WithLabelValues(string(reason)).Inc()
	logger.Warn().
		Err(lastErr).
		Str("reason", string(reason)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return config.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}

// cooldown sleeps for d unless ctx ends first.
func cooldown(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		postCooldownSeconds.Add(time.Since(start).Seconds())
		return context.Cause(ctx)
	case <-timer.C:
		postCooldownSeconds.Add(d.Seconds())
		return nil
	}
}
