// Package client fetches single post records from a JSON HTTP API with
// content-type checks, decode validation and retry with a fixed cooldown.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/logging"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for post client operations.
var (
	postRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfetch_requests_total",
		Help: "Total post requests by HTTP status (or transport_error)",
	}, []string{"status"})

	postRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postfetch_request_duration_seconds",
		Help:    "Post request duration in seconds, cooldown excluded",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	postAttemptFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfetch_attempt_failures_total",
		Help: "Total failed attempts by reason",
	}, []string{"reason"})
)

// Client resolves one target to one outcome.
type Client struct {
	httpClient *http.Client
	config     Config
	retry      RetryConfig
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request.
	UserAgent string

	// Retry
	MaxAttempts int           // Total attempts per post, first request included
	Cooldown    time.Duration // Delay after every attempt

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	retry := DefaultRetryConfig()
	return Config{
		UserAgent:      userAgent,
		MaxAttempts:    retry.MaxAttempts,
		Cooldown:       retry.Cooldown,
		RequestTimeout: 30 * time.Second,
		MaxBodyBytes:   16 << 20,
	}
}

// New creates a new post client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}

	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative (got %s)", cfg.Cooldown)
	}

	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request_timeout must be positive (got %s)", cfg.RequestTimeout)
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig(cfg.UserAgent).MaxBodyBytes
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		config: cfg,
		retry: RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			Cooldown:    cfg.Cooldown,
		},
		logger: logging.NewLogger("post-client"),
	}, nil
}

// Fetch performs one logical fetch-with-retry for target.
//
// Every outcome the remote service can cause is returned as an Outcome with
// a nil error: a decoded record, a not-found body, or a retries_exhausted
// failure carrying the last attempt's reason and message. The error is
// non-nil only when ctx ends before the target resolves; the caller owns
// what an unresolved target means.
func (c *Client) Fetch(ctx context.Context, target idrange.Target) (outcome.Outcome, error) {
	logger := c.logger.With().Int("id", target.ID).Logger()

	var result outcome.Outcome
	attempts, err := retryWithCooldown(ctx, c.retry, logger, func(attempt int) error {
		o, err := c.attempt(ctx, target, attempt)
		if err != nil {
			return err
		}
		result = o
		return nil
	})

	if err == nil {
		result.Attempts = attempts
		return result, nil
	}

	if errors.Is(err, ErrContextCancelled) {
		return outcome.Outcome{}, err
	}

	var fe *FetchError
	message := err.Error()
	if errors.As(err, &fe) {
		message = fe.Error()
	}

	logger.Error().
		Str("url", target.URL).
		Int("attempts", attempts).
		Str("reason", string(reasonOf(err))).
		Msg("Post fetch failed")

	return outcome.Exhausted(target.ID, attempts, reasonOf(err), message), nil
}

// attempt issues exactly one GET for target and classifies the response.
func (c *Client) attempt(ctx context.Context, target idrange.Target, attempt int) (outcome.Outcome, error) {
	startTime := time.Now()
	defer func() {
		postRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	fail := func(reason outcome.Reason, resp *http.Response, err error) error {
		postAttemptFailuresTotal.WithLabelValues(string(reason)).Inc()
		fe := &FetchError{
			ID:      target.ID,
			URL:     target.URL,
			Attempt: attempt,
			Reason:  reason,
			Err:     err,
		}
		if resp != nil {
			fe.StatusCode = resp.StatusCode
			fe.ContentType = resp.Header.Get("Content-Type")
		}
		return fe
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return outcome.Outcome{}, fail(outcome.ReasonTransport, nil, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Int("id", target.ID).
		Int("attempt", attempt).
		Str("url", target.URL).
		Msg("Executing post request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return outcome.Outcome{}, err
		}
		postRequestsTotal.WithLabelValues("transport_error").Inc()
		c.logger.Warn().Err(err).Int("id", target.ID).Int("attempt", attempt).Msg("HTTP request failed")
		return outcome.Outcome{}, fail(outcome.ReasonTransport, nil, err)
	}
	defer resp.Body.Close()

	postRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if !isJSONContentType(resp.Header.Get("Content-Type")) {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.config.MaxBodyBytes))
		c.logger.Warn().
			Int("id", target.ID).
			Int("attempt", attempt).
			Int("status", resp.StatusCode).
			Str("content_type", resp.Header.Get("Content-Type")).
			Msg("Non-JSON response")
		return outcome.Outcome{}, fail(outcome.ReasonNonJSON, resp, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return outcome.Outcome{}, err
		}
		return outcome.Outcome{}, fail(outcome.ReasonTransport, resp, fmt.Errorf("read response body: %w", err))
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return outcome.Outcome{}, fail(outcome.ReasonDecode, resp, fmt.Errorf("body exceeds %d bytes", c.config.MaxBodyBytes))
	}

	record, err := decodeRecord(body)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("url", target.URL).
			Int("attempt", attempt).
			Msg("Failed to decode response")
		return outcome.Outcome{}, fail(outcome.ReasonDecode, resp, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return outcome.NotFound(target.ID, record), nil
	}
	return outcome.Success(target.ID, record), nil
}

// decodeRecord validates that body is a JSON document and returns it with
// surrounding whitespace removed.
func decodeRecord(body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return body, nil
}

// isJSONContentType reports whether a Content-Type header declares JSON.
func isJSONContentType(header string) bool {
	if header == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}
