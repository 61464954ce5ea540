package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/post-fetcher/internal/testutil"
	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
)

const testUserAgent = "post-fetcher-test/1.0"

func newTestClient(t *testing.T, maxAttempts int) *Client {
	t.Helper()

	cfg := DefaultConfig(testUserAgent)
	cfg.MaxAttempts = maxAttempts
	cfg.Cooldown = time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig(testUserAgent),
		},
		{
			name: "empty user agent",
			config: Config{
				MaxAttempts:    3,
				RequestTimeout: time.Second,
			},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "zero attempts",
			config: Config{
				UserAgent:      testUserAgent,
				MaxAttempts:    0,
				RequestTimeout: time.Second,
			},
			expectError: true,
			errorMsg:    "max_attempts must be >= 1 (got 0)",
		},
		{
			name: "negative cooldown",
			config: Config{
				UserAgent:      testUserAgent,
				MaxAttempts:    1,
				Cooldown:       -time.Second,
				RequestTimeout: time.Second,
			},
			expectError: true,
			errorMsg:    "cooldown must not be negative (got -1s)",
		},
		{
			name: "missing request timeout",
			config: Config{
				UserAgent:   testUserAgent,
				MaxAttempts: 1,
			},
			expectError: true,
			errorMsg:    "request_timeout must be positive (got 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestNew_DefaultsBodyLimit(t *testing.T) {
	cfg := DefaultConfig(testUserAgent)
	cfg.MaxBodyBytes = 0
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Config().MaxBodyBytes != 16<<20 {
		t.Errorf("MaxBodyBytes = %d, want %d", c.Config().MaxBodyBytes, 16<<20)
	}
}

func TestFetch_Success(t *testing.T) {
	mock := testutil.NewMockPosts()
	defer mock.Close()
	mock.SetResponse(42, testutil.NewRecordResponse(`  {"id":42,"rating":"g"}`+"\n"))

	c := newTestClient(t, 3)
	got, err := c.Fetch(context.Background(), mock.Generator().Target(42))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got.Kind != outcome.KindSuccess {
		t.Fatalf("Kind = %q, want success", got.Kind)
	}
	if got.ID != 42 {
		t.Errorf("ID = %d, want 42", got.ID)
	}
	if string(got.Record) != `{"id":42,"rating":"g"}` {
		t.Errorf("Record = %s", got.Record)
	}
	if mock.UserAgents()[testUserAgent] != 1 {
		t.Errorf("User-Agent not sent, saw %v", mock.UserAgents())
	}
}

func TestFetch_RetryLaw(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		maxAttempts  int
		wantKind     outcome.Kind
		wantRequests int
	}{
		{name: "no failures", failures: 0, maxAttempts: 3, wantKind: outcome.KindSuccess, wantRequests: 1},
		{name: "k below max", failures: 2, maxAttempts: 3, wantKind: outcome.KindSuccess, wantRequests: 3},
		{name: "k equals max", failures: 3, maxAttempts: 3, wantKind: outcome.KindFailure, wantRequests: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockPosts()
			defer mock.Close()

			var seq []testutil.MockResponse
			for i := 0; i < tt.failures; i++ {
				seq = append(seq, testutil.NewHTMLResponse())
			}
			seq = append(seq, testutil.NewRecordResponse(`{"id":1}`))
			mock.SetSequence(1, seq...)

			c := newTestClient(t, tt.maxAttempts)
			got, err := c.Fetch(context.Background(), mock.Generator().Target(1))
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}

			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Kind == outcome.KindFailure {
				if got.Reason != outcome.ReasonRetriesExhausted {
					t.Errorf("Reason = %q, want retries_exhausted", got.Reason)
				}
				if got.Cause != outcome.ReasonNonJSON {
					t.Errorf("Cause = %q, want non_json_response", got.Cause)
				}
				if got.Attempts != tt.maxAttempts {
					t.Errorf("Attempts = %d, want %d", got.Attempts, tt.maxAttempts)
				}
				if !strings.Contains(got.Message, "status 503") {
					t.Errorf("Message = %q, want last response status", got.Message)
				}
			}
			if n := mock.GetRequestCountFor(1); n != tt.wantRequests {
				t.Errorf("requests = %d, want %d", n, tt.wantRequests)
			}
		})
	}
}

func TestFetch_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		resp testutil.MockResponse
	}{
		{name: "malformed body", resp: testutil.NewMalformedResponse()},
		{name: "empty body", resp: testutil.NewEmptyResponse()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockPosts()
			defer mock.Close()
			mock.SetResponse(3, tt.resp)

			c := newTestClient(t, 2)
			got, err := c.Fetch(context.Background(), mock.Generator().Target(3))
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if got.Reason != outcome.ReasonRetriesExhausted || got.Cause != outcome.ReasonDecode {
				t.Errorf("got %s, want retries_exhausted caused by decode_error", got)
			}
			if mock.GetRequestCountFor(3) != 2 {
				t.Errorf("requests = %d, want 2", mock.GetRequestCountFor(3))
			}
		})
	}
}

func TestFetch_NotFound(t *testing.T) {
	mock := testutil.NewMockPosts()
	defer mock.Close()
	mock.SetResponse(404, testutil.NewNotFoundResponse())

	c := newTestClient(t, 3)
	got, err := c.Fetch(context.Background(), mock.Generator().Target(404))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Kind != outcome.KindNotFound {
		t.Errorf("Kind = %q, want not_found", got.Kind)
	}
	if !strings.Contains(string(got.Record), "RecordNotFound") {
		t.Errorf("Record = %s, want service body", got.Record)
	}
	if mock.GetRequestCountFor(404) != 1 {
		t.Errorf("not found must not be retried, got %d requests", mock.GetRequestCountFor(404))
	}
}

func TestFetch_TransportErrorRetried(t *testing.T) {
	mock := testutil.NewMockPosts()
	url := mock.URL()
	mock.Close()

	c := newTestClient(t, 2)
	target := idrange.Target{ID: 1, URL: url + "/posts/1.json"}
	got, err := c.Fetch(context.Background(), target)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Reason != outcome.ReasonRetriesExhausted {
		t.Errorf("Reason = %q, want retries_exhausted", got.Reason)
	}
	if got.Cause != outcome.ReasonTransport {
		t.Errorf("Cause = %q, want transport_error", got.Cause)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockPosts()
	defer mock.Close()
	mock.SetDefaultDelay(5 * time.Second)

	c := newTestClient(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, mock.Generator().Target(1))
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Fetch did not stop promptly after cancellation")
	}
}

func TestFetch_CooldownAfterSuccess(t *testing.T) {
	mock := testutil.NewMockPosts()
	defer mock.Close()

	cfg := DefaultConfig(testUserAgent)
	cfg.Cooldown = 50 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	if _, err := c.Fetch(context.Background(), mock.Generator().Target(1)); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if time.Since(start) < cfg.Cooldown {
		t.Errorf("Fetch returned before cooldown elapsed")
	}
}

func TestFetch_CustomHTTPClient(t *testing.T) {
	mock := testutil.NewMockPosts()
	defer mock.Close()

	c := newTestClient(t, 1)
	c.SetHTTPClient(&http.Client{Timeout: time.Second})

	got, err := c.Fetch(context.Background(), mock.Generator().Target(8))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Kind != outcome.KindSuccess {
		t.Errorf("Kind = %q, want success", got.Kind)
	}
}

func TestIsJSONContentType(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"application/vnd.api+json", true},
		{"APPLICATION/JSON", true},
		{"text/html; charset=utf-8", false},
		{"text/plain", false},
		{"", false},
		{";;;", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := isJSONContentType(tt.header); got != tt.want {
				t.Errorf("isJSONContentType(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}
