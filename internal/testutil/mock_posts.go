// Package testutil provides testing utilities for the post fetcher.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
)

// MockResponse defines the behavior for one mock post response.
type MockResponse struct {
	StatusCode  int
	Body        string
	ContentType string
	Delay       time.Duration
}

// MockPosts is a configurable mock post service for testing.
// Unconfigured IDs answer 200 with {"id":N} as JSON.
type MockPosts struct {
	server *httptest.Server

	mu           sync.Mutex
	sequences    map[int][]MockResponse
	handlers     map[int]http.HandlerFunc
	defaultDelay time.Duration

	requestCount int
	perID        map[int]int
	inFlight     int
	maxInFlight  int
	userAgents   map[string]int
}

// NewMockPosts creates and starts a new mock post service.
func NewMockPosts() *MockPosts {
	mock := &MockPosts{
		sequences:  make(map[int][]MockResponse),
		handlers:   make(map[int]http.HandlerFunc),
		perID:      make(map[int]int),
		userAgents: make(map[string]int),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockPosts) URL() string {
	return m.server.URL
}

// Generator returns a target generator pointed at the mock server.
func (m *MockPosts) Generator() idrange.Generator {
	return idrange.NewGenerator(m.server.URL)
}

// Close shuts down the mock server.
func (m *MockPosts) Close() {
	m.server.CloseClientConnections()
	m.server.Close()
}

// SetDefaultDelay delays every response that has no explicit delay.
func (m *MockPosts) SetDefaultDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultDelay = d
}

// SetResponse configures a fixed response for id.
func (m *MockPosts) SetResponse(id int, resp MockResponse) {
	m.SetSequence(id, resp)
}

// SetSequence configures per-attempt responses for id. Attempt n receives
// responses[n-1]; the last response repeats once the sequence runs out.
func (m *MockPosts) SetSequence(id int, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[id] = responses
}

// SetHandler sets a custom handler for id.
func (m *MockPosts) SetHandler(id int, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[id] = handler
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockPosts) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// GetRequestCountFor returns the number of requests made for id.
func (m *MockPosts) GetRequestCountFor(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perID[id]
}

// MaxInFlight returns the highest number of simultaneously served requests.
func (m *MockPosts) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// UserAgents returns how often each User-Agent header was seen.
func (m *MockPosts) UserAgents() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.userAgents))
	for k, v := range m.userAgents {
		out[k] = v
	}
	return out
}

func (m *MockPosts) serve(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePostPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	m.mu.Lock()
	m.requestCount++
	m.perID[id]++
	attempt := m.perID[id]
	m.userAgents[r.Header.Get("User-Agent")]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	handler := m.handlers[id]
	seq := m.sequences[id]
	delay := m.defaultDelay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if handler != nil {
		handler(w, r)
		return
	}

	resp := MockResponse{
		StatusCode:  http.StatusOK,
		Body:        fmt.Sprintf(`{"id":%d}`, id),
		ContentType: "application/json; charset=utf-8",
	}
	if len(seq) > 0 {
		idx := attempt - 1
		if idx >= len(seq) {
			idx = len(seq) - 1
		}
		resp = seq[idx]
	}
	if resp.Delay > 0 {
		delay = resp.Delay
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// parsePostPath extracts N from /posts/N.json.
func parsePostPath(path string) (int, bool) {
	rest, ok := strings.CutPrefix(path, "/posts/")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}

// NewRecordResponse creates a standard 200 OK JSON response.
func NewRecordResponse(body string) MockResponse {
	return MockResponse{
		StatusCode:  http.StatusOK,
		Body:        body,
		ContentType: "application/json; charset=utf-8",
	}
}

// NewHTMLResponse creates a non-JSON response, like a CDN challenge page.
func NewHTMLResponse() MockResponse {
	return MockResponse{
		StatusCode:  http.StatusServiceUnavailable,
		Body:        "<html><body>Please wait</body></html>",
		ContentType: "text/html; charset=utf-8",
	}
}

// NewMalformedResponse creates a JSON-typed response with an undecodable body.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode:  http.StatusOK,
		Body:        `{"id": 1, "tag_string":`,
		ContentType: "application/json",
	}
}

// NewEmptyResponse creates a JSON-typed response without a body.
func NewEmptyResponse() MockResponse {
	return MockResponse{
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
	}
}

// NewNotFoundResponse creates the JSON body the service sends for a missing post.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode:  http.StatusNotFound,
		Body:        `{"success":false,"error":"ActiveRecord::RecordNotFound","message":"That record was not found."}`,
		ContentType: "application/json; charset=utf-8",
	}
}
