//go:build integration

package integration

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/post-fetcher/internal/testutil"
	"github.com/Sternrassler/post-fetcher/pkg/client"
	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
	"github.com/Sternrassler/post-fetcher/pkg/progress"
	"github.com/Sternrassler/post-fetcher/pkg/scheduler"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const remoteHost = "posts.example.test"

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// testTransport sends requests for the remote host to the mock server.
type testTransport struct {
	mockServer *testutil.MockPosts
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host == remoteHost {
		req.URL.Scheme = "http"
		req.URL.Host = strings.TrimPrefix(t.mockServer.URL(), "http://")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func newClient(t *testing.T, mock *testutil.MockPosts, maxAttempts int) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig("post-fetcher-integration/1.0")
	cfg.MaxAttempts = maxAttempts
	cfg.Cooldown = 5 * time.Millisecond

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	c.SetHTTPClient(&http.Client{
		Transport: &testTransport{mockServer: mock},
		Timeout:   30 * time.Second,
	})
	return c
}

// TestFullRun runs a range through the scheduler and checks the published run status.
func TestFullRun(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPosts()
	defer mock.Close()

	mock.SetResponse(12, testutil.NewNotFoundResponse())
	mock.SetResponse(15, testutil.NewHTMLResponse())
	mock.SetSequence(17, testutil.NewEmptyResponse(), testutil.NewRecordResponse(`{"id":17}`))

	ctx := context.Background()
	status, err := progress.NewRedis(ctx, redisClient, progress.WithFlushEvery(3))
	if err != nil {
		t.Fatalf("Failed to create status reporter: %v", err)
	}

	s, err := scheduler.New(newClient(t, mock, 3), idrange.NewGenerator("https://"+remoteHost),
		scheduler.Config{Concurrency: 3, BatchSize: 4, Timeout: time.Minute},
		scheduler.WithReporter(status))
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	r := idrange.Range{Start: 10, End: 19}
	res, err := s.Run(ctx, r)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !res.Completed() {
		t.Errorf("State = %s, want completed", res.State)
	}
	if len(res.Outcomes) != r.Len() {
		t.Fatalf("Outcomes = %d, want %d", len(res.Outcomes), r.Len())
	}
	for k, o := range res.Outcomes {
		if o.ID != r.Start+k {
			t.Errorf("Outcome %d has ID %d, want %d", k, o.ID, r.Start+k)
		}
	}
	if res.Outcomes[2].Kind != outcome.KindNotFound {
		t.Errorf("ID 12 kind = %s, want not_found", res.Outcomes[2].Kind)
	}
	if res.Outcomes[5].Cause != outcome.ReasonNonJSON {
		t.Errorf("ID 15 cause = %s, want non_json_response", res.Outcomes[5].Cause)
	}
	if mock.GetRequestCountFor(17) != 2 {
		t.Errorf("ID 17 requests = %d, want 2", mock.GetRequestCountFor(17))
	}

	snap, err := status.Snapshot(ctx, r)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.State != "completed" {
		t.Errorf("Snapshot state = %s, want completed", snap.State)
	}
	if snap.Total != 10 || snap.Done != 10 {
		t.Errorf("Snapshot total/done = %d/%d, want 10/10", snap.Total, snap.Done)
	}
	if snap.Success != 8 || snap.NotFound != 1 || snap.Failed != 1 {
		t.Errorf("Snapshot counts = %d/%d/%d, want 8/1/1", snap.Success, snap.NotFound, snap.Failed)
	}
	if snap.Batches != 3 || snap.Batch != 2 {
		t.Errorf("Snapshot batch = %d of %d, want 2 of 3", snap.Batch, snap.Batches)
	}
	if status.Errors() != 0 {
		t.Errorf("Status write errors = %d, want 0", status.Errors())
	}
}

// TestInterruptedRun checks that an interrupt is still recorded after the run context ends.
func TestInterruptedRun(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPosts()
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var served atomic.Int64
	mock.SetHandler(3, func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		cancel()
		<-r.Context().Done()
	})

	status, err := progress.NewRedis(context.Background(), redisClient)
	if err != nil {
		t.Fatalf("Failed to create status reporter: %v", err)
	}

	s, err := scheduler.New(newClient(t, mock, 2), idrange.NewGenerator("https://"+remoteHost),
		scheduler.Config{Concurrency: 1, BatchSize: 0, Timeout: time.Minute},
		scheduler.WithReporter(status))
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	r := idrange.Range{Start: 1, End: 5}
	res, err := s.Run(ctx, r)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sentinel, ok := res.Sentinel()
	if !ok {
		t.Fatalf("Expected a stop marker, got %v", res.Outcomes)
	}
	if got := sentinel.StopMessage(); got != "Stop at 3, keyboard interrupt" {
		t.Errorf("Stop message = %q", got)
	}
	if len(res.Outcomes) != r.Len()+1 {
		t.Errorf("Outcomes = %d, want %d", len(res.Outcomes), r.Len()+1)
	}
	if served.Load() != 1 {
		t.Errorf("Handler for ID 3 served %d times, want 1", served.Load())
	}

	snap, err := status.Snapshot(context.Background(), r)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.State != "interrupted" {
		t.Errorf("Snapshot state = %s, want interrupted", snap.State)
	}
	if snap.Done != 2 {
		t.Errorf("Snapshot done = %d, want 2", snap.Done)
	}
}
