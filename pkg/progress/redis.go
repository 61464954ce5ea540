package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/logging"
	"github.com/Sternrassler/post-fetcher/pkg/outcome"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultKeyPrefix prefixes the run status hash: postfetch:run:{range}.
const DefaultKeyPrefix = "postfetch:run:"

// Hash fields of a run status entry.
const (
	FieldTotal     = "total"
	FieldDone      = "done"
	FieldSuccess   = "success"
	FieldNotFound  = "not_found"
	FieldFailed    = "failed"
	FieldBatch     = "batch"
	FieldBatches   = "batches"
	FieldState     = "state"
	FieldStartedAt = "started_at"
	FieldUpdatedAt = "updated_at"
	FieldElapsedMS = "elapsed_ms"
)

// ErrRunNotFound is returned by Snapshot when no status exists for a range.
var ErrRunNotFound = errors.New("run status not found")

// RedisOption configures a Redis reporter.
type RedisOption func(*Redis)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithTTL sets how long the status hash outlives its last update.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithFlushEvery sets how many resolved records are buffered before the
// counters are written. Batch and run boundaries always flush.
func WithFlushEvery(n int) RedisOption {
	return func(r *Redis) {
		r.flushEvery = n
	}
}

// Redis publishes the status of a run to a Redis hash so other processes can
// watch it. Write failures are logged and otherwise ignored.
type Redis struct {
	rdb        redis.UniversalClient
	ctx        context.Context
	logger     zerolog.Logger
	prefix     string
	ttl        time.Duration
	flushEvery int
	opTimeout  time.Duration

	key     string
	tally   outcome.Tally
	pending int
	errors  int
}

// NewRedis creates a Redis reporter. ctx bounds every Redis call made by the
// reporter; it should outlive the run so the final state can be written
// after an interrupt.
func NewRedis(ctx context.Context, rdb redis.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	r := &Redis{
		rdb:        rdb,
		ctx:        ctx,
		logger:     logging.NewLogger("progress"),
		prefix:     DefaultKeyPrefix,
		ttl:        24 * time.Hour,
		flushEvery: 25,
		opTimeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.flushEvery <= 0 {
		r.flushEvery = 1
	}
	return r, nil
}

// Key returns the hash key of range rg.
func (r *Redis) Key(rg idrange.Range) string {
	return r.prefix + rg.String()
}

// Errors returns how many Redis writes failed.
func (r *Redis) Errors() int {
	return r.errors
}

func (r *Redis) RunStarted(rg idrange.Range, batches int) {
	r.key = r.Key(rg)
	r.tally = outcome.Tally{}
	r.pending = 0

	now := time.Now()
	r.write(map[string]interface{}{
		FieldTotal:     rg.Len(),
		FieldDone:      0,
		FieldSuccess:   0,
		FieldNotFound:  0,
		FieldFailed:    0,
		FieldBatch:     0,
		FieldBatches:   batches,
		FieldState:     "running",
		FieldStartedAt: now.Unix(),
		FieldUpdatedAt: now.Unix(),
		FieldElapsedMS: 0,
	})
}

func (r *Redis) BatchStarted(b idrange.Batch) {
	r.write(map[string]interface{}{
		FieldBatch:     b.Index,
		FieldUpdatedAt: time.Now().Unix(),
	})
}

func (r *Redis) RecordResolved(o outcome.Outcome) {
	r.tally.Add(o)
	r.pending++
	if r.pending >= r.flushEvery {
		r.flush(nil)
	}
}

func (r *Redis) BatchFinished(b idrange.Batch, state string, resolved int) {
	r.flush(nil)
}

func (r *Redis) RunFinished(state string, elapsed time.Duration) {
	r.flush(map[string]interface{}{
		FieldState:     state,
		FieldElapsedMS: elapsed.Milliseconds(),
	})
}

// flush writes the counters plus any extra fields.
func (r *Redis) flush(extra map[string]interface{}) {
	fields := map[string]interface{}{
		FieldDone:      r.tally.Resolved(),
		FieldSuccess:   r.tally.Success,
		FieldNotFound:  r.tally.NotFound,
		FieldFailed:    r.tally.Failure,
		FieldUpdatedAt: time.Now().Unix(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	r.pending = 0
	r.write(fields)
}

func (r *Redis) write(fields map[string]interface{}) {
	if r.key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.opTimeout)
	defer cancel()

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.key, fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.errors++
		r.logger.Warn().Err(err).Str("key", r.key).Msg("Failed to store run status")
	}
}

// Snapshot is the stored status of a run.
type Snapshot struct {
	Key       string
	Total     int
	Done      int
	Success   int
	NotFound  int
	Failed    int
	Batch     int
	Batches   int
	State     string
	StartedAt time.Time
	UpdatedAt time.Time
	Elapsed   time.Duration
}

// Snapshot reads the status of range rg.
func (r *Redis) Snapshot(ctx context.Context, rg idrange.Range) (*Snapshot, error) {
	key := r.Key(rg)
	values, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get run status: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, key)
	}

	s := &Snapshot{Key: key, State: values[FieldState]}
	ints := []struct {
		field string
		dst   *int
	}{
		{FieldTotal, &s.Total},
		{FieldDone, &s.Done},
		{FieldSuccess, &s.Success},
		{FieldNotFound, &s.NotFound},
		{FieldFailed, &s.Failed},
		{FieldBatch, &s.Batch},
		{FieldBatches, &s.Batches},
	}
	for _, f := range ints {
		if v, ok := values[f.field]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", f.field, err)
			}
			*f.dst = n
		}
	}

	if v, err := strconv.ParseInt(values[FieldStartedAt], 10, 64); err == nil {
		s.StartedAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(values[FieldUpdatedAt], 10, 64); err == nil {
		s.UpdatedAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(values[FieldElapsedMS], 10, 64); err == nil {
		s.Elapsed = time.Duration(v) * time.Millisecond
	}

	return s, nil
}
