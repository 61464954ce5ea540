// Command post-fetch downloads the JSON records of a range of post IDs and
// writes them, ordered by ID, into a single JSON array.
//
// Usage:
//
//	post-fetch [flags] <start> [end]
//
// A single ID writes {id}.json, a range writes {start}-{end}.json. When the
// run timeout passes or the process is interrupted, the records fetched so
// far are written with a trailing "Stop at ..." marker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/post-fetcher/pkg/client"
	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/Sternrassler/post-fetcher/pkg/logging"
	"github.com/Sternrassler/post-fetcher/pkg/metrics"
	"github.com/Sternrassler/post-fetcher/pkg/output"
	"github.com/Sternrassler/post-fetcher/pkg/progress"
	"github.com/Sternrassler/post-fetcher/pkg/scheduler"
	"github.com/redis/go-redis/v9"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitTimeout     = 124
	exitInterrupted = 130
)

const defaultUserAgent = "post-fetcher/0.1.0"

// maxSeconds is the longest timeout or cooldown a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

type options struct {
	rng         idrange.Range
	output      string
	timeout     time.Duration
	retry       int
	batchSize   int
	concurrency int
	cooldown    time.Duration
	baseURL     string
	userAgent   string
	logLevel    string
	logPretty   bool
	metricsAddr string
	redisAddr   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "post-fetch: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, opts, stdout, stderr)
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("post-fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: post-fetch [flags] <start> [end]")
		fs.PrintDefaults()
	}

	var (
		opts        options
		timeoutSecs int
		cooldown    float64
	)
	fs.StringVar(&opts.output, "o", "", "output file, - for stdout (default {start}-{end}.json)")
	fs.StringVar(&opts.output, "output", "", "alias of -o")
	fs.IntVar(&timeoutSecs, "t", 3600, "timeout in seconds for the whole run")
	fs.IntVar(&timeoutSecs, "timeout", 3600, "alias of -t")
	fs.IntVar(&opts.retry, "r", 10, "max attempts per post")
	fs.IntVar(&opts.retry, "retry", 10, "alias of -r")
	fs.IntVar(&opts.batchSize, "b", 100, "posts per batch, 0 for a single batch")
	fs.IntVar(&opts.batchSize, "batch-size", 100, "alias of -b")
	fs.IntVar(&opts.concurrency, "n", 5, "max concurrent requests")
	fs.IntVar(&opts.concurrency, "concurrency", 5, "alias of -n")
	fs.Float64Var(&cooldown, "c", 0.1, "cooldown in seconds after each attempt")
	fs.Float64Var(&cooldown, "cooldown", 0.1, "alias of -c")
	fs.StringVar(&opts.baseURL, "base-url", getEnv("POSTFETCH_BASE_URL", idrange.DefaultBaseURL), "post service base URL")
	fs.StringVar(&opts.userAgent, "user-agent", getEnv("POSTFETCH_USER_AGENT", defaultUserAgent), "User-Agent header")
	fs.StringVar(&opts.logLevel, "log-level", getEnv("LOG_LEVEL", string(logging.LevelInfo)), "debug, info, warn or error")
	fs.BoolVar(&opts.logPretty, "log-pretty", false, "human-readable logs")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", getEnv("METRICS_ADDR", ""), "serve /metrics and /health on this address")
	fs.StringVar(&opts.redisAddr, "redis-addr", getEnv("REDIS_URL", ""), "publish run status to this Redis")

	// Flags may follow the positional IDs.
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	rng, err := parseRange(positional)
	if err != nil {
		return nil, err
	}
	opts.rng = rng

	if timeoutSecs <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %d)", timeoutSecs)
	}
	if int64(timeoutSecs) > maxSeconds {
		return nil, fmt.Errorf("timeout must be at most %d seconds (got %d)", maxSeconds, timeoutSecs)
	}
	opts.timeout = time.Duration(timeoutSecs) * time.Second

	if math.IsNaN(cooldown) || cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative (got %g)", cooldown)
	}
	if cooldown > float64(maxSeconds) {
		return nil, fmt.Errorf("cooldown must be at most %d seconds (got %g)", maxSeconds, cooldown)
	}
	opts.cooldown = time.Duration(cooldown * float64(time.Second))

	if opts.retry < 1 {
		return nil, fmt.Errorf("retry must be >= 1 (got %d)", opts.retry)
	}
	if opts.concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be >= 1 (got %d)", opts.concurrency)
	}
	if opts.batchSize < 0 {
		return nil, fmt.Errorf("batch size must not be negative (got %d)", opts.batchSize)
	}
	if err := logging.ValidateLevel(opts.logLevel); err != nil {
		return nil, err
	}

	return &opts, nil
}

func parseRange(positional []string) (idrange.Range, error) {
	if len(positional) == 0 || len(positional) > 2 {
		return idrange.Range{}, fmt.Errorf("expected <start> [end], got %d arguments", len(positional))
	}

	ids := make([]int, len(positional))
	for i, arg := range positional {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return idrange.Range{}, fmt.Errorf("invalid post id %q", arg)
		}
		ids[i] = id
	}

	if len(ids) == 1 {
		ids = append(ids, ids[0])
	}
	return idrange.New(ids[0], ids[1])
}

func execute(ctx context.Context, opts *options, stdout, stderr io.Writer) int {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(opts.logLevel),
		Pretty: opts.logPretty,
		Output: stderr,
	})
	logger := logging.NewLogger("cli")

	if opts.metricsAddr != "" {
		srv, err := metrics.Listen(opts.metricsAddr)
		if err != nil {
			logger.Error().Err(err).Str("addr", opts.metricsAddr).Msg("Failed to start metrics server")
			return exitFailure
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	reporter := progress.Multi{progress.NewLog(logging.NewLogger("progress"), progress.DefaultLogEvery)}

	if opts.redisAddr != "" {
		rdb, err := newRedisClient(opts.redisAddr)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid Redis address")
			return exitFailure
		}
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error().Err(err).Str("addr", opts.redisAddr).Msg("Failed to connect to Redis")
			return exitFailure
		}

		// The status writer outlives ctx so the final state survives an interrupt.
		status, err := progress.NewRedis(context.Background(), rdb)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create run status reporter")
			return exitFailure
		}
		reporter = append(reporter, status)
		logger.Info().Str("key", status.Key(opts.rng)).Msg("Publishing run status to Redis")
	}

	cfg := client.DefaultConfig(opts.userAgent)
	cfg.MaxAttempts = opts.retry
	cfg.Cooldown = opts.cooldown
	postClient, err := client.New(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create post client")
		return exitFailure
	}

	sched, err := scheduler.New(postClient, idrange.NewGenerator(opts.baseURL), scheduler.Config{
		Concurrency: opts.concurrency,
		BatchSize:   opts.batchSize,
		Timeout:     opts.timeout,
	}, scheduler.WithReporter(reporter))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create scheduler")
		return exitFailure
	}

	result, err := sched.Run(ctx, opts.rng)
	if err != nil {
		logger.Error().Err(err).Msg("Run failed")
		return exitFailure
	}

	path := opts.output
	if path == "" {
		path = output.DefaultPath(opts.rng)
	}

	if sentinel, ok := result.Sentinel(); ok {
		msgOut := stdout
		if path == output.Stdout {
			msgOut = stderr
		}
		fmt.Fprintln(msgOut, sentinel.StopMessage())
	}

	writeStart := time.Now()
	if err := output.Write(path, stdout, result); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to write output")
		return exitFailure
	}

	tally := result.Tally()
	logger.Info().
		Str("path", path).
		Int("success", tally.Success).
		Int("not_found", tally.NotFound).
		Int("failed", tally.Failure).
		Dur("fetch_duration", result.Duration).
		Dur("write_duration", time.Since(writeStart)).
		Msg("Output written")

	switch result.State {
	case scheduler.StateTimedOut:
		return exitTimeout
	case scheduler.StateInterrupted:
		return exitInterrupted
	default:
		return exitOK
	}
}

// newRedisClient accepts a host:port address or a redis:// URL.
func newRedisClient(addr string) (*redis.Client, error) {
	if strings.Contains(addr, "://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
