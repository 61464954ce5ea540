// Package logging configures structured zerolog output for the fetcher.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every attempt and cooldown.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs batch progress and run summaries.
	LevelInfo LogLevel = "info"

	// LevelWarn logs retried attempts.
	LevelWarn LogLevel = "warn"

	// LevelError logs exhausted posts and fatal errors only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ValidateLevel returns an error for level names Setup would not recognise.
func ValidateLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: every request attempt, cooldowns, retry decisions
// Info: run start/finish, batch start/finish, periodic progress
// Warn: non-JSON responses, transport errors, stop by timeout or operator
// Error: decode failures (with URL), exhausted posts, output write failures
//
// Context Fields:
//   - component: post-client, scheduler, progress, output, cli
//   - id: post ID
//   - url: request URL
//   - attempt: attempt number (1-based)
//   - reason: failure classification
//   - batch: batch index
//   - duration: elapsed time
