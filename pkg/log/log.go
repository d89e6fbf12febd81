package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// DefaultFilePath is where run logs go unless RCLUSTER_LOG_PATH says otherwise
const DefaultFilePath = "/var/log/rcluster.log"

// FallbackFilePath is used when DefaultFilePath cannot be opened
const FallbackFilePath = "rcluster.log"

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// FilePath, when set, receives a JSON copy of every log line.
	FilePath string
}

// New builds a logger from cfg. The returned closer releases the log file,
// if one was opened, and is never nil.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var console io.Writer = output
	if !cfg.JSONOutput {
		console = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	closer := io.Closer(nopCloser{})
	writer := console
	if cfg.FilePath != "" {
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		closer = f
		writer = zerolog.MultiLevelWriter(console, f)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(parseLevel(cfg.Level))
	return logger, closer, nil
}

// openLogFile opens path for appending, falling back to FallbackFilePath in
// the working directory when path is not writable.
func openLogFile(path string) (*os.File, error) {
	f, err := appendFile(path)
	if err == nil {
		return f, nil
	}
	fallback, ferr := filepath.Abs(FallbackFilePath)
	if ferr != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	f, ferr = appendFile(fallback)
	if ferr != nil {
		return nil, fmt.Errorf("failed to open log file %s (fallback %s: %v): %w", path, fallback, ferr, err)
	}
	return f, nil
}

func appendFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func parseLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent creates a child logger with component field
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithHost creates a child logger with host field
func WithHost(logger zerolog.Logger, host string) zerolog.Logger {
	return logger.With().Str("host", host).Logger()
}

// WithRunID creates a child logger with run_id field
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
