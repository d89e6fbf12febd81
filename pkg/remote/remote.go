package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrConnectionFailed is returned once every connect attempt to a host failed
var ErrConnectionFailed = errors.New("connection failed")

// Result is the outcome of one remote command
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// Skipped is set when the command was not dispatched (dry-run).
	Skipped bool
}

// OK reports whether the command succeeded or was skipped
func (r Result) OK() bool {
	return r.Skipped || r.ExitCode == 0
}

// Session is an open channel to one host. It is owned by a single caller
// and must be closed on every exit path.
type Session interface {
	// Host returns the host this session is connected to
	Host() string

	// Run executes command through the remote shell. A non-zero exit code is
	// reported in Result, not as an error.
	Run(ctx context.Context, command string, escalate bool) (Result, error)

	// WriteFile replaces path with content, creating parent directories
	WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error

	// PathExists reports whether path exists on the host
	PathExists(ctx context.Context, path string) (bool, error)

	Close() error
}

// Executor opens sessions to hosts
type Executor interface {
	Connect(ctx context.Context, host string) (Session, error)
}

// ConnectionError reports a host that could not be reached after retries
type ConnectionError struct {
	Host     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed after %d attempt(s): %v", e.Host, e.Attempts, e.Err)
}

// Unwrap exposes both ErrConnectionFailed and the last underlying cause
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnectionFailed, e.Err}
}

// CommandError reports a command that exited non-zero
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: %q exited with status %d", e.Host, e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: %q exited with status %d: %s", e.Host, e.Command, e.ExitCode, stderr)
}

// RunChecked runs command and turns a non-zero exit into a *CommandError
func RunChecked(ctx context.Context, s Session, command string, escalate bool) (Result, error) {
	res, err := s.Run(ctx, command, escalate)
	if err != nil {
		return res, fmt.Errorf("%s: failed to run %q: %w", s.Host(), command, err)
	}
	if !res.OK() {
		return res, &CommandError{
			Host:     s.Host(),
			Command:  command,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}

type commandTimeoutKey struct{}

// WithCommandTimeout overrides the per-command timeout for commands run
// with the returned context. Long builds use it to outlast the SSH timeout.
func WithCommandTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, commandTimeoutKey{}, d)
}

// CommandTimeout returns the override set by WithCommandTimeout, or fallback
func CommandTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if d, ok := ctx.Value(commandTimeoutKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	return fallback
}

// Quote wraps value in single quotes for a POSIX shell
func Quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
