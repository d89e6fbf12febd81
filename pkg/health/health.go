package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP       CheckType = "http"
	CheckTypeTCP        CheckType = "tcp"
	CheckTypeRemoteExec CheckType = "remote-exec"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration

	// Err is set when the probe itself could not be carried out, as opposed
	// to running and reporting a bad answer.
	Err error

	// Output is the probe's raw answer, when it has one
	Output string
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between attempts
	Interval time.Duration

	// Timeout is the maximum time to wait for one attempt
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns the probe policy used after instances restart
func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks consecutive outcomes of one probe target
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result

	// Healthy flips to false only after Retries consecutive failures
	Healthy bool
}

// NewStatus creates a Status that assumes health until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// Poll runs checker until it passes once or fails Retries times in a row,
// sleeping Interval between attempts. The returned status holds the final
// verdict and the last result.
func Poll(ctx context.Context, checker Checker, config Config) *Status {
	status := NewStatus()
	if config.Retries < 1 {
		config.Retries = 1
	}

	for {
		checkCtx := ctx
		var cancel context.CancelFunc = func() {}
		if config.Timeout > 0 {
			checkCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		}
		result := checker.Check(checkCtx)
		cancel()

		status.Update(result, config)
		if result.Healthy || !status.Healthy {
			return status
		}

		select {
		case <-ctx.Done():
			status.Healthy = false
			status.LastResult.Message = "cancelled: " + status.LastResult.Message
			return status
		case <-time.After(config.Interval):
		}
	}
}
