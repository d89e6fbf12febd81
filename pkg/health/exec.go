package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/rcluster/pkg/remote"
)

// RemoteExecChecker runs a command over an open session and passes when it
// exits 0 and, if Expect is set, its output contains Expect.
type RemoteExecChecker struct {
	Session  remote.Session
	Command  string
	Expect   string
	Escalate bool
}

// NewRemoteExecChecker creates a checker for command on session
func NewRemoteExecChecker(session remote.Session, command string) *RemoteExecChecker {
	return &RemoteExecChecker{
		Session: session,
		Command: command,
	}
}

// Check performs the remote command check
func (e *RemoteExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	res, err := e.Session.Run(ctx, e.Command, e.Escalate)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("%s: %v", e.Session.Host(), err),
			CheckedAt: start,
			Duration:  time.Since(start),
			Err:       err,
		}
	}

	output := strings.TrimSpace(res.Stdout)
	result := Result{
		Healthy:   true,
		Message:   output,
		CheckedAt: start,
		Duration:  time.Since(start),
		Output:    res.Stdout,
	}

	switch {
	case res.Skipped:
		result.Message = "skipped"
	case res.ExitCode != 0:
		result.Healthy = false
		result.Message = fmt.Sprintf("exit status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	case e.Expect != "" && !strings.Contains(res.Stdout, e.Expect):
		result.Healthy = false
		result.Message = fmt.Sprintf("unexpected response %q, want %q", truncate(output, 100), e.Expect)
	}
	return result
}

// Type returns the health check type
func (e *RemoteExecChecker) Type() CheckType {
	return CheckTypeRemoteExec
}

// WithExpect sets the substring a passing answer must contain
func (e *RemoteExecChecker) WithExpect(expect string) *RemoteExecChecker {
	e.Expect = expect
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
