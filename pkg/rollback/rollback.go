// Package rollback tears down the per-port artifacts installed on a host.
//
// Rollback is best effort. Every sub-step is attempted even when an earlier
// one failed, artifacts that are already gone count as removed, and failures
// are logged and counted in the Report instead of being returned.
package rollback

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/rcluster/pkg/events"
	"github.com/cuemby/rcluster/pkg/metrics"
	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/render"
	"github.com/cuemby/rcluster/pkg/types"
)

// Failure is one sub-step that could not be completed
type Failure struct {
	Port   int
	Action string
	Err    error
}

func (f Failure) String() string {
	if f.Port == 0 {
		return fmt.Sprintf("%s: %v", f.Action, f.Err)
	}
	return fmt.Sprintf("port %d %s: %v", f.Port, f.Action, f.Err)
}

// Report summarises one rollback run on one host
type Report struct {
	Host      string
	Connected bool
	Attempted int
	Failures  []Failure
}

// OK reports whether every sub-step succeeded
func (r *Report) OK() bool {
	return r.Connected && len(r.Failures) == 0
}

type action struct {
	name    string
	port    int
	command string
}

func actions(spec *types.TopologySpec, ports []int) []action {
	var out []action
	for _, port := range ports {
		out = append(out, unitActions(port, render.UnitName(port), render.UnitPath(spec, port))...)
		out = append(out, action{
			name:    "remove-config",
			port:    port,
			command: "rm -f " + remote.Quote(render.ConfPath(spec, port)),
		})
		if spec.Observability.RedisExporter {
			out = append(out, unitActions(port, render.ExporterUnitName(port), render.ExporterUnitPath(spec, port))...)
		}
	}
	return append(out, action{name: "daemon-reload", command: "systemctl daemon-reload"})
}

func unitActions(port int, unit, unitPath string) []action {
	return []action{
		{name: "stop " + unit, port: port, command: "systemctl stop " + unit},
		{name: "disable " + unit, port: port, command: "systemctl disable " + unit},
		{name: "remove " + unit, port: port, command: "rm -f " + remote.Quote(unitPath)},
	}
}

// alreadyAbsent reports whether systemctl failed only because the unit is gone
func alreadyAbsent(res remote.Result) bool {
	if res.ExitCode == 5 {
		return true
	}
	stderr := strings.ToLower(res.Stderr)
	return strings.Contains(stderr, "not loaded") ||
		strings.Contains(stderr, "does not exist") ||
		strings.Contains(stderr, "not found")
}

// Rollback stops, disables and removes the units and configs of ports on
// host, then reloads systemd. It never returns an error.
func Rollback(ctx context.Context, spec *types.TopologySpec, host string, ports []int, executor remote.Executor, publisher events.Publisher, logger zerolog.Logger) *Report {
	logger = logger.With().Str("component", "rollback").Str("host", host).Logger()
	plan := actions(spec, ports)
	report := &Report{Host: host}

	defer func() {
		metrics.RollbackFailures.Add(float64(len(report.Failures)))
		if publisher != nil {
			publisher.Publish(&events.Event{
				Type:    events.EventRollbackFinished,
				Host:    host,
				Message: fmt.Sprintf("%d of %d sub-steps failed", len(report.Failures), report.Attempted),
			})
		}
	}()

	session, err := executor.Connect(ctx, host)
	if err != nil {
		logger.Error().Err(err).Msg("Rollback could not reach host")
		for _, a := range plan {
			report.Attempted++
			report.Failures = append(report.Failures, Failure{Port: a.port, Action: a.name, Err: err})
		}
		return report
	}
	defer session.Close()
	report.Connected = true

	for _, a := range plan {
		report.Attempted++
		res, err := session.Run(ctx, a.command, true)
		switch {
		case err != nil:
		case res.OK(), alreadyAbsent(res):
			logger.Debug().Str("action", a.name).Int("port", a.port).Msg("Rollback step done")
			continue
		default:
			err = &remote.CommandError{Host: host, Command: a.command, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		logger.Warn().Err(err).Str("action", a.name).Int("port", a.port).Msg("Rollback step failed, continuing")
		report.Failures = append(report.Failures, Failure{Port: a.port, Action: a.name, Err: err})
	}

	logger.Info().Int("attempted", report.Attempted).Int("failed", len(report.Failures)).Msg("Rollback finished")
	return report
}
