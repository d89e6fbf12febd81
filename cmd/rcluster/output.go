package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cuemby/rcluster/pkg/deploy"
	"github.com/cuemby/rcluster/pkg/events"
	"github.com/cuemby/rcluster/pkg/rollback"
	"github.com/cuemby/rcluster/pkg/types"
	"github.com/cuemby/rcluster/pkg/validation"
)

// progress prints broker events as they arrive
type progress struct {
	out  io.Writer
	done chan struct{}
}

func newProgress(out io.Writer, sub events.Subscriber) *progress {
	p := &progress{out: out, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for ev := range sub {
			if line := formatEvent(ev); line != "" {
				fmt.Fprintln(p.out, line)
			}
		}
	}()
	return p
}

// wait blocks until the subscription is closed and drained
func (p *progress) wait() {
	<-p.done
}

func formatEvent(ev *events.Event) string {
	switch ev.Type {
	case events.EventStepStarted:
		return fmt.Sprintf("  … %s %s", ev.Host, ev.Step)
	case events.EventStepFinished:
		return fmt.Sprintf("  ✓ %s %s", ev.Host, ev.Step)
	case events.EventStepFailed:
		return fmt.Sprintf("  ✗ %s %s: %s", ev.Host, ev.Step, ev.Message)
	case events.EventHostProvisioned:
		return fmt.Sprintf("✓ %s provisioned", ev.Host)
	case events.EventHostFailed:
		return fmt.Sprintf("✗ %s: %s", ev.Host, ev.Message)
	case events.EventClusterFormed:
		return fmt.Sprintf("✓ Cluster formed from %s (%s)", ev.Host, ev.Message)
	case events.EventFormationFailed:
		return fmt.Sprintf("✗ Cluster formation failed: %s", ev.Message)
	case events.EventValidated:
		return fmt.Sprintf("✓ Validation passed: %s", ev.Message)
	case events.EventValidationFailed:
		return fmt.Sprintf("✗ Validation failed: %s", ev.Message)
	case events.EventMonitoringFailed:
		return fmt.Sprintf("⚠ %s", ev.Message)
	case events.EventRollbackFinished:
		return fmt.Sprintf("✓ %s rolled back (%s)", ev.Host, ev.Message)
	}
	return ""
}

func printPlan(w io.Writer, plan *types.PlacementResult) {
	fmt.Fprintf(w, "Planned primaries (%d):\n", len(plan.Primaries))
	for _, line := range strings.Split(strings.TrimRight(plan.String(), "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func printDeployResult(w io.Writer, result *deploy.Result) {
	if result == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Hosts:")
	for _, h := range result.Hosts {
		switch {
		case h.Err == nil:
			fmt.Fprintf(w, "  ✓ %-24s ports %s\n", h.Host, joinInts(h.Report.Ports))
		case h.Degraded:
			fmt.Fprintf(w, "  ⚠ %-24s degraded: %v\n", h.Host, h.Err)
		default:
			fmt.Fprintf(w, "  ✗ %-24s %v\n", h.Host, h.Err)
		}
	}
	if result.Validation != nil {
		fmt.Fprintln(w)
		printValidationReport(w, result.Validation, nil)
	}
	if result.RunID != "" {
		fmt.Fprintf(w, "\nRun %s\n", result.RunID)
	}
}

func printValidationReport(w io.Writer, report *types.ValidationReport, err error) {
	if report == nil {
		return
	}
	healthy := len(report.Endpoints) - len(report.Unhealthy())
	fmt.Fprintf(w, "Endpoints healthy: %d/%d\n", healthy, len(report.Endpoints))
	for _, eh := range report.Unhealthy() {
		fmt.Fprintf(w, "  ✗ %-24s %s: %s\n", eh.Endpoint, eh.Verdict, eh.Reason)
	}
	if report.ClusterState != "" {
		fmt.Fprintf(w, "Cluster state:     %s\n", report.ClusterState)
	}
	if report.ObservedPrimaries > 0 || report.ObservedReplicas > 0 {
		fmt.Fprintf(w, "Primaries:         %d (expected %d)\n", report.ObservedPrimaries, report.ExpectedPrimaries)
		fmt.Fprintf(w, "Replicas:          %d (expected %d)\n", report.ObservedReplicas, report.ExpectedReplicas)
	}

	var verr *validation.ValidationError
	if errors.As(err, &verr) && verr.Kind == validation.KindAntiAffinity {
		for _, f := range verr.Failures {
			fmt.Fprintf(w, "  ✗ %-24s %s\n", f.Endpoint, f.Reason)
		}
	}
}

func printRollbackReports(w io.Writer, reports []*rollback.Report) {
	for _, rep := range reports {
		if rep.OK() {
			fmt.Fprintf(w, "  ✓ %-24s %d sub-steps\n", rep.Host, rep.Attempted)
			continue
		}
		fmt.Fprintf(w, "  ✗ %-24s %d of %d sub-steps failed\n", rep.Host, len(rep.Failures), rep.Attempted)
		for _, f := range rep.Failures {
			fmt.Fprintf(w, "      %s\n", f)
		}
	}
}

func joinInts(values []int) string {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
