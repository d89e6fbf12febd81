// Package validation checks a running cluster against its topology.
package validation

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/rcluster/pkg/events"
	"github.com/cuemby/rcluster/pkg/health"
	"github.com/cuemby/rcluster/pkg/metrics"
	"github.com/cuemby/rcluster/pkg/placement"
	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/types"
)

// Options configures a Validator
type Options struct {
	// DryRun records every endpoint healthy and skips cluster queries
	DryRun bool

	// Probe is the retry policy for each liveness probe
	Probe health.Config
}

// Validator compares the live cluster with what the topology expects. It
// always recomputes the expected placement from the topology it is given.
type Validator struct {
	executor remote.Executor
	opts     Options
	events   events.Publisher
	logger   zerolog.Logger
}

// New creates a validator. publisher may be nil.
func New(executor remote.Executor, opts Options, publisher events.Publisher, logger zerolog.Logger) *Validator {
	if opts.Probe.Retries == 0 {
		opts.Probe = health.DefaultConfig()
	}
	return &Validator{
		executor: executor,
		opts:     opts,
		events:   publisher,
		logger:   logger.With().Str("component", "validation").Logger(),
	}
}

// Validate probes every endpoint, then checks cluster state and topology
// from the first expected primary. The report is returned even when
// validation fails so callers can render it.
func (v *Validator) Validate(ctx context.Context, spec *types.TopologySpec) (*types.ValidationReport, error) {
	plan, err := placement.Plan(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to compute expected placement: %w", err)
	}

	report := &types.ValidationReport{
		ExpectedPrimaries: spec.Cluster.Primaries,
		ExpectedReplicas:  spec.ExpectedReplicas(),
		DryRun:            v.opts.DryRun,
		CheckedAt:         time.Now(),
	}

	if v.opts.DryRun {
		for _, ep := range spec.Endpoints() {
			report.Endpoints = append(report.Endpoints, types.EndpointHealth{
				Endpoint: ep,
				Verdict:  types.VerdictHealthy,
				Reason:   "dry-run",
			})
		}
		report.ClusterState = "skipped"
		v.logger.Info().Int("endpoints", len(report.Endpoints)).Msg("Dry run, skipping probes")
		return report, nil
	}

	for _, host := range spec.Nodes {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("validation cancelled: %w", err)
		}
		report.Endpoints = append(report.Endpoints, v.probeHost(ctx, spec, host)...)
	}
	v.recordVerdicts(report)

	if unhealthy := report.Unhealthy(); len(unhealthy) > 0 {
		failures := make([]Failure, len(unhealthy))
		for i, eh := range unhealthy {
			failures[i] = Failure{Endpoint: eh.Endpoint, Reason: string(eh.Verdict) + ": " + eh.Reason}
		}
		return report, &ValidationError{Kind: KindUnhealthyInstances, Failures: failures}
	}

	target := plan.Primaries[0]
	state, nodes, err := v.queryCluster(ctx, spec, target)
	report.ClusterState = state
	if err != nil {
		return report, &ValidationError{
			Kind:         KindClusterState,
			ClusterState: state,
			Failures:     []Failure{{Endpoint: target, Reason: err.Error()}},
		}
	}
	if state != "ok" {
		return report, &ValidationError{Kind: KindClusterState, ClusterState: state}
	}

	report.ObservedPrimaries, report.ObservedReplicas = CountRoles(nodes)
	if report.ObservedPrimaries != report.ExpectedPrimaries || report.ObservedReplicas != report.ExpectedReplicas {
		return report, &ValidationError{
			Kind:              KindTopologyMismatch,
			ExpectedPrimaries: report.ExpectedPrimaries,
			ExpectedReplicas:  report.ExpectedReplicas,
			ObservedPrimaries: report.ObservedPrimaries,
			ObservedReplicas:  report.ObservedReplicas,
		}
	}

	if violations := AntiAffinityViolations(nodes); len(violations) > 0 {
		return report, &ValidationError{Kind: KindAntiAffinity, Failures: violations}
	}

	v.logger.Info().
		Int("primaries", report.ObservedPrimaries).
		Int("replicas", report.ObservedReplicas).
		Msg("Cluster validated")
	return report, nil
}

func cli(spec *types.TopologySpec, port int, args string) string {
	return fmt.Sprintf("%s -p %d %s", path.Join(spec.Paths.InstallPrefix, "bin", "redis-cli"), port, args)
}

// probeHost probes every local port of host over a single session
func (v *Validator) probeHost(ctx context.Context, spec *types.TopologySpec, host string) []types.EndpointHealth {
	ports := spec.HostPorts()
	out := make([]types.EndpointHealth, 0, len(ports))
	logger := v.logger.With().Str("host", host).Logger()

	session, err := v.executor.Connect(ctx, host)
	if err != nil {
		logger.Error().Err(err).Msg("Host unreachable")
		for _, port := range ports {
			out = append(out, v.verdict(types.Endpoint{Host: host, Port: port}, types.VerdictUnreachable, err.Error()))
		}
		return out
	}
	defer session.Close()

	for _, port := range ports {
		ep := types.Endpoint{Host: host, Port: port}
		checker := health.NewRemoteExecChecker(session, cli(spec, port, "ping")).WithExpect("PONG")
		status := health.Poll(ctx, checker, v.opts.Probe)

		switch {
		case status.Healthy:
			out = append(out, v.verdict(ep, types.VerdictHealthy, status.LastResult.Message))
			v.checkMemory(ctx, session, spec, ep)
		case status.LastResult.Err != nil:
			out = append(out, v.verdict(ep, types.VerdictUnreachable, status.LastResult.Message))
		default:
			out = append(out, v.verdict(ep, types.VerdictUnhealthy, status.LastResult.Message))
		}
	}
	return out
}

func (v *Validator) verdict(ep types.Endpoint, verdict types.HealthVerdict, reason string) types.EndpointHealth {
	eh := types.EndpointHealth{Endpoint: ep, Verdict: verdict, Reason: reason}

	ev := v.logger.Info()
	if verdict != types.VerdictHealthy {
		ev = v.logger.Error()
	}
	ev.Str("endpoint", ep.String()).Str("verdict", string(verdict)).Str("reason", reason).Msg("Endpoint checked")

	if v.events != nil {
		v.events.Publish(&events.Event{
			Type:     events.EventEndpointChecked,
			Host:     ep.Host,
			Message:  ep.String() + " " + string(verdict),
			Metadata: map[string]string{"verdict": string(verdict), "reason": reason},
		})
	}
	return eh
}

// checkMemory logs a warning when an instance is close to its maxmemory
func (v *Validator) checkMemory(ctx context.Context, session remote.Session, spec *types.TopologySpec, ep types.Endpoint) {
	res, err := session.Run(ctx, cli(spec, ep.Port, "info memory"), false)
	if err != nil || res.ExitCode != 0 {
		return
	}
	if used, limit, high := memoryPressure(ParseInfo(res.Stdout)); high {
		v.logger.Warn().
			Str("endpoint", ep.String()).
			Int64("used_memory", used).
			Int64("maxmemory", limit).
			Msg("Instance is above 90% of maxmemory")
	}
}

// queryCluster reads cluster info and cluster nodes from target
func (v *Validator) queryCluster(ctx context.Context, spec *types.TopologySpec, target types.Endpoint) (string, []ClusterNode, error) {
	session, err := v.executor.Connect(ctx, target.Host)
	if err != nil {
		return "", nil, err
	}
	defer session.Close()

	res, err := remote.RunChecked(ctx, session, cli(spec, target.Port, "cluster info"), false)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query cluster info: %w", err)
	}
	state := ParseInfo(res.Stdout)["cluster_state"]
	if state != "ok" {
		return state, nil, nil
	}

	res, err = remote.RunChecked(ctx, session, cli(spec, target.Port, "cluster nodes"), false)
	if err != nil {
		return state, nil, fmt.Errorf("failed to query cluster nodes: %w", err)
	}
	return state, ParseClusterNodes(strings.TrimSpace(res.Stdout)), nil
}

func (v *Validator) recordVerdicts(report *types.ValidationReport) {
	counts := map[types.HealthVerdict]int{
		types.VerdictHealthy:     0,
		types.VerdictUnhealthy:   0,
		types.VerdictUnreachable: 0,
	}
	for _, eh := range report.Endpoints {
		counts[eh.Verdict]++
	}
	for verdict, n := range counts {
		metrics.ValidationVerdicts.WithLabelValues(string(verdict)).Set(float64(n))
	}
}
