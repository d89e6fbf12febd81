package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/rcluster/pkg/cluster"
	"github.com/cuemby/rcluster/pkg/events"
	"github.com/cuemby/rcluster/pkg/grafana"
	"github.com/cuemby/rcluster/pkg/health"
	rlog "github.com/cuemby/rcluster/pkg/log"
	"github.com/cuemby/rcluster/pkg/metrics"
	"github.com/cuemby/rcluster/pkg/placement"
	"github.com/cuemby/rcluster/pkg/provision"
	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/storage"
	"github.com/cuemby/rcluster/pkg/types"
	"github.com/cuemby/rcluster/pkg/validation"
)

// Options tunes a Deployer
type Options struct {
	// Parallelism bounds how many hosts are worked on at once. Zero or
	// less means one host at a time.
	Parallelism int

	// DryRun marks run records and makes validation skip its probes. The
	// executor is expected to be a remote.DryRunExecutor as well.
	DryRun bool

	// SkipValidation stops a deploy after cluster formation
	SkipValidation bool

	// Probe is the liveness probe policy used by validation
	Probe health.Config

	// ConfigPath is recorded in run history
	ConfigPath string
}

// Deployer drives deploy, validate and rollback runs across all hosts
type Deployer struct {
	executor    remote.Executor
	store       storage.Store
	events      events.Publisher
	opts        Options
	logger      zerolog.Logger
	provisioner *provision.Provisioner
	validator   *validation.Validator
}

// NewDeployer creates a deployer. store and publisher may be nil.
func NewDeployer(executor remote.Executor, store storage.Store, publisher events.Publisher, opts Options, logger zerolog.Logger) *Deployer {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Deployer{
		executor:    executor,
		store:       store,
		events:      publisher,
		opts:        opts,
		logger:      logger.With().Str("component", "deploy").Logger(),
		provisioner: provision.New(executor, publisher, logger),
		validator: validation.New(executor, validation.Options{
			DryRun: opts.DryRun,
			Probe:  opts.Probe,
		}, publisher, logger),
	}
}

// HostResult is the outcome of one host's pipeline
type HostResult struct {
	Host   string
	Report *provision.HostReport
	Err    error

	// Degraded is set when a degradable step failed after every instance
	// was already running and the topology tolerates that
	Degraded bool
}

// OK reports whether the host can take part in cluster formation
func (h *HostResult) OK() bool {
	return h.Err == nil || h.Degraded
}

// Result summarises a deploy run
type Result struct {
	RunID      string
	Plan       *types.PlacementResult
	Hosts      []*HostResult
	Formed     bool
	Validation *types.ValidationReport

	// MonitoringErr holds a dashboard provisioning failure that did not
	// fail the run
	MonitoringErr error
}

// Deploy provisions every host, forms the cluster once all of them
// succeeded, validates it and provisions dashboards. Host failures never
// cancel other hosts; they are aggregated into a *HostErrors.
func (d *Deployer) Deploy(ctx context.Context, spec *types.TopologySpec) (*Result, error) {
	plan, err := placement.Plan(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to plan placement: %w", err)
	}

	run := d.startRun(types.RunDeploy, spec)
	result := &Result{RunID: run.ID, Plan: plan}
	logger := rlog.WithRunID(d.logger, run.ID)
	logger.Info().
		Int("hosts", len(spec.Nodes)).
		Int("parallelism", d.opts.Parallelism).
		Bool("dry_run", d.opts.DryRun).
		Msg("Deploy started")

	err = d.deploy(ctx, spec, plan, result, logger)
	for _, h := range result.Hosts {
		run.Hosts = append(run.Hosts, hostOutcome(h))
	}
	d.finishRun(run, err)
	return result, err
}

func (d *Deployer) deploy(ctx context.Context, spec *types.TopologySpec, plan *types.PlacementResult, result *Result, logger zerolog.Logger) error {
	result.Hosts = d.provisionHosts(ctx, spec, result.RunID)

	var failed []*HostError
	for _, h := range result.Hosts {
		if !h.OK() {
			failed = append(failed, &HostError{Host: h.Host, Err: h.Err})
		}
	}
	if len(failed) > 0 {
		logger.Error().Int("failed", len(failed)).Msg("Skipping cluster formation, hosts failed")
		return &HostErrors{Failures: failed}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deploy cancelled: %w", err)
	}

	if spec.Cluster.Create {
		if err := d.formAndValidate(ctx, spec, plan, result, logger); err != nil {
			return err
		}
	} else {
		logger.Info().Msg("Cluster creation disabled, skipping formation and validation")
	}

	if spec.Observability.Grafana.Enabled && !d.opts.DryRun {
		if err := grafana.Provision(ctx, spec.Observability.Grafana, logger); err != nil {
			err = fmt.Errorf("%w: %w", ErrMonitoring, err)
			d.publish(&events.Event{Type: events.EventMonitoringFailed, Message: err.Error()})
			if spec.Observability.FailOnError {
				return err
			}
			logger.Warn().Err(err).Msg("Monitoring setup failed, continuing")
			result.MonitoringErr = err
		}
	}

	logger.Info().Msg("Deploy finished")
	return nil
}

// formAndValidate creates the cluster from the planned primaries and,
// unless disabled, validates it
func (d *Deployer) formAndValidate(ctx context.Context, spec *types.TopologySpec, plan *types.PlacementResult, result *Result, logger zerolog.Logger) error {
	if err := cluster.Form(ctx, spec, plan.Primaries, d.executor, logger); err != nil {
		d.publish(&events.Event{Type: events.EventFormationFailed, Message: err.Error()})
		return err
	}
	result.Formed = true
	d.publish(&events.Event{
		Type:    events.EventClusterFormed,
		Host:    plan.Primaries[0].Host,
		Message: fmt.Sprintf("%d primaries, %d replicas", len(plan.Primaries), len(plan.Replicas())),
	})

	if !d.opts.SkipValidation {
		report, err := d.validate(ctx, spec)
		result.Validation = report
		if err != nil {
			return err
		}
	}
	return nil
}

// provisionHosts runs the pipeline on every host, at most Parallelism at
// a time, and returns the outcomes in topology order
func (d *Deployer) provisionHosts(ctx context.Context, spec *types.TopologySpec, runID string) []*HostResult {
	results := make([]*HostResult, len(spec.Nodes))

	var g errgroup.Group
	g.SetLimit(d.opts.Parallelism)
	for i, host := range spec.Nodes {
		g.Go(func() error {
			results[i] = d.provisionHost(ctx, spec, host, runID)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Deployer) provisionHost(ctx context.Context, spec *types.TopologySpec, host, runID string) *HostResult {
	hr := &HostResult{Host: host}
	hr.Report, hr.Err = d.provisioner.Provision(ctx, spec, host)
	logger := rlog.WithHost(d.logger, host)

	var stepErr *provision.StepError
	if errors.As(hr.Err, &stepErr) && stepErr.Degradable() && instancesUp(spec, hr.Report) && !spec.Observability.FailOnError {
		hr.Degraded = true
		logger.Warn().Err(hr.Err).Str("step", string(stepErr.Step)).Msg("Step failed after instances started, continuing without it")
	}

	switch {
	case hr.Err == nil:
		metrics.HostsProvisioned.WithLabelValues("ok").Inc()
	case hr.Degraded:
		metrics.HostsProvisioned.WithLabelValues("degraded").Inc()
	default:
		metrics.HostsProvisioned.WithLabelValues("failed").Inc()
	}

	if hr.OK() && !d.opts.DryRun && d.store != nil {
		state := &types.HostState{
			Host:            host,
			Ports:           hr.Report.Ports,
			EngineVersion:   spec.EngineVersion,
			Family:          string(hr.Report.Family),
			RunID:           runID,
			ExportersActive: hr.Err == nil && (spec.Observability.NodeExporter || spec.Observability.RedisExporter),
		}
		if err := d.store.PutHostState(state); err != nil {
			logger.Warn().Err(err).Msg("Failed to record host state")
		}
	}
	return hr
}

// instancesUp reports whether every port of the host was configured and
// started before the pipeline stopped.
func instancesUp(spec *types.TopologySpec, report *provision.HostReport) bool {
	return report != nil && len(report.Ports) == spec.Ports.CountPerHost
}

// Validate checks the running cluster against spec and records the run
func (d *Deployer) Validate(ctx context.Context, spec *types.TopologySpec) (*types.ValidationReport, error) {
	run := d.startRun(types.RunValidate, spec)
	report, err := d.validate(ctx, spec)
	d.finishRun(run, err)
	return report, err
}

func (d *Deployer) validate(ctx context.Context, spec *types.TopologySpec) (*types.ValidationReport, error) {
	report, err := d.validator.Validate(ctx, spec)
	if err != nil {
		d.publish(&events.Event{Type: events.EventValidationFailed, Message: err.Error()})
		return report, err
	}
	d.publish(&events.Event{
		Type:    events.EventValidated,
		Message: fmt.Sprintf("%d endpoints healthy, cluster_state %s", len(report.Endpoints), report.ClusterState),
	})
	return report, nil
}

func (d *Deployer) publish(ev *events.Event) {
	if d.events != nil {
		d.events.Publish(ev)
	}
}

func hostOutcome(h *HostResult) types.HostOutcome {
	out := types.HostOutcome{Host: h.Host, OK: h.OK()}
	if h.Report != nil {
		out.Ports = h.Report.Ports
		for _, s := range h.Report.Steps {
			if !s.Skipped {
				out.Steps = append(out.Steps, string(s.Step))
			}
		}
	}
	if h.Err != nil {
		out.Error = h.Err.Error()
	}
	return out
}

// startRun records a new run. History failures are logged, never fatal.
func (d *Deployer) startRun(kind types.RunKind, spec *types.TopologySpec) *types.Run {
	run := &types.Run{
		ID:         uuid.New().String(),
		Kind:       kind,
		Result:     types.RunRunning,
		DryRun:     d.opts.DryRun,
		ConfigPath: d.opts.ConfigPath,
		Nodes:      spec.Nodes,
		Primaries:  spec.Cluster.Primaries,
		Replicas:   spec.ExpectedReplicas(),
		StartedAt:  time.Now(),
	}
	if d.store == nil {
		return run
	}
	if err := d.store.CreateRun(run); err != nil {
		d.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to record run")
	}
	return run
}

func (d *Deployer) finishRun(run *types.Run, err error) {
	run.FinishedAt = time.Now()
	run.Result = types.RunSucceeded
	if err != nil {
		run.Result = types.RunFailed
		run.Error = err.Error()
	}

	metrics.RunsTotal.WithLabelValues(string(run.Kind), string(run.Result)).Inc()
	metrics.LastRunTimestamp.WithLabelValues(string(run.Kind)).Set(float64(run.FinishedAt.Unix()))

	if d.store == nil {
		return
	}
	if err := d.store.UpdateRun(run); err != nil {
		d.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to update run")
	}
}
