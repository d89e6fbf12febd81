package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/rcluster/pkg/events"
	"github.com/cuemby/rcluster/pkg/metrics"
	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/types"
)

var (
	// ErrEngineInstallFailed means the engine binary could not be installed
	// or does not report the expected version.
	ErrEngineInstallFailed = errors.New("engine install failed")

	// ErrExporterFailed means an enabled exporter could not be installed or
	// does not serve metrics.
	ErrExporterFailed = errors.New("exporter install failed")
)

// StepName identifies one pipeline step
type StepName string

const (
	StepSystemPrep    StepName = "system-prep"
	StepEngineInstall StepName = "engine-install"
	StepInstances     StepName = "instances"
	StepExporters     StepName = "exporters"
)

// StepError reports the host and step a pipeline stopped at
type StepError struct {
	Host string
	Step StepName
	// Port is set when the failure is tied to one instance
	Port int
	Err  error
}

func (e *StepError) Error() string {
	if e.Port != 0 {
		return fmt.Sprintf("host %s: step %s (port %d): %v", e.Host, e.Step, e.Port, e.Err)
	}
	return fmt.Sprintf("host %s: step %s: %v", e.Host, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Degradable reports whether the failed step is policy-gated tuning or
// monitoring that the orchestrator may choose to tolerate.
func (e *StepError) Degradable() bool {
	return e.Step == StepSystemPrep || e.Step == StepExporters
}

// StepResult records how one step went
type StepResult struct {
	Step     StepName
	Skipped  bool
	Duration time.Duration
}

// HostReport is the per-host state produced by one pipeline run
type HostReport struct {
	Host   string
	Family PackageFamily
	Steps  []StepResult

	// Ports lists the instances configured and restarted, in order
	Ports []int

	// EngineInstalled is false when the expected version was already present
	EngineInstalled bool
}

type step struct {
	name    StepName
	enabled func(*types.TopologySpec) bool
	run     func(ctx context.Context, s remote.Session, spec *types.TopologySpec, report *HostReport) error
}

// Provisioner runs the ordered install pipeline on one host at a time. It
// is safe to call Provision for different hosts concurrently.
type Provisioner struct {
	executor remote.Executor
	events   events.Publisher
	logger   zerolog.Logger
	steps    []step
}

// New creates a provisioner. publisher may be nil.
func New(executor remote.Executor, publisher events.Publisher, logger zerolog.Logger) *Provisioner {
	p := &Provisioner{
		executor: executor,
		events:   publisher,
		logger:   logger.With().Str("component", "provision").Logger(),
	}
	p.steps = []step{
		{name: StepSystemPrep, enabled: systemPrepEnabled, run: p.systemPrep},
		{name: StepEngineInstall, enabled: always, run: p.engineInstall},
		{name: StepInstances, enabled: always, run: p.instances},
		{name: StepExporters, enabled: exportersEnabled, run: p.exporters},
	}
	return p
}

func always(*types.TopologySpec) bool { return true }

func systemPrepEnabled(spec *types.TopologySpec) bool {
	return spec.SystemPrep.DisableSwap
}

func exportersEnabled(spec *types.TopologySpec) bool {
	return spec.Observability.NodeExporter || spec.Observability.RedisExporter
}

// Provision runs every enabled step against host in order. The first
// failing step aborts the rest and is returned as a *StepError. The report
// reflects the work done up to that point.
func (p *Provisioner) Provision(ctx context.Context, spec *types.TopologySpec, host string) (*HostReport, error) {
	report := &HostReport{Host: host, Family: FamilyUnknown}
	logger := p.logger.With().Str("host", host).Logger()

	session, err := p.executor.Connect(ctx, host)
	if err != nil {
		p.publish(&events.Event{Type: events.EventHostFailed, Host: host, Message: err.Error()})
		return report, err
	}
	defer session.Close()

	for _, st := range p.steps {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("host %s: cancelled before step %s: %w", host, st.name, err)
		}

		if !st.enabled(spec) {
			logger.Debug().Str("step", string(st.name)).Msg("Step disabled by policy")
			report.Steps = append(report.Steps, StepResult{Step: st.name, Skipped: true})
			continue
		}

		logger.Info().Str("step", string(st.name)).Msg("Step started")
		p.publish(&events.Event{Type: events.EventStepStarted, Host: host, Step: string(st.name)})

		timer := metrics.NewTimer()
		err := st.run(ctx, session, spec, report)
		timer.ObserveDurationVec(metrics.StepDuration, string(st.name))
		report.Steps = append(report.Steps, StepResult{Step: st.name, Duration: timer.Duration()})

		if err != nil {
			stepErr := asStepError(host, st.name, err)
			metrics.StepFailures.WithLabelValues(string(st.name)).Inc()
			logger.Error().Err(stepErr.Err).Str("step", string(st.name)).Int("port", stepErr.Port).Msg("Step failed")
			p.publish(&events.Event{
				Type:    events.EventStepFailed,
				Host:    host,
				Step:    string(st.name),
				Message: stepErr.Err.Error(),
			})
			return report, stepErr
		}

		logger.Info().Str("step", string(st.name)).Dur("duration", timer.Duration()).Msg("Step finished")
		p.publish(&events.Event{Type: events.EventStepFinished, Host: host, Step: string(st.name)})
	}

	p.publish(&events.Event{Type: events.EventHostProvisioned, Host: host})
	return report, nil
}

func (p *Provisioner) publish(ev *events.Event) {
	if p.events != nil {
		p.events.Publish(ev)
	}
}

// portError tags a step failure with the instance port it happened on
type portError struct {
	port int
	err  error
}

func (e *portError) Error() string { return e.err.Error() }
func (e *portError) Unwrap() error { return e.err }

func asStepError(host string, name StepName, err error) *StepError {
	stepErr := &StepError{Host: host, Step: name, Err: err}
	var pe *portError
	if errors.As(err, &pe) {
		stepErr.Port = pe.port
		stepErr.Err = pe.err
	}
	return stepErr
}
