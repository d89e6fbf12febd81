package deploy

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	rlog "github.com/cuemby/rcluster/pkg/log"
	"github.com/cuemby/rcluster/pkg/rollback"
	"github.com/cuemby/rcluster/pkg/types"
)

// RollbackResult collects the per-host rollback reports of one run
type RollbackResult struct {
	RunID   string
	Reports []*rollback.Report
}

// Failed returns the number of failed sub-steps across all hosts
func (r *RollbackResult) Failed() int {
	n := 0
	for _, rep := range r.Reports {
		n += len(rep.Failures)
	}
	return n
}

// Rollback tears down every host's instances. The ports removed on a host
// are the topology's ports plus any recorded for it by an earlier deploy.
// The returned error only summarises failed sub-steps; every host and
// sub-step is always attempted.
func (d *Deployer) Rollback(ctx context.Context, spec *types.TopologySpec) (*RollbackResult, error) {
	run := d.startRun(types.RunRollback, spec)
	result := &RollbackResult{RunID: run.ID, Reports: make([]*rollback.Report, len(spec.Nodes))}

	logger := rlog.WithRunID(d.logger, run.ID)
	var g errgroup.Group
	g.SetLimit(d.opts.Parallelism)
	for i, host := range spec.Nodes {
		g.Go(func() error {
			result.Reports[i] = rollback.Rollback(ctx, spec, host, d.portsFor(spec, host), d.executor, d.events, logger)
			return nil
		})
	}
	_ = g.Wait()

	var err error
	if failed := result.Failed(); failed > 0 {
		err = fmt.Errorf("rollback finished with %d failed sub-step(s)", failed)
	}

	for _, rep := range result.Reports {
		outcome := types.HostOutcome{Host: rep.Host, OK: rep.OK(), Failed: len(rep.Failures)}
		if len(rep.Failures) > 0 {
			outcome.Error = rep.Failures[0].String()
		}
		run.Hosts = append(run.Hosts, outcome)

		if rep.OK() && !d.opts.DryRun && d.store != nil {
			if derr := d.store.DeleteHostState(rep.Host); derr != nil {
				d.logger.Warn().Err(derr).Str("host", rep.Host).Msg("Failed to clear host state")
			}
		}
	}
	d.finishRun(run, err)
	return result, err
}

func (d *Deployer) portsFor(spec *types.TopologySpec, host string) []int {
	ports := spec.HostPorts()
	if d.store == nil {
		return ports
	}
	state, err := d.store.GetHostState(host)
	if err != nil {
		return ports
	}
	for _, p := range state.Ports {
		if !slices.Contains(ports, p) {
			ports = append(ports, p)
		}
	}
	slices.Sort(ports)
	return ports
}
