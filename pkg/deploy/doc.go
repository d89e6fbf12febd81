/*
Package deploy orchestrates rcluster runs across every host of a topology.

A Deployer owns the host fan-out and the gates between phases. It is the only
place that knows the order deploy → formation → validation → dashboards, and
the only place that writes run history.

# Architecture

	┌────────────────────── DEPLOY RUN ───────────────────────┐
	│                                                          │
	│   placement.Plan(spec)            (once, pure)           │
	│            │                                             │
	│   ┌────────▼─────────────────────────────┐               │
	│   │  errgroup, SetLimit(Parallelism)     │               │
	│   │  host-1   host-2   ...   host-N      │               │
	│   │  provision.Provisioner.Provision     │               │
	│   └────────┬─────────────────────────────┘               │
	│            │  barrier: every host finished               │
	│            │  any hard failure → *HostErrors, stop       │
	│   ┌────────▼─────────┐                                   │
	│   │  cluster.Form    │  (when cluster.create)            │
	│   └────────┬─────────┘                                   │
	│   ┌────────▼─────────┐                                   │
	│   │  validation      │                                   │
	│   └────────┬─────────┘                                   │
	│   ┌────────▼─────────┐                                   │
	│   │  grafana         │  failure is a warning unless      │
	│   └──────────────────┘  observability.fail_on_error      │
	└──────────────────────────────────────────────────────────┘

Hosts never cancel each other. A host whose only failure is the exporters
step is reported as degraded and still takes part in formation, unless
observability.fail_on_error is set. Operator cancellation propagates through
the context and is honoured between steps.

# History

Every Deploy, Validate and Rollback call records a types.Run in the store,
when one is configured, and bumps rcluster_runs_total. Successful hosts get
a types.HostState entry; a clean rollback removes it. History write failures
are logged and never fail a run.
*/
package deploy
