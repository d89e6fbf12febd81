/*
Package health provides the probe primitives rcluster uses to decide whether
something is up.

Three checkers implement the Checker interface:

	┌──────────────────────────────────────────────────┐
	│                 Checker Interface                │
	│  • Check(ctx) Result                             │
	│  • Type() CheckType                              │
	└────────┬─────────────────────────────────────────┘
	         │
	    ┌────┴─────────┬──────────────┐
	    ▼              ▼              ▼
	┌──────────┐  ┌──────────┐  ┌──────────┐
	│ Remote   │  │   TCP    │  │   HTTP   │
	│  Exec    │  │ Checker  │  │ Checker  │
	└──────────┘  └──────────┘  └──────────┘
	 redis-cli     ssh port      grafana
	 over SSH      reachability  /api/health

RemoteExecChecker runs a command over an already open remote.Session, so a
validation pass needs one SSH connection per host no matter how many
instances it probes. TCPChecker backs the prevalidate command. HTTPChecker
checks Grafana before dashboards are imported.

# Retries

A freshly restarted instance may answer LOADING for a few seconds. Poll runs
a checker until it passes once or fails Config.Retries times in a row, with
Config.Interval between attempts:

	status := health.Poll(ctx, checker, health.Config{
		Interval: 2 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	})
	if !status.Healthy {
		return status.LastResult.Message
	}

Result.Err separates "could not run the probe" from "the probe ran and the
answer was wrong". Validation reports the first as unreachable and the
second as unhealthy.
*/
package health
