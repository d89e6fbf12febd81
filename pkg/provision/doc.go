/*
Package provision runs the per-host install pipeline.

Each host goes through four steps in a fixed order:

	system-prep     swap off, swappiness and overcommit (gated by swap_management)
	engine-install  prerequisites, service user, source build, version check
	instances       config + unit upload, enable, restart for every local port
	exporters       node_exporter and one redis_exporter per port (gated by observability)

The first failing step stops the pipeline for that host and is returned as
a *StepError naming the host, the step and, for per-port work, the port.
Steps are convergent: uploading identical files and restarting is how
re-deploys work, and the build is skipped when the installed binary already
reports the target version.

One session is opened per host and closed on every path. Cancellation is
observed between steps and between ports, never in the middle of a command.
*/
package provision
