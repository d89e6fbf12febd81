/*
Package metrics defines the Prometheus instrumentation for rcluster.

rcluster is a one-shot CLI, so nothing is scraped over HTTP. Instead every
collector is registered on a dedicated Registry at package init and, when the
operator passes --metrics-file, the registry is written once at the end of a
run in the text exposition format:

	rcluster deploy -c topology.yaml --metrics-file /var/lib/node_exporter/textfile/rcluster.prom

node_exporter's textfile collector then picks the file up on its next scrape.

# Metric Categories

Pipeline:
  - rcluster_step_duration_seconds{step}
  - rcluster_step_failures_total{step}
  - rcluster_hosts_provisioned_total{result}

Transport:
  - rcluster_ssh_connect_attempts_total
  - rcluster_ssh_connect_failures_total

Cluster:
  - rcluster_formation_duration_seconds
  - rcluster_validation_endpoints{verdict}
  - rcluster_rollback_substep_failures_total

Runs:
  - rcluster_runs_total{kind,result}
  - rcluster_last_run_timestamp_seconds{kind}

# Timing

	timer := metrics.NewTimer()
	err := step.Run(ctx)
	timer.ObserveDurationVec(metrics.StepDuration, step.Name)
*/
package metrics
