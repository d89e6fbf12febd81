package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every rcluster metric. It is separate from the default
// registry so the textfile output carries no Go runtime series, which
// node_exporter already exports itself.
var Registry = prometheus.NewRegistry()

var (
	// Pipeline metrics
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rcluster_step_duration_seconds",
			Help:    "Provisioning step duration in seconds by step",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"step"},
	)

	StepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcluster_step_failures_total",
			Help: "Total number of failed provisioning steps by step",
		},
		[]string{"step"},
	)

	HostsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcluster_hosts_provisioned_total",
			Help: "Total number of host pipelines by result",
		},
		[]string{"result"},
	)

	// Transport metrics
	ConnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rcluster_ssh_connect_attempts_total",
			Help: "Total number of SSH connect attempts",
		},
	)

	ConnectFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rcluster_ssh_connect_failures_total",
			Help: "Total number of hosts that stayed unreachable after retries",
		},
	)

	// Cluster metrics
	FormationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rcluster_formation_duration_seconds",
			Help:    "Cluster formation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ValidationVerdicts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rcluster_validation_endpoints",
			Help: "Endpoints by verdict in the last validation",
		},
		[]string{"verdict"},
	)

	RollbackFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rcluster_rollback_substep_failures_total",
			Help: "Total number of failed rollback sub-steps",
		},
	)

	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcluster_runs_total",
			Help: "Total number of runs by kind and result",
		},
		[]string{"kind", "result"},
	)

	LastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rcluster_last_run_timestamp_seconds",
			Help: "Unix time of the last run by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(StepDuration)
	Registry.MustRegister(StepFailures)
	Registry.MustRegister(HostsProvisioned)
	Registry.MustRegister(ConnectAttempts)
	Registry.MustRegister(ConnectFailures)
	Registry.MustRegister(FormationDuration)
	Registry.MustRegister(ValidationVerdicts)
	Registry.MustRegister(RollbackFailures)
	Registry.MustRegister(RunsTotal)
	Registry.MustRegister(LastRunTimestamp)
}

// WriteTextfile writes every registered metric to path in the text
// exposition format read by node_exporter's textfile collector. The file is
// written to a temporary name and renamed into place.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
