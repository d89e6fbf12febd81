package types

import "time"

// RunKind names the command that produced a run record
type RunKind string

const (
	RunDeploy   RunKind = "deploy"
	RunValidate RunKind = "validate"
	RunRollback RunKind = "rollback"
)

// RunResult is the final outcome of a run
type RunResult string

const (
	RunSucceeded RunResult = "succeeded"
	RunFailed    RunResult = "failed"
	RunRunning   RunResult = "running"
)

// Run is one recorded invocation of deploy, validate or rollback
type Run struct {
	ID         string        `json:"id"`
	Kind       RunKind       `json:"kind"`
	Result     RunResult     `json:"result"`
	DryRun     bool          `json:"dry_run"`
	ConfigPath string        `json:"config_path,omitempty"`
	Nodes      []string      `json:"nodes"`
	Primaries  int           `json:"primaries"`
	Replicas   int           `json:"replicas"`
	Hosts      []HostOutcome `json:"hosts,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// Duration is the wall time of a finished run
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HostOutcome is the per-host part of a run record
type HostOutcome struct {
	Host   string   `json:"host"`
	OK     bool     `json:"ok"`
	Ports  []int    `json:"ports,omitempty"`
	Steps  []string `json:"steps,omitempty"`
	Error  string   `json:"error,omitempty"`
	Failed int      `json:"failed,omitempty"`
}

// HostState is the last known provisioned state of a host
type HostState struct {
	Host            string    `json:"host"`
	Ports           []int     `json:"ports"`
	EngineVersion   string    `json:"engine_version"`
	Family          string    `json:"family,omitempty"`
	ExportersActive bool      `json:"exporters_active"`
	RunID           string    `json:"run_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}
