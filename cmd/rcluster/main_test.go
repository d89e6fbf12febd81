package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rcluster/pkg/events"
	"github.com/cuemby/rcluster/pkg/placement"
	"github.com/cuemby/rcluster/pkg/types"
)

const topology = `
nodes: [10.0.0.1, 10.0.0.2, 10.0.0.3]
ports:
  base: 7000
  count_per_host: 2
cluster:
  masters: 3
  replicas_per_master: 1
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDryRunDeployThenHistory(t *testing.T) {
	for _, key := range []string{"REDIS_DEPLOY_SSH_USER", "REDIS_DEPLOY_SSH_PASSWORD", "REDIS_DEPLOY_SSH_KEY", "REDIS_DEPLOY_SSH_PORT"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	cfg := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(topology), 0644))
	stateDir := filepath.Join(dir, "state")
	metricsFile := filepath.Join(dir, "rcluster.prom")

	out, err := execute(t, "deploy", "-c", cfg, "--dry-run", "--log-file", "", "--log-level", "error",
		"--state-dir", stateDir, "--metrics-file", metricsFile)
	require.NoError(t, err)

	assert.Contains(t, out, "Dry run: no host will be changed")
	assert.Contains(t, out, "10.0.0.1:7000 <- 10.0.0.2:7001")
	assert.Contains(t, out, "✓ 10.0.0.2 provisioned")
	assert.Contains(t, out, "✓ Cluster formed from 10.0.0.1")
	assert.Contains(t, out, "✓ Deployment complete")

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `rcluster_runs_total{kind="deploy",result="succeeded"}`)

	out, err = execute(t, "history", "--state-dir", stateDir, "--log-level", "error", "--kind", "")
	require.NoError(t, err)
	assert.Contains(t, out, "deploy")
	assert.Contains(t, out, "succeeded*")
}

func TestRollbackNeedsConfirmation(t *testing.T) {
	_, err := execute(t, "rollback", "-c", "does-not-matter.yaml", "--dry-run=false", "--yes=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		ev   events.Event
		want string
	}{
		{events.Event{Type: events.EventStepFinished, Host: "h1", Step: "instances"}, "  ✓ h1 instances"},
		{events.Event{Type: events.EventStepFailed, Host: "h1", Step: "engine-install", Message: "exit 2"}, "  ✗ h1 engine-install: exit 2"},
		{events.Event{Type: events.EventHostFailed, Host: "h2", Message: "connection refused"}, "✗ h2: connection refused"},
		{events.Event{Type: events.EventEndpointChecked, Host: "h1"}, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(&tt.ev))
		})
	}
}

func TestPlanWarnings(t *testing.T) {
	spec := &types.TopologySpec{
		Nodes:       []string{"a", "b"},
		Ports:       types.PortsSpec{Base: 7000, CountPerHost: 2},
		Cluster:     types.ClusterSpec{Primaries: 2, ReplicasPerPrimary: 1},
		Persistence: types.PersistenceSpec{Mode: types.PersistenceNone},
	}

	warnings := planWarnings(spec)
	joined := strings.Join(warnings, "\n")
	assert.Len(t, warnings, 4)
	assert.Contains(t, joined, "SSH user")
	assert.Contains(t, joined, "at least 6 instances")
	assert.Contains(t, joined, "persistence disabled")

	spec.Nodes = []string{"a", "b", "c"}
	spec.SSH = types.SSHSpec{User: "ops", Password: "x"}
	spec.Persistence.Mode = types.PersistenceAOF
	assert.Empty(t, planWarnings(spec))
}

func TestPrintPlan(t *testing.T) {
	spec := &types.TopologySpec{
		Nodes:   []string{"a", "b", "c"},
		Ports:   types.PortsSpec{Base: 7000, CountPerHost: 2},
		Cluster: types.ClusterSpec{Primaries: 3, ReplicasPerPrimary: 1},
	}
	plan, err := placement.Plan(spec)
	require.NoError(t, err)

	var buf bytes.Buffer
	printPlan(&buf, plan)
	assert.Equal(t, "Planned primaries (3):\n  a:7000 <- b:7001\n  b:7000 <- c:7001\n  c:7000 <- a:7001\n", buf.String())
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	printRun(&buf, &types.Run{
		ID:     "run-1",
		Kind:   types.RunDeploy,
		Result: types.RunFailed,
		Nodes:  []string{"a", "b"},
		Error:  "1 host(s) failed",
		Hosts: []types.HostOutcome{
			{Host: "a", OK: true, Steps: []string{"engine-install", "instances"}},
			{Host: "b", Error: "engine install failed"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Result:      failed")
	assert.Contains(t, out, "✓ a")
	assert.Contains(t, out, "✗ b")
	assert.Contains(t, out, "engine install failed")
}
