package validation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rcluster/pkg/health"
	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/remote/remotetest"
	"github.com/cuemby/rcluster/pkg/types"
)

var fastProbe = health.Config{Interval: time.Millisecond, Retries: 1}

func testSpec() *types.TopologySpec {
	return &types.TopologySpec{
		Nodes:   []string{"node-a", "node-b", "node-c"},
		Ports:   types.PortsSpec{Base: 7000, CountPerHost: 2},
		Cluster: types.ClusterSpec{Primaries: 3, ReplicasPerPrimary: 1},
		Paths:   types.PathsSpec{InstallPrefix: "/usr/local"},
	}
}

const healthyNodes = `a1 node-a:7000@17000 myself,master - 0 0 1 connected 0-5460
b1 node-b:7000@17000 master - 0 1700000000000 2 connected 5461-10922
c1 node-c:7000@17000 master - 0 1700000000000 3 connected 10923-16383
a2 node-a:7001@17001 slave c1 0 1700000000000 3 connected
b2 node-b:7001@17001 slave a1 0 1700000000000 1 connected
c2 node-c:7001@17001 slave b1 0 1700000000000 2 connected
`

// liveCluster scripts a formed 3x2 cluster that answers every probe
func liveCluster(nodes string) *remotetest.Executor {
	exec := remotetest.New()
	exec.On(" ping", remote.Result{Stdout: "PONG\n"})
	exec.On("info memory", remote.Result{Stdout: "# Memory\r\nused_memory:1048576\r\nmaxmemory:0\r\n"})
	exec.On("cluster info", remote.Result{Stdout: "cluster_state:ok\r\ncluster_slots_assigned:16384\r\ncluster_known_nodes:6\r\n"})
	exec.On("cluster nodes", remote.Result{Stdout: nodes})
	return exec
}

func TestValidate_Healthy(t *testing.T) {
	exec := liveCluster(healthyNodes)
	v := New(exec, Options{Probe: fastProbe}, nil, zerolog.Nop())

	report, err := v.Validate(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Len(t, report.Endpoints, 6)
	assert.Empty(t, report.Unhealthy())
	assert.Equal(t, "ok", report.ClusterState)
	assert.Equal(t, 3, report.ObservedPrimaries)
	assert.Equal(t, 3, report.ObservedReplicas)
	assert.Equal(t, 3, report.ExpectedReplicas)
	assert.False(t, report.DryRun)

	assert.Equal(t, 4, exec.Connects(), "one session per host plus the cluster query")
	assert.Equal(t, 0, exec.OpenSessions())

	calls := exec.CommandsContaining("cluster info")
	require.Len(t, calls, 1)
	assert.Equal(t, "node-a", calls[0].Host)
	assert.Equal(t, "/usr/local/bin/redis-cli -p 7000 cluster info", calls[0].Command)
}

func TestValidate_AccumulatesEveryUnhealthyEndpoint(t *testing.T) {
	exec := liveCluster(healthyNodes)
	exec.FailConnect("node-b", nil)
	exec.OnHost("node-c", "-p 7001 ping", remote.Result{ExitCode: 1, Stderr: "Could not connect to Redis at 127.0.0.1:7001: Connection refused"})

	report, err := New(exec, Options{Probe: fastProbe}, nil, zerolog.Nop()).Validate(context.Background(), testSpec())
	require.Error(t, err)
	require.NotNil(t, report)

	assert.ErrorIs(t, err, ErrUnhealthyInstances)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindUnhealthyInstances, verr.Kind)
	require.Len(t, verr.Failures, 3)
	assert.Equal(t, types.Endpoint{Host: "node-b", Port: 7000}, verr.Failures[0].Endpoint)
	assert.Equal(t, types.Endpoint{Host: "node-b", Port: 7001}, verr.Failures[1].Endpoint)
	assert.Equal(t, types.Endpoint{Host: "node-c", Port: 7001}, verr.Failures[2].Endpoint)
	assert.True(t, strings.HasPrefix(verr.Failures[0].Reason, "unreachable"))
	assert.True(t, strings.HasPrefix(verr.Failures[2].Reason, "unhealthy"))
	assert.Contains(t, err.Error(), "node-c:7001")

	assert.Len(t, report.Unhealthy(), 3)
	assert.Empty(t, exec.CommandsContaining("cluster info"), "cluster checks need every endpoint healthy")
}

func TestValidate_ProbeRetriesAfterRestart(t *testing.T) {
	exec := liveCluster(healthyNodes)

	var mu sync.Mutex
	attempts := 0
	exec.OnFunc("node-a", "-p 7000 ping", func(string, string) (remote.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return remote.Result{Stdout: "LOADING Redis is loading the dataset in memory\n"}, nil
		}
		return remote.Result{Stdout: "PONG\n"}, nil
	})

	probe := health.Config{Interval: time.Millisecond, Retries: 3}
	_, err := New(exec, Options{Probe: probe}, nil, zerolog.Nop()).Validate(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestValidate_ClusterStateFail(t *testing.T) {
	exec := liveCluster(healthyNodes)
	exec.On("cluster info", remote.Result{Stdout: "cluster_state:fail\r\ncluster_slots_assigned:0\r\n"})

	report, err := New(exec, Options{Probe: fastProbe}, nil, zerolog.Nop()).Validate(context.Background(), testSpec())
	assert.ErrorIs(t, err, ErrClusterState)
	assert.Equal(t, "fail", report.ClusterState)
	assert.Contains(t, err.Error(), `"fail"`)
	assert.Empty(t, exec.CommandsContaining("cluster nodes"))
}

func TestValidate_TopologyMismatch(t *testing.T) {
	nodes := strings.Join(strings.Split(healthyNodes, "\n")[:5], "\n")
	exec := liveCluster(nodes)

	report, err := New(exec, Options{Probe: fastProbe}, nil, zerolog.Nop()).Validate(context.Background(), testSpec())
	require.ErrorIs(t, err, ErrTopologyMismatch)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 3, verr.ExpectedPrimaries)
	assert.Equal(t, 3, verr.ExpectedReplicas)
	assert.Equal(t, 3, verr.ObservedPrimaries)
	assert.Equal(t, 2, verr.ObservedReplicas)
	assert.Equal(t, 2, report.ObservedReplicas)
	assert.Contains(t, err.Error(), "observed 3 primaries and 2 replicas")
}

func TestValidate_RecomputesExpectationFromSpec(t *testing.T) {
	exec := liveCluster(healthyNodes)
	v := New(exec, Options{Probe: fastProbe}, nil, zerolog.Nop())

	_, err := v.Validate(context.Background(), testSpec())
	require.NoError(t, err)

	changed := testSpec()
	changed.Cluster.Primaries = 2
	changed.Cluster.ReplicasPerPrimary = 2

	report, err := v.Validate(context.Background(), changed)
	require.ErrorIs(t, err, ErrTopologyMismatch)
	assert.Equal(t, 2, report.ExpectedPrimaries)
	assert.Equal(t, 4, report.ExpectedReplicas)
}

func TestValidate_AntiAffinityViolation(t *testing.T) {
	nodes := strings.ReplaceAll(healthyNodes, "a2 node-a:7001@17001 slave c1", "a2 node-a:7001@17001 slave a1")
	nodes = strings.ReplaceAll(nodes, "b2 node-b:7001@17001 slave a1", "b2 node-b:7001@17001 slave c1")
	exec := liveCluster(nodes)

	_, err := New(exec, Options{Probe: fastProbe}, nil, zerolog.Nop()).Validate(context.Background(), testSpec())
	require.ErrorIs(t, err, ErrAntiAffinity)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Failures, 1)
	assert.Equal(t, types.Endpoint{Host: "node-a", Port: 7001}, verr.Failures[0].Endpoint)
	assert.Contains(t, verr.Failures[0].Reason, "node-a:7000")
}

func TestValidate_DryRun(t *testing.T) {
	exec := remote.NewDryRunExecutor(zerolog.Nop())

	report, err := New(exec, Options{DryRun: true}, nil, zerolog.Nop()).Validate(context.Background(), testSpec())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, "skipped", report.ClusterState)
	require.Len(t, report.Endpoints, 6)
	for _, eh := range report.Endpoints {
		assert.Equal(t, types.VerdictHealthy, eh.Verdict)
		assert.Equal(t, "dry-run", eh.Reason)
	}
	assert.Empty(t, exec.Journal())
}

func TestValidate_InvalidPlacement(t *testing.T) {
	spec := testSpec()
	spec.Nodes = []string{"node-a"}

	_, err := New(remotetest.New(), Options{}, nil, zerolog.Nop()).Validate(context.Background(), spec)
	assert.ErrorIs(t, err, types.ErrInsufficientCapacity)
}
