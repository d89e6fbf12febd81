package deploy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/remote/remotetest"
	"github.com/cuemby/rcluster/pkg/storage"
	"github.com/cuemby/rcluster/pkg/types"
)

func TestRollback_AllHosts(t *testing.T) {
	spec := testSpec()
	exec := remotetest.New()
	store := newStore(t)
	require.NoError(t, store.PutHostState(&types.HostState{Host: "node-b", Ports: []int{7000, 7001, 7005}}))

	d := NewDeployer(exec, store, nil, Options{Parallelism: 2}, zerolog.Nop())
	result, err := d.Rollback(context.Background(), spec)
	require.NoError(t, err)

	require.Len(t, result.Reports, 3)
	assert.Zero(t, result.Failed())
	for i, rep := range result.Reports {
		assert.Equal(t, spec.Nodes[i], rep.Host)
	}
	assert.Len(t, exec.CommandsContaining("daemon-reload"), 3)

	// Ports from an earlier deploy are removed too.
	stops := exec.CommandsContaining("systemctl stop redis-7005.service")
	require.Len(t, stops, 1)
	assert.Equal(t, "node-b", stops[0].Host)

	_, err = store.GetHostState("node-b")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	run, err := store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunRollback, run.Kind)
	assert.Equal(t, types.RunSucceeded, run.Result)
}

func TestRollback_ReportsFailures(t *testing.T) {
	spec := testSpec()
	exec := remotetest.New().FailConnect("node-c", nil)
	exec.OnHost("node-a", "rm -f '/etc/redis/redis-7001.conf'", remote.Result{ExitCode: 1, Stderr: "Read-only file system"})
	store := newStore(t)
	require.NoError(t, store.PutHostState(&types.HostState{Host: "node-c", Ports: []int{7000, 7001}}))

	result, err := NewDeployer(exec, store, nil, Options{}, zerolog.Nop()).Rollback(context.Background(), spec)
	require.Error(t, err)

	assert.Equal(t, 1+9, result.Failed())
	assert.Contains(t, err.Error(), "10 failed sub-step(s)")
	assert.True(t, result.Reports[1].OK())

	// Unreachable hosts keep their recorded state.
	_, err = store.GetHostState("node-c")
	assert.NoError(t, err)

	run, err := store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Result)
	assert.Equal(t, 9, run.Hosts[2].Failed)
}
