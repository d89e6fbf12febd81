package rollback

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rcluster/pkg/events"
	"github.com/cuemby/rcluster/pkg/remote"
	"github.com/cuemby/rcluster/pkg/remote/remotetest"
	"github.com/cuemby/rcluster/pkg/render"
	"github.com/cuemby/rcluster/pkg/types"
)

func testSpec() *types.TopologySpec {
	return &types.TopologySpec{
		Nodes: []string{"node-a"},
		Ports: types.PortsSpec{Base: 7000, CountPerHost: 2},
		Paths: types.PathsSpec{
			InstallPrefix: "/usr/local",
			ConfigDir:     "/etc/redis",
			DataDir:       "/var/lib/redis",
			LogDir:        "/var/log/redis",
			UnitDir:       "/etc/systemd/system",
		},
		Observability: types.ObservabilitySpec{RedisExporterPortBase: 9121},
	}
}

type recorder struct {
	events []*events.Event
}

func (r *recorder) Publish(ev *events.Event) {
	r.events = append(r.events, ev)
}

// systemdHost scripts a host whose units exist only while their unit file does
func systemdHost(spec *types.TopologySpec, host string) *remotetest.Executor {
	exec := remotetest.New()
	unitPath := func(unit string) string {
		return spec.Paths.UnitDir + "/" + unit
	}
	exec.OnFunc(host, "systemctl stop", func(h, cmd string) (remote.Result, error) {
		unit := strings.TrimPrefix(cmd, "systemctl stop ")
		if _, ok := exec.File(h, unitPath(unit)); !ok {
			return remote.Result{ExitCode: 5, Stderr: "Failed to stop " + unit + ": Unit " + unit + " not loaded."}, nil
		}
		return remote.Result{}, nil
	})
	exec.OnFunc(host, "systemctl disable", func(h, cmd string) (remote.Result, error) {
		unit := strings.TrimPrefix(cmd, "systemctl disable ")
		if _, ok := exec.File(h, unitPath(unit)); !ok {
			return remote.Result{ExitCode: 1, Stderr: "Failed to disable unit: Unit file " + unit + " does not exist."}, nil
		}
		return remote.Result{}, nil
	})
	exec.OnFunc(host, "rm -f", func(h, cmd string) (remote.Result, error) {
		exec.RemoveFile(h, strings.Trim(strings.TrimPrefix(cmd, "rm -f "), "'"))
		return remote.Result{}, nil
	})
	for _, port := range spec.HostPorts() {
		exec.SetFile(host, render.UnitPath(spec, port), []byte("unit"))
		exec.SetFile(host, render.ConfPath(spec, port), []byte("conf"))
		if spec.Observability.RedisExporter {
			exec.SetFile(host, render.ExporterUnitPath(spec, port), []byte("unit"))
		}
	}
	return exec
}

func TestRollback_RemovesArtifacts(t *testing.T) {
	spec := testSpec()
	exec := systemdHost(spec, "node-a")
	rec := &recorder{}

	report := Rollback(context.Background(), spec, "node-a", spec.HostPorts(), exec, rec, zerolog.Nop())

	assert.True(t, report.OK())
	assert.Equal(t, 9, report.Attempted)
	assert.Empty(t, exec.Files("node-a"))
	assert.Equal(t, []string{
		"systemctl stop redis-7000.service",
		"systemctl disable redis-7000.service",
		"rm -f '/etc/systemd/system/redis-7000.service'",
		"rm -f '/etc/redis/redis-7000.conf'",
		"systemctl stop redis-7001.service",
		"systemctl disable redis-7001.service",
		"rm -f '/etc/systemd/system/redis-7001.service'",
		"rm -f '/etc/redis/redis-7001.conf'",
		"systemctl daemon-reload",
	}, exec.Commands("node-a"))
	assert.Equal(t, 0, exec.OpenSessions())

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.EventRollbackFinished, rec.events[0].Type)
	assert.Equal(t, "node-a", rec.events[0].Host)
}

func TestRollback_Idempotent(t *testing.T) {
	spec := testSpec()
	spec.Observability.RedisExporter = true
	exec := systemdHost(spec, "node-a")

	first := Rollback(context.Background(), spec, "node-a", spec.HostPorts(), exec, nil, zerolog.Nop())
	second := Rollback(context.Background(), spec, "node-a", spec.HostPorts(), exec, nil, zerolog.Nop())

	assert.True(t, first.OK())
	assert.True(t, second.OK(), "second run failures: %v", second.Failures)
	assert.Equal(t, first.Attempted, second.Attempted)
	assert.Equal(t, 15, second.Attempted)
	assert.Empty(t, exec.Files("node-a"))
}

func TestRollback_ExporterUnits(t *testing.T) {
	spec := testSpec()
	spec.Observability.RedisExporter = true
	exec := systemdHost(spec, "node-a")

	report := Rollback(context.Background(), spec, "node-a", []int{7001}, exec, nil, zerolog.Nop())

	assert.True(t, report.OK())
	assert.Len(t, exec.CommandsContaining("systemctl stop redis_exporter_7001.service"), 1)
	assert.Len(t, exec.CommandsContaining("systemctl disable redis_exporter_7001.service"), 1)
	_, exists := exec.File("node-a", render.ExporterUnitPath(spec, 7001))
	assert.False(t, exists)

	// Port 7000 was not requested.
	_, exists = exec.File("node-a", render.UnitPath(spec, 7000))
	assert.True(t, exists)
}

func TestRollback_ContinuesPastFailures(t *testing.T) {
	spec := testSpec()
	exec := systemdHost(spec, "node-a")
	exec.OnHost("node-a", "rm -f '/etc/redis/redis-7000.conf'", remote.Result{ExitCode: 1, Stderr: "rm: cannot remove: Permission denied"})

	report := Rollback(context.Background(), spec, "node-a", spec.HostPorts(), exec, nil, zerolog.Nop())

	assert.False(t, report.OK())
	assert.True(t, report.Connected)
	assert.Equal(t, 9, report.Attempted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 7000, report.Failures[0].Port)
	assert.Equal(t, "remove-config", report.Failures[0].Action)

	var cmdErr *remote.CommandError
	require.ErrorAs(t, report.Failures[0].Err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)

	// Later sub-steps still ran.
	assert.Len(t, exec.CommandsContaining("redis-7001"), 4)
	assert.Len(t, exec.CommandsContaining("daemon-reload"), 1)
}

func TestRollback_CommandErrorCounted(t *testing.T) {
	spec := testSpec()
	exec := remotetest.New()
	exec.OnFunc("node-a", "daemon-reload", func(string, string) (remote.Result, error) {
		return remote.Result{}, errors.New("session closed")
	})

	report := Rollback(context.Background(), spec, "node-a", []int{7000}, exec, nil, zerolog.Nop())

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "daemon-reload", report.Failures[0].Action)
	assert.Equal(t, "daemon-reload: session closed", report.Failures[0].String())
}

func TestRollback_ConnectFailure(t *testing.T) {
	spec := testSpec()
	exec := remotetest.New().FailConnect("node-a", nil)
	rec := &recorder{}

	report := Rollback(context.Background(), spec, "node-a", spec.HostPorts(), exec, rec, zerolog.Nop())

	assert.False(t, report.Connected)
	assert.Equal(t, 9, report.Attempted)
	assert.Len(t, report.Failures, 9)
	for _, f := range report.Failures {
		assert.ErrorIs(t, f.Err, remote.ErrConnectionFailed)
	}
	assert.Empty(t, exec.Calls())
	require.Len(t, rec.events, 1)
	assert.Contains(t, rec.events[0].Message, "9 of 9")
}

func TestRollback_DryRun(t *testing.T) {
	spec := testSpec()
	exec := remote.NewDryRunExecutor(zerolog.Nop())

	report := Rollback(context.Background(), spec, "node-a", spec.HostPorts(), exec, nil, zerolog.Nop())

	assert.True(t, report.OK())
	assert.Len(t, exec.Journal(), 9)
}

func TestAlreadyAbsent(t *testing.T) {
	tests := []struct {
		name string
		res  remote.Result
		want bool
	}{
		{"exit 5", remote.Result{ExitCode: 5}, true},
		{"not loaded", remote.Result{ExitCode: 1, Stderr: "Unit redis-7000.service not loaded."}, true},
		{"no unit file", remote.Result{ExitCode: 1, Stderr: "Unit file redis-7000.service does not exist."}, true},
		{"permission", remote.Result{ExitCode: 1, Stderr: "Access denied"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, alreadyAbsent(tt.res))
		})
	}
}
