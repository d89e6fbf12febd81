package types

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() *TopologySpec {
	return &TopologySpec{
		Nodes:   []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
		Ports:   PortsSpec{Base: 7000, CountPerHost: 2},
		Cluster: ClusterSpec{Primaries: 3, ReplicasPerPrimary: 1, Create: true},
		Persistence: PersistenceSpec{
			Mode:                 PersistenceAOF,
			AOFFsync:             "everysec",
			AOFRewritePercentage: 100,
			AOFRewriteMinSize:    "64mb",
		},
		Paths: PathsSpec{
			InstallPrefix: "/usr/local",
			ConfigDir:     "/etc/redis",
			DataDir:       "/var/lib/redis",
			LogDir:        "/var/log/redis",
			UnitDir:       "/etc/systemd/system",
		},
		EngineVersion: "7.2.5",
		SystemPrep:    SystemPrepSpec{Swappiness: 1},
		Observability: ObservabilitySpec{NodeExporterPort: 9100, RedisExporterPortBase: 9121},
		Platform:      PlatformSpec{Kind: PlatformBaremetal},
		SSH:           SSHSpec{Port: 22, Timeout: 30, ConnectionRetries: 3, RetryMultiplier: 2},
	}
}

func TestTopologySpec_Counts(t *testing.T) {
	spec := validSpec()

	assert.Equal(t, 6, spec.TotalInstances())
	assert.Equal(t, 6, spec.RequiredInstances())
	assert.Equal(t, 3, spec.ExpectedReplicas())
	assert.Equal(t, []int{7000, 7001}, spec.HostPorts())
}

func TestTopologySpec_Endpoints(t *testing.T) {
	spec := validSpec()
	spec.Nodes = []string{"a", "b"}

	assert.Equal(t, []Endpoint{
		{Host: "a", Port: 7000},
		{Host: "a", Port: 7001},
		{Host: "b", Port: 7000},
		{Host: "b", Port: 7001},
	}, spec.Endpoints())
}

func TestTopologySpec_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*TopologySpec)
		wantErr  string
		capacity bool
	}{
		{name: "valid", mutate: func(*TopologySpec) {}},
		{
			name:    "no nodes",
			mutate:  func(s *TopologySpec) { s.Nodes = nil },
			wantErr: "nodes must satisfy required",
		},
		{
			name:    "duplicate nodes",
			mutate:  func(s *TopologySpec) { s.Nodes = []string{"a", "a"} },
			wantErr: "nodes must satisfy unique",
		},
		{
			name:    "privileged base port",
			mutate:  func(s *TopologySpec) { s.Ports.Base = 80 },
			wantErr: "ports.base must satisfy gte=1024",
		},
		{
			name:    "unknown persistence mode",
			mutate:  func(s *TopologySpec) { s.Persistence.Mode = "journal" },
			wantErr: "persistence.mode must satisfy oneof",
		},
		{
			name:    "relative data dir",
			mutate:  func(s *TopologySpec) { s.Paths.DataDir = "data" },
			wantErr: "paths.data_dir must satisfy startswith=/",
		},
		{
			name:    "grafana without url",
			mutate:  func(s *TopologySpec) { s.Observability.Grafana.Enabled = true },
			wantErr: "observability.grafana.url is required",
		},
		{
			name:     "too many primaries",
			mutate:   func(s *TopologySpec) { s.Cluster.Primaries = 7; s.Cluster.ReplicasPerPrimary = 0 },
			capacity: true,
		},
		{
			name:     "too many replicas",
			mutate:   func(s *TopologySpec) { s.Cluster.ReplicasPerPrimary = 2 },
			capacity: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(spec)

			err := spec.Validate(false)
			switch {
			case tt.capacity:
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInsufficientCapacity))
			case tt.wantErr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestSSHSpec_ValidateCredentials(t *testing.T) {
	key := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(key, []byte("key"), 0600))

	assert.ErrorContains(t, SSHSpec{Password: "pw"}.ValidateCredentials(), "ssh user")
	assert.ErrorContains(t, SSHSpec{User: "ops"}.ValidateCredentials(), "password or a private key")
	assert.ErrorContains(t, SSHSpec{User: "ops", PrivateKey: key + ".missing"}.ValidateCredentials(), "not readable")
	assert.NoError(t, SSHSpec{User: "ops", Password: "pw"}.ValidateCredentials())
	assert.NoError(t, SSHSpec{User: "ops", PrivateKey: key}.ValidateCredentials())

	spec := validSpec()
	assert.Error(t, spec.Validate(true))
	spec.SSH.User = "ops"
	spec.SSH.PrivateKey = key
	assert.NoError(t, spec.Validate(true))
}

func TestPersistenceSpec_Modes(t *testing.T) {
	tests := []struct {
		mode     PersistenceMode
		aof, rdb bool
	}{
		{PersistenceAOF, true, false},
		{PersistenceRDB, false, true},
		{PersistenceBoth, true, true},
		{PersistenceNone, false, false},
	}
	for _, tt := range tests {
		p := PersistenceSpec{Mode: tt.mode}
		assert.Equal(t, tt.aof, p.AOF(), tt.mode)
		assert.Equal(t, tt.rdb, p.RDB(), tt.mode)
	}
}

func TestPlacementResult(t *testing.T) {
	a0 := Endpoint{Host: "a", Port: 7000}
	b0 := Endpoint{Host: "b", Port: 7000}
	a1 := Endpoint{Host: "a", Port: 7001}
	b1 := Endpoint{Host: "b", Port: 7001}

	p := &PlacementResult{
		Primaries: []Endpoint{a0, b0},
		ReplicasOf: map[Endpoint][]Endpoint{
			a0: {b1},
			b0: {a1},
		},
	}

	assert.Equal(t, []Endpoint{b1, a1}, p.Replicas())
	assert.Equal(t, "a:7000 <- b:7001\nb:7000 <- a:7001\n", p.String())

	bare := &PlacementResult{Primaries: []Endpoint{a0}}
	assert.Empty(t, bare.Replicas())
	assert.Equal(t, "a:7000\n", bare.String())
}

func TestValidationReport_Unhealthy(t *testing.T) {
	r := &ValidationReport{Endpoints: []EndpointHealth{
		{Endpoint: Endpoint{Host: "a", Port: 7000}, Verdict: VerdictHealthy},
		{Endpoint: Endpoint{Host: "b", Port: 7000}, Verdict: VerdictUnreachable, Reason: "refused"},
		{Endpoint: Endpoint{Host: "c", Port: 7000}, Verdict: VerdictUnhealthy, Reason: "loading"},
	}}

	unhealthy := r.Unhealthy()
	require.Len(t, unhealthy, 2)
	assert.Equal(t, "b", unhealthy[0].Endpoint.Host)
	assert.Equal(t, "c", unhealthy[1].Endpoint.Host)
}

func TestRun_Duration(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	running := &Run{StartedAt: start}
	assert.Zero(t, running.Duration())

	done := &Run{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, done.Duration())
}

func TestSSHSpec_TimeoutDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, SSHSpec{Timeout: 30}.TimeoutDuration())
}
