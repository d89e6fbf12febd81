package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rcluster/pkg/types"
)

func TestParseInfo(t *testing.T) {
	info := ParseInfo("# Cluster\r\ncluster_state:ok\r\ncluster_slots_assigned:16384\r\n\r\nbad line\r\n")

	assert.Equal(t, "ok", info["cluster_state"])
	assert.Equal(t, "16384", info["cluster_slots_assigned"])
	assert.Len(t, info, 2)
}

func TestParseClusterNodes(t *testing.T) {
	out := `07c37dfeb235213a872192d90877d0cd55635b91 10.0.0.4:7001@17001,redis-b slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected
e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 10.0.0.1:7000@17000 myself,master - 0 0 1 connected 0-5460
6ec23923021cf3ffec47632106199cb7f496ce01 [fe80::1]:7002@17002 master,fail - 1426238316232 1426238316232 5 disconnected
short line
`
	nodes := ParseClusterNodes(out)
	require.Len(t, nodes, 3)

	assert.Equal(t, types.Endpoint{Host: "10.0.0.4", Port: 7001}, nodes[0].Addr)
	assert.True(t, nodes[0].IsReplica())
	assert.Equal(t, "e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca", nodes[0].MasterID)

	assert.True(t, nodes[1].IsPrimary())
	assert.Empty(t, nodes[1].MasterID)

	assert.Equal(t, types.Endpoint{Host: "fe80::1", Port: 7002}, nodes[2].Addr)

	primaries, replicas := CountRoles(nodes)
	assert.Equal(t, 2, primaries)
	assert.Equal(t, 1, replicas)
}

func TestAntiAffinityViolations(t *testing.T) {
	nodes := []ClusterNode{
		{ID: "m1", Addr: types.Endpoint{Host: "a", Port: 7000}, Flags: []string{"master"}},
		{ID: "m2", Addr: types.Endpoint{Host: "b", Port: 7000}, Flags: []string{"master"}},
		{ID: "r1", Addr: types.Endpoint{Host: "a", Port: 7001}, Flags: []string{"slave"}, MasterID: "m1"},
		{ID: "r2", Addr: types.Endpoint{Host: "a", Port: 7002}, Flags: []string{"slave"}, MasterID: "m2"},
		{ID: "r3", Addr: types.Endpoint{Host: "b", Port: 7001}, Flags: []string{"slave"}, MasterID: "gone"},
	}

	failures := AntiAffinityViolations(nodes)
	require.Len(t, failures, 1)
	assert.Equal(t, types.Endpoint{Host: "a", Port: 7001}, failures[0].Endpoint)
}

func TestMemoryPressure(t *testing.T) {
	tests := []struct {
		name string
		info map[string]string
		want bool
	}{
		{"no limit", map[string]string{"used_memory": "100", "maxmemory": "0"}, false},
		{"below", map[string]string{"used_memory": "80", "maxmemory": "100"}, false},
		{"at threshold", map[string]string{"used_memory": "90", "maxmemory": "100"}, false},
		{"above", map[string]string{"used_memory": "95", "maxmemory": "100"}, true},
		{"missing", map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, high := memoryPressure(tt.info)
			assert.Equal(t, tt.want, high)
		})
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	for kind, sentinel := range sentinels {
		err := &ValidationError{Kind: kind}
		assert.ErrorIs(t, err, sentinel)
	}
}
