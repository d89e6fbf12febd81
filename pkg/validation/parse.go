package validation

import (
	"strconv"
	"strings"

	"github.com/cuemby/rcluster/pkg/types"
)

// ParseInfo parses INFO and CLUSTER INFO output into key/value pairs
func ParseInfo(out string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return info
}

// ClusterNode is one line of CLUSTER NODES output
type ClusterNode struct {
	ID       string
	Addr     types.Endpoint
	Flags    []string
	MasterID string
}

func (n ClusterNode) hasFlag(flag string) bool {
	for _, f := range n.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// IsPrimary reports whether the node is flagged master
func (n ClusterNode) IsPrimary() bool {
	return n.hasFlag("master")
}

// IsReplica reports whether the node is flagged slave
func (n ClusterNode) IsReplica() bool {
	return n.hasFlag("slave")
}

// ParseClusterNodes parses CLUSTER NODES output. Lines with fewer than
// four fields are ignored.
func ParseClusterNodes(out string) []ClusterNode {
	var nodes []ClusterNode
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		node := ClusterNode{
			ID:    fields[0],
			Addr:  parseNodeAddr(fields[1]),
			Flags: strings.Split(fields[2], ","),
		}
		if fields[3] != "-" {
			node.MasterID = fields[3]
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// parseNodeAddr parses ip:port@cport[,hostname]
func parseNodeAddr(s string) types.Endpoint {
	addr, _, _ := strings.Cut(s, ",")
	addr, _, _ = strings.Cut(addr, "@")
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return types.Endpoint{Host: addr}
	}
	port, _ := strconv.Atoi(addr[i+1:])
	return types.Endpoint{Host: strings.Trim(addr[:i], "[]"), Port: port}
}

// CountRoles counts primaries and replicas
func CountRoles(nodes []ClusterNode) (primaries, replicas int) {
	for _, n := range nodes {
		switch {
		case n.IsPrimary():
			primaries++
		case n.IsReplica():
			replicas++
		}
	}
	return primaries, replicas
}

// AntiAffinityViolations lists every replica sharing a host with its primary
func AntiAffinityViolations(nodes []ClusterNode) []Failure {
	byID := make(map[string]ClusterNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var failures []Failure
	for _, n := range nodes {
		if !n.IsReplica() || n.MasterID == "" {
			continue
		}
		primary, ok := byID[n.MasterID]
		if !ok {
			continue
		}
		if primary.Addr.Host == n.Addr.Host {
			failures = append(failures, Failure{
				Endpoint: n.Addr,
				Reason:   "replica of " + primary.Addr.String() + " on the same host",
			})
		}
	}
	return failures
}

// memoryPressure reports used and max memory when usage is above 90% of a
// configured maxmemory.
func memoryPressure(info map[string]string) (used, limit int64, high bool) {
	used, _ = strconv.ParseInt(info["used_memory"], 10, 64)
	limit, _ = strconv.ParseInt(info["maxmemory"], 10, 64)
	if limit <= 0 {
		return used, limit, false
	}
	return used, limit, float64(used) > float64(limit)*0.9
}
