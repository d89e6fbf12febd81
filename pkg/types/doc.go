/*
Package types defines the data model shared by every rcluster package.

The central type is TopologySpec, the parsed and validated form of a
topology file. It describes the target hosts, the Redis port ranges, the
cluster shape (primaries and replicas per primary), persistence, install
paths, host preparation, exporters, Grafana provisioning, platform
discovery and SSH access.

# Topology

A topology requests Primaries * (1 + ReplicasPerPrimary) Redis instances.
Each host runs one instance per port, so the capacity is
len(Nodes) * Ports.CountPerHost. Validate rejects a topology whose capacity is
smaller than the request and wraps ErrInsufficientCapacity in that case:

	spec, err := config.Load(ctx, "topology.yaml")
	if errors.Is(err, types.ErrInsufficientCapacity) {
		// add hosts or ports
	}

Endpoints enumerates every host:port pair in topology order, ports
ascending within a host. The placement package consumes that order.

# Placement and validation

PlacementResult holds the chosen primaries and the replica map keyed by
primary. ValidationReport carries the per-endpoint verdicts gathered after
formation, plus the observed primary and replica counts.

# Runs

Run and HostState are the records kept in the local state store. A Run
captures one deploy, validate or rollback invocation with its per-host
outcomes. HostState remembers which ports a host was last provisioned
with so rollback can remove instances that are no longer in the file.
*/
package types
