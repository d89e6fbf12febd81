package placement

import (
	"fmt"

	"github.com/cuemby/rcluster/pkg/types"
)

// Plan assigns primary and replica roles to the endpoints of spec.
//
// Primaries are spread round-robin over the hosts in spec order, then each
// primary receives its replicas from the remaining endpoints on other hosts,
// visiting hosts in ring order after its own so that the last primaries are
// not left with capacity only on their own host.
// The result depends only on spec, so callers recompute it rather than share it.
func Plan(spec *types.TopologySpec) (*types.PlacementResult, error) {
	if len(spec.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no hosts", types.ErrInsufficientCapacity)
	}

	pool := newPool(spec.Endpoints())
	primaries := selectPrimaries(spec, pool)
	if len(primaries) == 0 {
		return nil, fmt.Errorf("%w: no primary could be placed", types.ErrInsufficientCapacity)
	}
	if len(primaries) < spec.Cluster.Primaries {
		return nil, fmt.Errorf("%w: only %d of %d primaries could be placed",
			types.ErrInsufficientCapacity, len(primaries), spec.Cluster.Primaries)
	}

	hostIndex := make(map[string]int, len(spec.Nodes))
	for i, host := range spec.Nodes {
		hostIndex[host] = i
	}

	replicasOf := make(map[types.Endpoint][]types.Endpoint, len(primaries))
	for _, primary := range primaries {
		replicas := make([]types.Endpoint, 0, spec.Cluster.ReplicasPerPrimary)
		for i := 0; i < spec.Cluster.ReplicasPerPrimary; i++ {
			replica, ok := takeOffHost(spec.Nodes, hostIndex[primary.Host], pool)
			if !ok {
				return nil, fmt.Errorf("%w: no endpoint off host %s left for replica %d of primary %s",
					types.ErrInsufficientCapacity, primary.Host, i+1, primary)
			}
			replicas = append(replicas, replica)
		}
		replicasOf[primary] = replicas
	}

	return &types.PlacementResult{
		Primaries:  primaries,
		ReplicasOf: replicasOf,
	}, nil
}

// takeOffHost scans the pool host by host, starting with the host after
// hosts[own] and wrapping around, and takes the lowest free endpoint found.
// hosts[own] itself is never visited.
func takeOffHost(hosts []string, own int, pool *endpointPool) (types.Endpoint, bool) {
	for offset := 1; offset < len(hosts); offset++ {
		host := hosts[(own+offset)%len(hosts)]
		if endpoint, ok := pool.takeFirst(onHost(host)); ok {
			return endpoint, true
		}
	}
	return types.Endpoint{}, false
}

func onHost(host string) func(types.Endpoint) bool {
	return func(e types.Endpoint) bool {
		return e.Host == host
	}
}

// selectPrimaries takes the lowest free endpoint of each host in rotation
// until enough primaries are chosen or a full rotation finds nothing free.
func selectPrimaries(spec *types.TopologySpec, pool *endpointPool) []types.Endpoint {
	want := spec.Cluster.Primaries
	primaries := make([]types.Endpoint, 0, want)

	for len(primaries) < want {
		placed := false
		for _, host := range spec.Nodes {
			if len(primaries) == want {
				break
			}
			endpoint, ok := pool.takeFirst(onHost(host))
			if ok {
				primaries = append(primaries, endpoint)
				placed = true
			}
		}
		if !placed {
			break
		}
	}
	return primaries
}

// endpointPool is an ordered set of unassigned endpoints
type endpointPool struct {
	endpoints []types.Endpoint
}

func newPool(endpoints []types.Endpoint) *endpointPool {
	cp := make([]types.Endpoint, len(endpoints))
	copy(cp, endpoints)
	return &endpointPool{endpoints: cp}
}

// takeFirst removes and returns the first endpoint matching keep
func (p *endpointPool) takeFirst(keep func(types.Endpoint) bool) (types.Endpoint, bool) {
	for i, e := range p.endpoints {
		if keep(e) {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			return e, true
		}
	}
	return types.Endpoint{}, false
}

func (p *endpointPool) len() int {
	return len(p.endpoints)
}
