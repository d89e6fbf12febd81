package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/rcluster/pkg/types"
)

var (
	ErrUnhealthyInstances = errors.New("unhealthy instances")
	ErrClusterState       = errors.New("cluster state is not ok")
	ErrTopologyMismatch   = errors.New("topology mismatch")
	ErrAntiAffinity       = errors.New("anti-affinity violation")
)

// Kind classifies a validation failure
type Kind string

const (
	KindUnhealthyInstances Kind = "unhealthy-instances"
	KindClusterState       Kind = "cluster-state"
	KindTopologyMismatch   Kind = "topology-mismatch"
	KindAntiAffinity       Kind = "anti-affinity"
)

var sentinels = map[Kind]error{
	KindUnhealthyInstances: ErrUnhealthyInstances,
	KindClusterState:       ErrClusterState,
	KindTopologyMismatch:   ErrTopologyMismatch,
	KindAntiAffinity:       ErrAntiAffinity,
}

// Failure is one endpoint-level problem
type Failure struct {
	Endpoint types.Endpoint
	Reason   string
}

func (f Failure) String() string {
	return f.Endpoint.String() + ": " + f.Reason
}

// ValidationError carries every failure of one kind. Callers match the kind
// with errors.Is against the package sentinels.
type ValidationError struct {
	Kind     Kind
	Failures []Failure

	// ClusterState is the state string reported for KindClusterState
	ClusterState string

	// Counts for KindTopologyMismatch
	ExpectedPrimaries int
	ExpectedReplicas  int
	ObservedPrimaries int
	ObservedReplicas  int
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(sentinels[e.Kind].Error())

	switch e.Kind {
	case KindClusterState:
		fmt.Fprintf(&b, ": %q", e.ClusterState)
	case KindTopologyMismatch:
		fmt.Fprintf(&b, ": expected %d primaries and %d replicas, observed %d primaries and %d replicas",
			e.ExpectedPrimaries, e.ExpectedReplicas, e.ObservedPrimaries, e.ObservedReplicas)
	}

	if len(e.Failures) > 0 {
		parts := make([]string, len(e.Failures))
		for i, f := range e.Failures {
			parts[i] = f.String()
		}
		fmt.Fprintf(&b, ": %s", strings.Join(parts, "; "))
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return sentinels[e.Kind]
}
