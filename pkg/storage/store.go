package storage

import (
	"errors"

	"github.com/cuemby/rcluster/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store records run history and the last known state of each host
type Store interface {
	// Runs
	CreateRun(run *types.Run) error
	GetRun(id string) (*types.Run, error)
	ListRuns(kind types.RunKind) ([]*types.Run, error)
	UpdateRun(run *types.Run) error
	DeleteRun(id string) error
	PruneRuns(keep int) (int, error)

	// Hosts
	PutHostState(state *types.HostState) error
	GetHostState(host string) (*types.HostState, error)
	ListHostStates() ([]*types.HostState, error)
	DeleteHostState(host string) error

	// Utility
	Close() error
}
