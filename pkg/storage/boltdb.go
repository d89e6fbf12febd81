package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/rcluster/pkg/types"
)

// DBFile is the history database name inside the state directory
const DBFile = "rcluster.db"

var (
	// Bucket names
	bucketRuns  = []byte("runs")
	bucketHosts = []byte("hosts")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the history database in stateDir
func NewBoltStore(stateDir string) (*BoltStore, error) {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	dbPath := filepath.Join(stateDir, DBFile)

	// A second rcluster process holding the lock should fail fast.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketHosts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateRun stores run, assigning an ID and start time when missing
func (s *BoltStore) CreateRun(run *types.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return s.put(bucketRuns, run.ID, run)
}

func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var run types.Run
	if err := s.get(bucketRuns, id, &run); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns runs of kind, or every run when kind is empty, newest first
func (s *BoltStore) ListRuns(kind types.RunKind) ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("failed to decode run %s: %w", k, err)
			}
			if kind == "" || run.Kind == kind {
				runs = append(runs, &run)
			}
			return nil
		})
	})
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, err
}

func (s *BoltStore) UpdateRun(run *types.Run) error {
	if run.ID == "" {
		return fmt.Errorf("cannot update run without an id")
	}
	return s.put(bucketRuns, run.ID, run)
}

func (s *BoltStore) DeleteRun(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Delete([]byte(id))
	})
}

// PruneRuns deletes all but the keep newest runs and reports how many went
func (s *BoltStore) PruneRuns(keep int) (int, error) {
	runs, err := s.ListRuns("")
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(runs) <= keep {
		return 0, nil
	}

	stale := runs[keep:]
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		for _, run := range stale {
			if err := b.Delete([]byte(run.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return len(stale), nil
}

// PutHostState upserts the state of one host
func (s *BoltStore) PutHostState(state *types.HostState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	return s.put(bucketHosts, state.Host, state)
}

func (s *BoltStore) GetHostState(host string) (*types.HostState, error) {
	var state types.HostState
	if err := s.get(bucketHosts, host, &state); err != nil {
		return nil, fmt.Errorf("host %s: %w", host, err)
	}
	return &state, nil
}

// ListHostStates returns every host, ordered by name
func (s *BoltStore) ListHostStates() ([]*types.HostState, error) {
	var states []*types.HostState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).ForEach(func(k, v []byte) error {
			var state types.HostState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("failed to decode host %s: %w", k, err)
			}
			states = append(states, &state)
			return nil
		})
	})
	return states, err
}

func (s *BoltStore) DeleteHostState(host string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).Delete([]byte(host))
	})
}

func (s *BoltStore) put(bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, out any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, out)
	})
}
