package remote

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Operation is one remote action recorded by a DryRunExecutor
type Operation struct {
	Host    string
	Kind    string // "run" or "write"
	Command string
	Path    string
	Size    int
}

// DryRunExecutor never contacts a host. Every command is logged and
// recorded, and reported back as skipped.
type DryRunExecutor struct {
	logger zerolog.Logger

	mu      sync.Mutex
	journal []Operation
}

// NewDryRunExecutor creates a dry-run executor
func NewDryRunExecutor(logger zerolog.Logger) *DryRunExecutor {
	return &DryRunExecutor{
		logger: logger.With().Str("component", "dry-run").Logger(),
	}
}

// Connect always succeeds
func (e *DryRunExecutor) Connect(_ context.Context, host string) (Session, error) {
	return &dryRunSession{host: host, executor: e}, nil
}

// Journal returns a copy of every recorded operation in order
func (e *DryRunExecutor) Journal() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Operation, len(e.journal))
	copy(out, e.journal)
	return out
}

func (e *DryRunExecutor) record(op Operation) {
	e.mu.Lock()
	e.journal = append(e.journal, op)
	e.mu.Unlock()
}

type dryRunSession struct {
	host     string
	executor *DryRunExecutor
}

func (s *dryRunSession) Host() string {
	return s.host
}

func (s *dryRunSession) Run(_ context.Context, command string, _ bool) (Result, error) {
	s.executor.record(Operation{Host: s.host, Kind: "run", Command: command})
	s.executor.logger.Info().Str("host", s.host).Str("command", command).Msg("[dry-run] would run")
	return Result{Skipped: true}, nil
}

func (s *dryRunSession) WriteFile(_ context.Context, path string, content []byte, mode os.FileMode) error {
	s.executor.record(Operation{Host: s.host, Kind: "write", Path: path, Size: len(content)})
	s.executor.logger.Info().
		Str("host", s.host).
		Str("path", path).
		Str("mode", fmt.Sprintf("%o", mode.Perm())).
		Int("bytes", len(content)).
		Msg("[dry-run] would write")
	return nil
}

func (s *dryRunSession) PathExists(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (s *dryRunSession) Close() error {
	return nil
}
