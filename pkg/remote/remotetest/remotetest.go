// Package remotetest provides a scripted in-memory remote.Executor for tests.
package remotetest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cuemby/rcluster/pkg/remote"
)

// Handler computes the result of a command on host
type Handler func(host, command string) (remote.Result, error)

// Call is one recorded session operation
type Call struct {
	Host     string
	Kind     string // "run", "write" or "exists"
	Command  string
	Path     string
	Escalate bool
}

type rule struct {
	host     string
	contains string
	handler  Handler
}

type writeFailure struct {
	host     string
	contains string
	err      error
}

// Executor answers commands from registered rules. Commands that match no
// rule succeed with empty output. Later rules take precedence.
type Executor struct {
	mu          sync.Mutex
	rules       []rule
	writeFails  []writeFailure
	connectErrs map[string]error
	files       map[string]map[string][]byte
	calls       []Call
	connects    int
	closes      int
}

// New creates an empty scripted executor
func New() *Executor {
	return &Executor{
		connectErrs: make(map[string]error),
		files:       make(map[string]map[string][]byte),
	}
}

// On answers every command containing substr, on any host, with res
func (e *Executor) On(substr string, res remote.Result) *Executor {
	return e.OnFunc("", substr, func(string, string) (remote.Result, error) { return res, nil })
}

// OnHost answers commands containing substr on host with res
func (e *Executor) OnHost(host, substr string, res remote.Result) *Executor {
	return e.OnFunc(host, substr, func(string, string) (remote.Result, error) { return res, nil })
}

// OnFunc answers commands containing substr on host (any host when empty) with fn
func (e *Executor) OnFunc(host, substr string, fn Handler) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule{host: host, contains: substr, handler: fn})
	return e
}

// FailConnect makes every Connect to host fail with err
func (e *Executor) FailConnect(host string, err error) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("dial tcp %s:22: connect: connection refused", host)
	}
	e.connectErrs[host] = &remote.ConnectionError{Host: host, Attempts: 1, Err: err}
	return e
}

// FailWrite makes WriteFile on host fail for paths containing substr
func (e *Executor) FailWrite(host, substr string, err error) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeFails = append(e.writeFails, writeFailure{host: host, contains: substr, err: err})
	return e
}

// SetFile seeds a file on host
func (e *Executor) SetFile(host, path string, content []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.files[host] == nil {
		e.files[host] = make(map[string][]byte)
	}
	e.files[host][path] = content
}

// RemoveFile deletes a file on host, reporting whether it existed
func (e *Executor) RemoveFile(host, path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.files[host][path]
	delete(e.files[host], path)
	return ok
}

// File returns the content written to path on host
func (e *Executor) File(host, path string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	content, ok := e.files[host][path]
	return content, ok
}

// Files returns the paths present on host
func (e *Executor) Files(host string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for p := range e.files[host] {
		out = append(out, p)
	}
	return out
}

// Calls returns every recorded operation in order
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Commands returns the commands run on host (every host when empty)
func (e *Executor) Commands(host string) []string {
	var out []string
	for _, c := range e.Calls() {
		if c.Kind == "run" && (host == "" || c.Host == host) {
			out = append(out, c.Command)
		}
	}
	return out
}

// CommandsContaining returns the commands, on any host, containing substr
func (e *Executor) CommandsContaining(substr string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Kind == "run" && strings.Contains(c.Command, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Connects returns the number of successful Connect calls
func (e *Executor) Connects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connects
}

// OpenSessions returns the number of sessions not yet closed
func (e *Executor) OpenSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connects - e.closes
}

// Connect implements remote.Executor
func (e *Executor) Connect(ctx context.Context, host string) (remote.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.connectErrs[host]; ok {
		return nil, err
	}
	e.connects++
	return &session{host: host, executor: e}, nil
}

func (e *Executor) handlerFor(host, command string) Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.rules) - 1; i >= 0; i-- {
		r := e.rules[i]
		if (r.host == "" || r.host == host) && strings.Contains(command, r.contains) {
			return r.handler
		}
	}
	return nil
}

func (e *Executor) record(c Call) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	e.mu.Unlock()
}

type session struct {
	host     string
	executor *Executor
	closed   bool
}

func (s *session) Host() string {
	return s.host
}

func (s *session) Run(_ context.Context, command string, escalate bool) (remote.Result, error) {
	s.executor.record(Call{Host: s.host, Kind: "run", Command: command, Escalate: escalate})
	// Handlers run without the lock so they can use SetFile and RemoveFile.
	if h := s.executor.handlerFor(s.host, command); h != nil {
		return h(s.host, command)
	}
	return remote.Result{}, nil
}

func (s *session) WriteFile(_ context.Context, path string, content []byte, _ os.FileMode) error {
	s.executor.record(Call{Host: s.host, Kind: "write", Path: path, Escalate: true})

	s.executor.mu.Lock()
	fails := s.executor.writeFails
	s.executor.mu.Unlock()
	for _, f := range fails {
		if (f.host == "" || f.host == s.host) && strings.Contains(path, f.contains) {
			return f.err
		}
	}

	s.executor.SetFile(s.host, path, append([]byte(nil), content...))
	return nil
}

func (s *session) PathExists(_ context.Context, path string) (bool, error) {
	s.executor.record(Call{Host: s.host, Kind: "exists", Path: path})
	_, ok := s.executor.File(s.host, path)
	return ok, nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.executor.mu.Lock()
	s.executor.closes++
	s.executor.mu.Unlock()
	return nil
}
