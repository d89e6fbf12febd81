package deploy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMonitoring marks a failed dashboard provisioning. It is only fatal
// when observability.fail_on_error is set.
var ErrMonitoring = errors.New("monitoring provisioning failed")

// HostError is the failure of one host's pipeline
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %v", e.Host, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// HostErrors aggregates every failed host of a run, in topology order
type HostErrors struct {
	Failures []*HostError
}

func (e *HostErrors) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d host(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes every host failure to errors.Is and errors.As
func (e *HostErrors) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Hosts returns the names of the failed hosts
func (e *HostErrors) Hosts() []string {
	hosts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		hosts[i] = f.Host
	}
	return hosts
}
