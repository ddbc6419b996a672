package newtest

import (
	"errors"
	"fmt"

	"github.com/newtron-network/newtval/pkg/checks"
)

// InfraError represents an infrastructure-level error (connect, SSH, lock).
type InfraError struct {
	Op     string // "connect", "ssh", "lock"
	Device string // device name (or "" for testbed-level)
	Err    error
}

func (e *InfraError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("newtest: %s %s: %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("newtest: %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// CaseError represents an error returned by one phase of a case.
type CaseError struct {
	Case  string
	Phase Phase
	Err   error
}

func (e *CaseError) Error() string {
	return fmt.Sprintf("newtest: case %s (%s): %v", e.Case, e.Phase, e.Err)
}

func (e *CaseError) Unwrap() error {
	return e.Err
}

// classify maps a phase error to a status: skip decisions are SKIP,
// assertion failures FAIL, anything else ERROR.
func classify(err error) Status {
	switch {
	case err == nil:
		return StatusPassed
	case isSkip(err):
		return StatusSkipped
	case isAssertion(err):
		return StatusFailed
	default:
		return StatusError
	}
}

func isSkip(err error) bool {
	_, ok := checks.IsSkip(err)
	return ok
}

func isAssertion(err error) bool {
	return errors.Is(err, checks.ErrAssertion)
}
