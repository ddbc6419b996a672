package checks

import (
	"errors"
	"fmt"
)

// ErrAssertion is wrapped by every AssertionError.
var ErrAssertion = errors.New("assertion failed")

// SkipError is returned by a precondition that decides the case does not
// apply to the testbed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skipf returns a SkipError.
func Skipf(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err is a skip decision and returns its reason.
func IsSkip(err error) (string, bool) {
	var s *SkipError
	if errors.As(err, &s) {
		return s.Reason, true
	}
	return "", false
}

// AssertionError is a case failure with the expected and observed state.
type AssertionError struct {
	What     string
	Expected string
	Observed string
}

func (e *AssertionError) Error() string {
	if e.Expected == "" && e.Observed == "" {
		return e.What
	}
	return fmt.Sprintf("%s: expected %s, observed %s", e.What, e.Expected, e.Observed)
}

func (e *AssertionError) Unwrap() error {
	return ErrAssertion
}

// Failf returns an AssertionError without expected/observed detail.
func Failf(format string, args ...any) error {
	return &AssertionError{What: fmt.Sprintf(format, args...)}
}
