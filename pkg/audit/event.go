// Package audit journals the changes validation cases make to devices
// (ACL tables, mux state, neighbor entries, config reloads, PTF services),
// so a failed or interrupted run shows what was left behind.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Operations recorded by the device and PTF handles.
const (
	OpACLAddTable    = "acl.add-table"
	OpACLRemoveTable = "acl.remove-table"
	OpACLLoadRules   = "acl.load-rules"
	OpMuxSet         = "mux.set"
	OpNeighborDelete = "neighbor.delete"
	OpConfigReload   = "config.reload"
	OpSupervisor     = "ptf.supervisor"
)

// Event is one change applied to a device.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Suite     string        `json:"suite,omitempty"`
	Case      string        `json:"case,omitempty"`
	Device    string        `json:"device"`
	Operation string        `json:"operation"`
	Detail    string        `json:"detail,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filter defines criteria for querying events.
type Filter struct {
	Suite       string
	Case        string
	Device      string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an event stamped with the current time.
func NewEvent(device, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Device:    device,
		Operation: operation,
	}
}

// WithScope sets the suite and case the change was made for.
func (e *Event) WithScope(suite, caseName string) *Event {
	e.Suite = suite
	e.Case = caseName
	return e
}

// WithDetail sets a free-form description ("Ethernet4 -> standby").
func (e *Event) WithDetail(detail string) *Event {
	e.Detail = detail
	return e
}

// WithResult marks the event succeeded when err is nil, failed otherwise.
func (e *Event) WithResult(err error) *Event {
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}
