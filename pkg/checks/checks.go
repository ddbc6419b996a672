// Package checks holds the validation cases run against SONiC switches:
// DHCPv6 relay reception, dual-ToR mux failover, tunnel packet handler
// memory and transceiver state.
//
// A case is a set of phase functions (precondition, setup, run, teardown)
// over an Env that carries the device handles, the packet-injection host
// and the testbed. Cases register themselves by name; the suite runner
// looks them up from the suite file.
package checks

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"time"

	"github.com/google/gopacket"

	"github.com/newtron-network/newtval/pkg/device"
	"github.com/newtron-network/newtval/pkg/ptf"
	"github.com/newtron-network/newtval/pkg/testbed"
	"github.com/newtron-network/newtval/pkg/util"
)

// DUT is the device control handle a case drives.
type DUT interface {
	Hostname() string
	IsVirtual() bool
	ConfigReload() error

	FeatureStatus() (map[string]string, error)
	AddACLTable(table device.ACLTable) error
	RemoveACLTable(name string) error
	GetACLTable(name string) (*device.ACLTable, error)
	LoadACLRules(table string, rules []byte, dest string) error

	CRMFacts() (device.CRMFacts, error)
	ProgramStatus(container, program string) (device.ProgramInfo, error)
	MemoryUsageMB(pattern string) (float64, error)

	NeighborReachable(ip string) (bool, error)
	DeleteNeighbor(ip string) (bool, error)
	LinkLocalIPv6(intf string) (string, error)
	UplinkInterfaces() ([]string, error)
	RouterMAC() (net.HardwareAddr, error)

	MuxCableServerIPs() (map[string]string, error)
	SetMuxState(state string, intfs ...string) error
	MuxState(intf string) (string, error)

	TransceiverLPMode() (string, error)
	TransceiverPresence() (map[string]string, error)
	TransceiverEEPROM() (map[string]string, error)

	Capture(ctx context.Context, intf, filter string, during func(context.Context) error) ([]gopacket.Packet, error)
}

// Injector sends and captures frames on packet-injection ports.
type Injector interface {
	MAC(port int) (net.HardwareAddr, error)
	Send(ctx context.Context, port int, frame []byte, count int) error
	Flush() error
	Capture(ctx context.Context, port int, filter string, during func(context.Context) error) ([]gopacket.Packet, error)
	Supervisor(action, program string) error
}

var (
	_ DUT      = (*device.Host)(nil)
	_ Injector = (*ptf.Adapter)(nil)
)

// Clock paces the fixed settle delays and bounded polls.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Params are per-case knobs from the suite file. Zero values select the
// case default.
type Params struct {
	// DUT selects the switch for single-DUT cases. Empty picks one at
	// random.
	DUT           string        `yaml:"dut,omitempty"`
	Pause         time.Duration `yaml:"pause,omitempty"`
	PacketCount   int           `yaml:"packet_count,omitempty"`
	TransactionID uint32        `yaml:"transaction_id,omitempty"`
	MemThreshold  float64       `yaml:"mem_threshold,omitempty"`
	UpstreamDst   string        `yaml:"upstream_dst,omitempty"`
}

func (p Params) pause(def time.Duration) time.Duration {
	if p.Pause > 0 {
		return p.Pause
	}
	return def
}

func (p Params) packetCount(def int) int {
	if p.PacketCount > 0 {
		return p.PacketCount
	}
	return def
}

// Env is what a case runs against.
type Env struct {
	Testbed *testbed.Testbed
	DUTs    map[string]DUT
	PTF     Injector
	Params  Params
	Rand    *rand.Rand
	Clock   Clock
}

// NewEnv returns an Env with a time-seeded random source and the wall
// clock.
func NewEnv(tb *testbed.Testbed, duts map[string]DUT, inj Injector) *Env {
	return &Env{
		Testbed: tb,
		DUTs:    duts,
		PTF:     inj,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		Clock:   RealClock,
	}
}

// WithParams returns a copy of the Env carrying p.
func (e *Env) WithParams(p Params) *Env {
	c := *e
	c.Params = p
	return &c
}

// SelectedDUT returns the DUT named by Params.DUT, or a random one.
func (e *Env) SelectedDUT() (DUT, *testbed.DUT, error) {
	name := e.Params.DUT
	if name == "" {
		names := e.dutNames()
		if len(names) == 0 {
			return nil, nil, fmt.Errorf("no DUT in testbed: %w", util.ErrNotFound)
		}
		name = names[e.Rand.Intn(len(names))]
	}
	return e.dut(name)
}

// DualToR returns the upper (duts_map index 0) and lower (index 1) ToR.
func (e *Env) DualToR() (upper, lower DUT, upperTB, lowerTB *testbed.DUT, err error) {
	names := e.dutNames()
	if len(names) < 2 {
		return nil, nil, nil, nil, &SkipError{Reason: fmt.Sprintf("dual-ToR testbed required, have %d DUTs", len(names))}
	}
	if upper, upperTB, err = e.dut(names[0]); err != nil {
		return nil, nil, nil, nil, err
	}
	if lower, lowerTB, err = e.dut(names[1]); err != nil {
		return nil, nil, nil, nil, err
	}
	return upper, lower, upperTB, lowerTB, nil
}

func (e *Env) dutNames() []string {
	if e.Testbed != nil {
		return e.Testbed.DUTNames()
	}
	names := make([]string, 0, len(e.DUTs))
	for n := range e.DUTs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Env) dut(name string) (DUT, *testbed.DUT, error) {
	d, ok := e.DUTs[name]
	if !ok {
		return nil, nil, fmt.Errorf("DUT %s: %w", name, util.ErrNotConnected)
	}
	tbDUT, err := e.Testbed.DUT(name)
	if err != nil {
		return nil, nil, err
	}
	return d, tbDUT, nil
}

func (e *Env) sleep(d time.Duration) {
	e.Clock.Sleep(d)
}

// pick returns a random element of a non-empty slice.
func pick[T any](r *rand.Rand, items []T) T {
	return items[r.Intn(len(items))]
}
