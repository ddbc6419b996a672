package checks

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/newtron-network/newtval/pkg/device"
	"github.com/newtron-network/newtval/pkg/testbed"
)

type fakeClock struct {
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.slept += d
}

// fabric is the wiring between PTF ports and DUT interfaces. route decides
// where a frame sent on a PTF port shows up.
type fabric struct {
	route func(port int, pkt gopacket.Packet) (ptfPorts []int, dutIntfs []string)

	ptfActive map[int]bool
	ptfCaps   map[int][]gopacket.Packet
	dutActive map[string]bool
	dutCaps   map[string][]gopacket.Packet
	sent      map[int]int
}

func newFabric() *fabric {
	return &fabric{
		ptfActive: map[int]bool{},
		ptfCaps:   map[int][]gopacket.Packet{},
		dutActive: map[string]bool{},
		dutCaps:   map[string][]gopacket.Packet{},
		sent:      map[int]int{},
	}
}

func (f *fabric) deliver(port int, frame []byte, count int) {
	f.sent[port] += count
	if f.route == nil {
		return
	}
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	ptfPorts, intfs := f.route(port, pkt)
	for i := 0; i < count; i++ {
		for _, p := range ptfPorts {
			if f.ptfActive[p] {
				f.ptfCaps[p] = append(f.ptfCaps[p], pkt)
			}
		}
		for _, intf := range intfs {
			if f.dutActive[intf] {
				f.dutCaps[intf] = append(f.dutCaps[intf], pkt)
			}
		}
	}
}

type fakeInjector struct {
	fab        *fabric
	onSend     func(port int)
	supervisor []string
	flushes    int
}

func (i *fakeInjector) MAC(port int) (net.HardwareAddr, error) {
	return net.HardwareAddr{0x02, 0, 0, 0, 0, byte(port)}, nil
}

func (i *fakeInjector) Send(ctx context.Context, port int, frame []byte, count int) error {
	i.fab.deliver(port, frame, count)
	if i.onSend != nil {
		i.onSend(port)
	}
	return nil
}

func (i *fakeInjector) Flush() error {
	i.flushes++
	return nil
}

func (i *fakeInjector) Capture(ctx context.Context, port int, filter string, during func(context.Context) error) ([]gopacket.Packet, error) {
	i.fab.ptfActive[port] = true
	err := during(ctx)
	pkts := i.fab.ptfCaps[port]
	delete(i.fab.ptfActive, port)
	delete(i.fab.ptfCaps, port)
	return pkts, err
}

func (i *fakeInjector) Supervisor(action, program string) error {
	i.supervisor = append(i.supervisor, action+" "+program)
	return nil
}

type fakeDUT struct {
	name     string
	virtual  bool
	fab      *fabric
	features map[string]string

	servers   map[string]string
	muxStates map[string]string
	// muxFrozen keeps STATE_DB from following SetMuxState.
	muxFrozen bool
	aclTables map[string]device.ACLTable
	// aclUnbound stores added ACL tables without their ports.
	aclUnbound bool
	uplinks   []string
	routerMAC net.HardwareAddr

	crm      []device.CRMFacts
	crmCalls int

	program  device.ProgramInfo
	mem      []float64
	memCalls int

	// neighbors maps ip to reachable; deleteFails counts failing deletes.
	neighbors   map[string]bool
	deleteFails map[string]int

	lpmode   string
	presence map[string]string
	eeprom   map[string]string
	calls    []string
}

func (d *fakeDUT) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDUT) Hostname() string { return d.name }
func (d *fakeDUT) IsVirtual() bool  { return d.virtual }

func (d *fakeDUT) ConfigReload() error {
	d.record("config reload")
	return nil
}

func (d *fakeDUT) FeatureStatus() (map[string]string, error) { return d.features, nil }

func (d *fakeDUT) AddACLTable(t device.ACLTable) error {
	d.record("add acl %s %s %s %v", t.Name, t.Type, t.Stage, t.Ports)
	if d.aclTables == nil {
		d.aclTables = map[string]device.ACLTable{}
	}
	if d.aclUnbound {
		t.Ports = nil
	}
	d.aclTables[t.Name] = t
	return nil
}

func (d *fakeDUT) RemoveACLTable(name string) error {
	d.record("remove acl %s", name)
	delete(d.aclTables, name)
	return nil
}

func (d *fakeDUT) GetACLTable(name string) (*device.ACLTable, error) {
	t, ok := d.aclTables[name]
	if !ok {
		return nil, fmt.Errorf("ACL table %s: not found", name)
	}
	return &t, nil
}

func (d *fakeDUT) LoadACLRules(table string, rules []byte, dest string) error {
	d.record("load rules %s %s", table, dest)
	return nil
}

func (d *fakeDUT) CRMFacts() (device.CRMFacts, error) {
	f := d.crm[min(d.crmCalls, len(d.crm)-1)]
	d.crmCalls++
	return f, nil
}

func (d *fakeDUT) ProgramStatus(container, program string) (device.ProgramInfo, error) {
	return d.program, nil
}

func (d *fakeDUT) MemoryUsageMB(pattern string) (float64, error) {
	m := d.mem[min(d.memCalls, len(d.mem)-1)]
	d.memCalls++
	return m, nil
}

func (d *fakeDUT) NeighborReachable(ip string) (bool, error) { return d.neighbors[ip], nil }

func (d *fakeDUT) DeleteNeighbor(ip string) (bool, error) {
	if d.deleteFails[ip] > 0 {
		d.deleteFails[ip]--
		return false, nil
	}
	delete(d.neighbors, ip)
	return true, nil
}

func (d *fakeDUT) LinkLocalIPv6(intf string) (string, error) { return "fe80::1", nil }

func (d *fakeDUT) UplinkInterfaces() ([]string, error) { return d.uplinks, nil }

func (d *fakeDUT) RouterMAC() (net.HardwareAddr, error) {
	if d.routerMAC == nil {
		return net.HardwareAddr{0x52, 0x54, 0, 0, 0, 1}, nil
	}
	return d.routerMAC, nil
}

func (d *fakeDUT) MuxCableServerIPs() (map[string]string, error) { return d.servers, nil }

func (d *fakeDUT) SetMuxState(state string, intfs ...string) error {
	for _, intf := range intfs {
		d.record("mux %s %s", state, intf)
		if d.muxFrozen {
			continue
		}
		if d.muxStates == nil {
			d.muxStates = map[string]string{}
		}
		d.muxStates[intf] = state
	}
	return nil
}

func (d *fakeDUT) MuxState(intf string) (string, error) {
	s, ok := d.muxStates[intf]
	if !ok {
		return "", fmt.Errorf("mux state of %s: not found", intf)
	}
	return s, nil
}

func (d *fakeDUT) TransceiverLPMode() (string, error) { return d.lpmode, nil }

func (d *fakeDUT) TransceiverPresence() (map[string]string, error) { return d.presence, nil }

func (d *fakeDUT) TransceiverEEPROM() (map[string]string, error) { return d.eeprom, nil }

func (d *fakeDUT) Capture(ctx context.Context, intf, filter string, during func(context.Context) error) ([]gopacket.Packet, error) {
	d.fab.dutActive[intf] = true
	err := during(ctx)
	pkts := d.fab.dutCaps[intf]
	delete(d.fab.dutActive, intf)
	delete(d.fab.dutCaps, intf)
	return pkts, err
}

func newTestEnv(t *testing.T, tbYAML string, duts map[string]DUT, inj Injector) (*Env, *fakeClock) {
	t.Helper()
	tb, err := testbed.Parse([]byte(tbYAML))
	if err != nil {
		t.Fatalf("testbed.Parse() error = %v", err)
	}
	clock := newFakeClock()
	env := NewEnv(tb, duts, inj)
	env.Rand = rand.New(rand.NewSource(1))
	env.Clock = clock
	return env, clock
}

// runPhases drives a case the way the suite runner does.
func runPhases(ctx context.Context, c *Case, env *Env) (string, error) {
	if c.Precondition != nil {
		if err := c.Precondition(ctx, env); err != nil {
			return "", err
		}
	}
	var msg string
	var err error
	if c.Setup != nil {
		err = c.Setup(ctx, env)
	}
	if err == nil && c.Run != nil {
		msg, err = c.Run(ctx, env)
	}
	if c.Teardown != nil {
		if terr := c.Teardown(ctx, env); err == nil {
			err = terr
		}
	}
	return msg, err
}

func ipv4Dst(pkt gopacket.Packet) string {
	if ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		return ip.DstIP.String()
	}
	return ""
}
