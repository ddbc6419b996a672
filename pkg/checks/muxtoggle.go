package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/newtron-network/newtval/pkg/device"
	"github.com/newtron-network/newtval/pkg/testbed"
	"github.com/newtron-network/newtval/pkg/util"
)

// Mux toggle defaults.
const (
	MuxTogglePause       = 10 * time.Second
	MuxTogglePackets     = 100
	muxToggleStepBetween = 5 * time.Second
)

func init() {
	register("standby-tor-upstream-mux-toggle",
		"Upstream traffic is dropped on standby and forwarded on active across standby/active/standby mux toggles, with no stale CRM objects",
		func() *Case { return newMuxToggleCase() })
}

type muxToggleCase struct {
	dut   DUT
	tbDUT *testbed.DUT
	ran   bool
}

func newMuxToggleCase() *Case {
	c := &muxToggleCase{}
	return &Case{
		Topologies: []string{"t0"},
		Setup:      c.setup,
		Run:        c.run,
		Teardown:   c.teardown,
	}
}

func (c *muxToggleCase) setup(ctx context.Context, env *Env) error {
	dut, tbDUT, err := env.SelectedDUT()
	if err != nil {
		return err
	}
	c.dut, c.tbDUT = dut, tbDUT
	return nil
}

func (c *muxToggleCase) run(ctx context.Context, env *Env) (string, error) {
	servers, err := c.dut.MuxCableServerIPs()
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", Skipf("no mux cables on %s", c.dut.Hostname())
	}
	intf := pick(env.Rand, sortedStrings(servers))
	pause := env.Params.pause(MuxTogglePause)
	dst := env.Params.UpstreamDst
	if dst == "" {
		dst = defaultUpstreamDst
	}
	traffic := &upstreamTraffic{
		dut:      c.dut,
		tbDUT:    c.tbDUT,
		inj:      env.PTF,
		intf:     intf,
		serverIP: servers[intf],
		dstIP:    dst,
		count:    env.Params.packetCount(MuxTogglePackets),
	}
	log := util.WithDevice(c.dut.Hostname()).WithField("interface", intf)

	// standby: traffic is dropped by the standby ACL
	if err := c.toggle(ctx, env, device.MuxStandby, intf, pause); err != nil {
		return "", err
	}
	before, err := c.dut.CRMFacts()
	if err != nil {
		return "", err
	}
	if err := traffic.verify(ctx, true); err != nil {
		return "", err
	}
	env.sleep(muxToggleStepBetween)

	// active: traffic is forwarded to the uplinks
	if err := c.toggle(ctx, env, device.MuxActive, intf, pause); err != nil {
		return "", err
	}
	if err := traffic.verify(ctx, false); err != nil {
		return "", err
	}

	// standby again: dropped, and nothing left behind by the cycle
	if err := c.toggle(ctx, env, device.MuxStandby, intf, pause); err != nil {
		return "", err
	}
	if err := traffic.verify(ctx, true); err != nil {
		return "", err
	}
	after, err := c.dut.CRMFacts()
	if err != nil {
		return "", err
	}

	unmatched := device.CompareCRMFacts(before, after)
	if len(unmatched) > 0 {
		log.Debugf("CRM diff (-before +after):\n%s", device.DiffCRMFacts(before, after))
	}
	if c.dut.IsVirtual() {
		return fmt.Sprintf("mux %s toggled standby/active/standby, CRM check skipped on vs", intf), nil
	}
	if len(unmatched) > 0 {
		rendered, _ := json.MarshalIndent(unmatched, "", "    ")
		return "", &AssertionError{
			What:     "Unmatched CRM facts",
			Expected: "identical CRM facts before and after the toggle cycle",
			Observed: string(rendered),
		}
	}
	return fmt.Sprintf("mux %s toggled standby/active/standby, CRM facts unchanged", intf), nil
}

// toggle forces the mux of intf to state, waits for STATE_DB to follow
// and lets the data plane settle.
func (c *muxToggleCase) toggle(ctx context.Context, env *Env, state, intf string, pause time.Duration) error {
	if err := c.dut.SetMuxState(state, intf); err != nil {
		return err
	}
	c.ran = true
	if err := waitMuxState(ctx, env, c.dut, state, intf); err != nil {
		return err
	}
	env.sleep(pause)
	return nil
}

// teardown restores the saved configuration; the toggles leave mux modes
// forced.
func (c *muxToggleCase) teardown(ctx context.Context, env *Env) error {
	if !c.ran {
		return nil
	}
	return c.dut.ConfigReload()
}
