package checks

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/google/gopacket"

	"github.com/newtron-network/newtval/pkg/device"
	"github.com/newtron-network/newtval/pkg/packet"
	"github.com/newtron-network/newtval/pkg/testbed"
	"github.com/newtron-network/newtval/pkg/util"
)

// DHCPv6 reception ACL setup.
const (
	DHCPv6ACLTable     = "DHCPV6_PKT_RECV_TEST"
	DHCPv6ACLTableType = "L3V6"
	DHCPv6ACLStage     = "ingress"
	DHCPv6ACLRuleDest  = "/tmp/test_dhcp_pkt_acl_rule.json"

	dhcpRelayFeature     = "dhcp_relay"
	defaultTransactionID = 234
)

// Multicast accept rule for DHCPv6ACLTable. acl-loader adds the implicit
// drop-all rule for L3V6 tables.
//
//go:embed acl/dhcpv6_pkt_recv_multicast_accept.json
var multicastAcceptRules []byte

func init() {
	register("dhcpv6-multicast-recv-empty-acl",
		"DHCPv6 Solicit to ff02::1:2 reaches the relay with an empty L3V6 ACL table bound",
		func() *Case { return newDHCPv6Case(nil) })
	register("dhcpv6-multicast-recv-multicast-accept-acl",
		"DHCPv6 Solicit to ff02::1:2 reaches the relay with a multicast-accept rule and default deny",
		func() *Case { return newDHCPv6Case(multicastAcceptRules) })
}

type dhcpv6Case struct {
	rules []byte

	dut        DUT
	tbDUT      *testbed.DUT
	ptfIndices []int
	roles      []muxRole
	tableAdded bool
}

func newDHCPv6Case(rules []byte) *Case {
	c := &dhcpv6Case{rules: rules}
	return &Case{
		Topologies:   []string{"t0", "m0", "mx", "m1"},
		Precondition: c.precondition,
		Setup:        c.setup,
		Run:          c.run,
		Teardown:     c.teardown,
	}
}

func (c *dhcpv6Case) precondition(ctx context.Context, env *Env) error {
	dut, tbDUT, err := env.SelectedDUT()
	if err != nil {
		return err
	}
	c.dut, c.tbDUT = dut, tbDUT
	features, err := dut.FeatureStatus()
	if err != nil {
		return err
	}
	if !strings.Contains(features[dhcpRelayFeature], "enabled") {
		return Skipf("dhcp relay feature is not enabled on %s", dut.Hostname())
	}
	return nil
}

func (c *dhcpv6Case) setup(ctx context.Context, env *Env) error {
	if err := c.steerMux(ctx, env); err != nil {
		return err
	}
	indices, err := env.Testbed.PTFIndicesFor(c.tbDUT.Name)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		return fmt.Errorf("no host interface of %s maps to a PTF port: %w", c.tbDUT.Name, util.ErrNotFound)
	}
	c.ptfIndices = indices

	ports := c.tbDUT.InterfacesForPTFIndices(indices)
	err = c.dut.AddACLTable(device.ACLTable{
		Name:  DHCPv6ACLTable,
		Type:  DHCPv6ACLTableType,
		Stage: DHCPv6ACLStage,
		Ports: ports,
	})
	if err != nil {
		return err
	}
	c.tableAdded = true
	table, err := c.dut.GetACLTable(DHCPv6ACLTable)
	if err != nil {
		return err
	}
	if !slices.Equal(table.Ports, ports) {
		return fmt.Errorf("ACL table %s on %s bound to %v, want %v", DHCPv6ACLTable, c.dut.Hostname(), table.Ports, ports)
	}
	if c.rules != nil {
		return c.dut.LoadACLRules(DHCPv6ACLTable, c.rules, DHCPv6ACLRuleDest)
	}
	return nil
}

// steerMux makes the selected ToR active and its peers standby on a
// dual-ToR testbed, so the Solicit is relayed by the DUT under capture.
func (c *dhcpv6Case) steerMux(ctx context.Context, env *Env) error {
	names := env.dutNames()
	if len(names) < 2 {
		return nil
	}
	role, err := forceMuxRole(ctx, env, c.dut, device.MuxActive)
	c.roles = append(c.roles, role)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == c.tbDUT.Name {
			continue
		}
		peer, _, err := env.dut(name)
		if err != nil {
			return err
		}
		role, err := forceMuxRole(ctx, env, peer, device.MuxStandby)
		c.roles = append(c.roles, role)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *dhcpv6Case) run(ctx context.Context, env *Env) (string, error) {
	ptfIndex := pick(env.Rand, c.ptfIndices)
	intf, ok := c.tbDUT.InterfaceForPTFIndex(ptfIndex)
	if !ok {
		return "", fmt.Errorf("no interface of %s on PTF port %d: %w", c.tbDUT.Name, ptfIndex, util.ErrNotFound)
	}
	log := util.WithDevice(c.dut.Hostname())
	log.Infof("Start to verify dhcpv6 multicast with interface=%s and ptf_port_id=%d", intf, ptfIndex)

	trid := env.Params.TransactionID
	if trid == 0 {
		trid = defaultTransactionID
	}
	srcMAC, err := env.PTF.MAC(ptfIndex)
	if err != nil {
		return "", err
	}
	filter := fmt.Sprintf("ether src %s and udp dst port %d", srcMAC, packet.DHCPv6ServerPort)

	pkts, err := c.dut.Capture(ctx, intf, filter, func(ctx context.Context) error {
		ll, err := c.dut.LinkLocalIPv6(intf)
		if err != nil {
			return err
		}
		frame, err := packet.DHCPv6Solicit(srcMAC, net.ParseIP(ll), trid)
		if err != nil {
			return err
		}
		if err := env.PTF.Flush(); err != nil {
			return err
		}
		return env.PTF.Send(ctx, ptfIndex, frame, 1)
	})
	if err != nil {
		return "", err
	}
	if err := expectTransactionID(pkts, trid); err != nil {
		return "", err
	}
	return fmt.Sprintf("Solicit trid %d received on %s", trid, intf), nil
}

func expectTransactionID(pkts []gopacket.Packet, trid uint32) error {
	ids := packet.SolicitTransactionIDs(pkts)
	for _, id := range ids {
		if id == trid {
			return nil
		}
	}
	return &AssertionError{
		What:     "Didn't get packet with expected transaction id",
		Expected: fmt.Sprintf("a Solicit with transaction id %d", trid),
		Observed: fmt.Sprintf("%d packets, Solicit ids %v", len(pkts), ids),
	}
}

func (c *dhcpv6Case) teardown(ctx context.Context, env *Env) error {
	var errs []error
	if c.tableAdded {
		if err := c.dut.RemoveACLTable(DHCPv6ACLTable); err != nil {
			errs = append(errs, err)
		}
	}
	if err := restoreMuxRoles(c.roles); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
