package checks

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/newtron-network/newtval/pkg/packet"
	"github.com/newtron-network/newtval/pkg/testbed"
	"github.com/newtron-network/newtval/pkg/util"
)

// payloadMarker tags injected frames so captures can tell them apart from
// background traffic.
var payloadMarker = []byte("newtval")

// Source address of packets injected from the T1 side.
const t1SourceIP = "1.1.1.1"

// defaultUpstreamDst is an address covered only by the default route.
const defaultUpstreamDst = "100.127.0.1"

// uplinkPTFPorts returns the PTF indices wired to a ToR's PortChannel
// members, the T1-facing ports.
func uplinkPTFPorts(dut DUT, tbDUT *testbed.DUT) ([]int, error) {
	uplinks, err := dut.UplinkInterfaces()
	if err != nil {
		return nil, err
	}
	var ports []int
	for _, intf := range uplinks {
		if idx, ok := tbDUT.PTFIndices[intf]; ok {
			ports = append(ports, idx)
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("T1 ports of %s: %w", dut.Hostname(), util.ErrNotFound)
	}
	sort.Ints(ports)
	return ports, nil
}

// ptfPort returns the PTF index wired to a DUT interface.
func ptfPort(tbDUT *testbed.DUT, intf string) (int, error) {
	idx, ok := tbDUT.PTFIndices[intf]
	if !ok {
		return 0, fmt.Errorf("PTF port of %s:%s: %w", tbDUT.Name, intf, util.ErrNotFound)
	}
	return idx, nil
}

// captureAll captures on every port at once while during runs and returns
// the packets seen on each.
func captureAll(ctx context.Context, inj Injector, ports []int, filter string, during func(context.Context) error) (map[int][]gopacket.Packet, error) {
	got := make(map[int][]gopacket.Packet, len(ports))
	var nest func(ctx context.Context, i int) error
	nest = func(ctx context.Context, i int) error {
		if i == len(ports) {
			return during(ctx)
		}
		pkts, err := inj.Capture(ctx, ports[i], filter, func(ctx context.Context) error {
			return nest(ctx, i+1)
		})
		got[ports[i]] = pkts
		return err
	}
	err := nest(ctx, 0)
	return got, err
}

func sortedStrings(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// upstreamTraffic sends packets from a server-facing port toward a
// destination behind the default route and counts them on the T1 ports.
type upstreamTraffic struct {
	dut      DUT
	tbDUT    *testbed.DUT
	inj      Injector
	intf     string
	serverIP string
	dstIP    string
	count    int
}

// verify checks that the traffic is dropped (drop) or forwarded upstream.
func (u *upstreamTraffic) verify(ctx context.Context, drop bool) error {
	log := util.WithDevice(u.dut.Hostname()).WithField("interface", u.intf)

	tx, err := ptfPort(u.tbDUT, u.intf)
	if err != nil {
		return err
	}
	uplinks, err := uplinkPTFPorts(u.dut, u.tbDUT)
	if err != nil {
		return err
	}
	routerMAC, err := u.dut.RouterMAC()
	if err != nil {
		return err
	}
	srcMAC, err := u.inj.MAC(tx)
	if err != nil {
		return err
	}
	frame, err := packet.IPv4UDP(packet.IPv4Options{
		SrcMAC:  srcMAC,
		DstMAC:  routerMAC,
		SrcIP:   net.ParseIP(u.serverIP),
		DstIP:   net.ParseIP(u.dstIP),
		SrcPort: 1234,
		DstPort: 5000,
		Payload: payloadMarker,
	})
	if err != nil {
		return err
	}
	exp := packet.Expected{
		SrcIP:    net.ParseIP(u.serverIP),
		DstIP:    net.ParseIP(u.dstIP),
		Protocol: layers.IPProtocolUDP,
		Payload:  payloadMarker,
	}

	if err := u.inj.Flush(); err != nil {
		return err
	}
	filter := fmt.Sprintf("ip src %s and ip dst %s", u.serverIP, u.dstIP)
	captured, err := captureAll(ctx, u.inj, uplinks, filter, func(ctx context.Context) error {
		return u.inj.Send(ctx, tx, frame, u.count)
	})
	if err != nil {
		return err
	}
	received := 0
	var on []string
	for _, port := range uplinks {
		if n := exp.Count(captured[port]); n > 0 {
			received += n
			on = append(on, fmt.Sprintf("%d", port))
		}
	}
	log.Infof("Sent %d packets %s -> %s on PTF port %d, %d arrived upstream (ports %s)",
		u.count, u.serverIP, u.dstIP, tx, received, strings.Join(on, ","))

	switch {
	case drop && received > 0:
		return &AssertionError{
			What:     fmt.Sprintf("upstream traffic from %s via %s", u.serverIP, u.intf),
			Expected: "no packets on T1 ports",
			Observed: fmt.Sprintf("%d packets", received),
		}
	case !drop && received == 0:
		return &AssertionError{
			What:     fmt.Sprintf("upstream traffic from %s via %s", u.serverIP, u.intf),
			Expected: "packets on a T1 port",
			Observed: "none",
		}
	}
	return nil
}
