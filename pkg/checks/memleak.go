package checks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/newtron-network/newtval/pkg/device"
	"github.com/newtron-network/newtval/pkg/packet"
	"github.com/newtron-network/newtval/pkg/ptf"
	"github.com/newtron-network/newtval/pkg/testbed"
	"github.com/newtron-network/newtval/pkg/util"
)

// Tunnel memory leak defaults.
const (
	TunnelLeakPackets = 1000
	// Some growth is normal; allow 5% over the baseline.
	TunnelLeakThreshold = 0.05
	tunnelLeakSettle    = 10 * time.Second

	tunnelHandlerContainer = "swss"
	tunnelHandlerProgram   = "tunnel_packet_handler"
	tunnelHandlerProcess   = "tunnel_packet_handler.py"

	neighborDeleteTimeout  = 10 * time.Second
	neighborDeleteInterval = time.Second
)

func init() {
	register("tunnel-memory-leak",
		"tunnel_packet_handler memory stays within 5% of baseline after IP-in-IP traffic triggers it for every server (on vs only the memory check runs)",
		func() *Case { return newTunnelLeakCase() })
}

type tunnelLeakCase struct {
	upper, lower     DUT
	upperTB, lowerTB *testbed.DUT

	roles           []muxRole
	servicesStarted bool
}

func newTunnelLeakCase() *Case {
	c := &tunnelLeakCase{}
	return &Case{
		Topologies:   []string{"dualtor"},
		Precondition: c.precondition,
		Setup:        c.setup,
		Run:          c.run,
		Teardown:     c.teardown,
	}
}

func (c *tunnelLeakCase) precondition(ctx context.Context, env *Env) error {
	var err error
	c.upper, c.lower, c.upperTB, c.lowerTB, err = env.DualToR()
	return err
}

// setup makes the upper ToR active and the lower one standby, so traffic
// from the lower ToR's T1 side reaches the servers only through the
// IP-in-IP tunnel. It then stops garp_service, which would re-add the
// neighbor entries, and starts the responders so servers answer the
// injected traffic.
func (c *tunnelLeakCase) setup(ctx context.Context, env *Env) error {
	for _, r := range []struct {
		dut   DUT
		state string
	}{
		{c.upper, device.MuxActive},
		{c.lower, device.MuxStandby},
	} {
		role, err := forceMuxRole(ctx, env, r.dut, r.state)
		c.roles = append(c.roles, role)
		if err != nil {
			return err
		}
	}
	env.sleep(tunnelLeakSettle)

	c.servicesStarted = true
	if err := env.PTF.Supervisor("stop", "garp_service"); err != nil {
		return err
	}
	if err := env.PTF.Supervisor("start", "arp_responder"); err != nil {
		return err
	}
	return env.PTF.Supervisor("start", "icmp_responder")
}

func (c *tunnelLeakCase) teardown(ctx context.Context, env *Env) error {
	var errs []error
	if c.servicesStarted {
		if err := env.PTF.Supervisor("stop", "arp_responder"); err != nil {
			util.Logger.Warnf("Stopping arp_responder: %v", err)
		}
		if err := env.PTF.Supervisor("stop", "icmp_responder"); err != nil {
			errs = append(errs, err)
		}
	}
	if err := restoreMuxRoles(c.roles); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *tunnelLeakCase) run(ctx context.Context, env *Env) (string, error) {
	upper, lower, upperTB, lowerTB := c.upper, c.lower, c.upperTB, c.lowerTB
	log := util.WithDevice(upper.Hostname())

	info, err := upper.ProgramStatus(tunnelHandlerContainer, tunnelHandlerProgram)
	if err != nil {
		return "", err
	}
	if info.Status != "RUNNING" {
		return "", &AssertionError{
			What:     fmt.Sprintf("%s in %s container", tunnelHandlerProgram, tunnelHandlerContainer),
			Expected: "RUNNING",
			Observed: info.Status,
		}
	}

	t1Ports, err := uplinkPTFPorts(lower, lowerTB)
	if err != nil {
		return "", err
	}
	t1Port := pick(env.Rand, t1Ports)
	servers, err := upper.MuxCableServerIPs()
	if err != nil {
		return "", err
	}
	intfs := sortedStrings(servers)

	for _, intf := range intfs {
		ip := servers[intf]
		deleted := waitUntil(ctx, env.Clock, neighborDeleteTimeout, neighborDeleteInterval, 0, func() bool {
			gone, err := upper.DeleteNeighbor(ip)
			return err == nil && gone
		})
		if !deleted {
			return "", Failf("server ip %s hasn't been deleted from neighbor table", ip)
		}
	}
	env.sleep(tunnelLeakSettle)

	sample := func() (float64, error) { return upper.MemoryUsageMB(tunnelHandlerProcess) }
	baseline, err := sample()
	if err != nil {
		return "", err
	}
	log.Infof("%s baseline memory usage: %.2f MB", tunnelHandlerProcess, baseline)

	lowerMAC, err := lower.RouterMAC()
	if err != nil {
		return "", err
	}
	t1MAC, err := env.PTF.MAC(t1Port)
	if err != nil {
		return "", err
	}
	count := env.Params.packetCount(TunnelLeakPackets)

	var expected, unexpected int
	swept := true
	for _, intf := range intfs {
		if upper.IsVirtual() {
			log.Info("Server traffic monitor is not supported on virtual dual-ToR, skipping the sweep")
			swept = false
			break
		}
		ip := servers[intf]
		log.Infof("Select DUT interface %s and server IP %s to test", intf, ip)

		serverPort, err := ptfPort(upperTB, intf)
		if err != nil {
			return "", err
		}
		frame, err := packet.IPv4UDP(packet.IPv4Options{
			SrcMAC:  t1MAC,
			DstMAC:  lowerMAC,
			SrcIP:   net.ParseIP(t1SourceIP),
			DstIP:   net.ParseIP(ip),
			SrcPort: 1234,
			DstPort: 5000,
			Payload: payloadMarker,
		})
		if err != nil {
			return "", err
		}
		exp := packet.Expected{
			SrcIP:    net.ParseIP(t1SourceIP),
			DstIP:    net.ParseIP(ip),
			Protocol: layers.IPProtocolUDP,
			Payload:  payloadMarker,
		}

		pkts, err := env.PTF.Capture(ctx, serverPort, "ip dst "+ip, func(ctx context.Context) error {
			if err := env.PTF.Send(ctx, t1Port, frame, count); err != nil {
				return err
			}
			log.Infof("Sent %d packets from ptf t1 interface %s on standby TOR %s", count, ptf.Interface(t1Port), lower.Hostname())
			if mem, err := sample(); err == nil {
				log.Infof("%s MEM USAGE: %.2f MB", tunnelHandlerProcess, mem)
			}
			reachable, err := upper.NeighborReachable(ip)
			if err != nil {
				return err
			}
			if !reachable {
				return fmt.Errorf("server ip %s doesn't exist in neighbor table on %s, %s isn't triggered",
					ip, upper.Hostname(), tunnelHandlerProgram)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Errorf("Capture exception %v, continue the process", err)
		}
		matched, other := exp.Matched(pkts)
		if len(matched) == 0 {
			log.Errorf("Didn't receive any expected packets for server %s (%d other packets)", ip, len(other))
			unexpected++
		} else {
			expected++
		}
	}
	log.Infof("The amount of expected scenarios: %d, the amount of unexpected scenarios: %d", expected, unexpected)

	env.sleep(tunnelLeakSettle)
	threshold := env.Params.MemThreshold
	if threshold <= 0 {
		threshold = TunnelLeakThreshold
	}
	target := baseline * (1 + threshold)
	if CheckMemoryLeak(ctx, env.Clock, log, sample, target, LeakCheckDelay, LeakCheckTimeout, LeakCheckInterval) {
		return "", &AssertionError{
			What:     fmt.Sprintf("memory leak in %s on %s", tunnelHandlerProcess, upper.Hostname()),
			Expected: fmt.Sprintf("at most %.2f MB", target),
			Observed: "usage above target for the whole poll",
		}
	}
	summary := fmt.Sprintf("baseline %.2f MB; %d servers with expected packets, %d without", baseline, expected, unexpected)
	if !swept {
		summary += "; sweep skipped on vs"
	}
	return summary, nil
}
