// Package ptf drives the packet test framework host: the container whose
// ethN interfaces are cabled to the switch ports.
//
// Frames are written to a pcap file locally, copied to the host and
// replayed with tcpreplay; receive-side checks use a tcpdump capture.
package ptf

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"

	"github.com/newtron-network/newtval/pkg/audit"
	"github.com/newtron-network/newtval/pkg/capture"
	"github.com/newtron-network/newtval/pkg/device"
	"github.com/newtron-network/newtval/pkg/testbed"
	"github.com/newtron-network/newtval/pkg/util"
)

// Executor runs shell commands on the PTF host.
type Executor interface {
	ExecCommand(cmd string) (string, error)
	ExecCommandInput(cmd string, input []byte) (string, error)
}

// Adapter injects and captures frames on PTF ports. Port N is interface
// ethN.
type Adapter struct {
	name string
	exec Executor

	tunnel   *device.SSHTunnel
	capturer *capture.Capturer
}

// Connect opens SSH to the testbed's PTF host.
func Connect(ctx context.Context, host testbed.PTFHost) (*Adapter, error) {
	if host.MgmtIP == "" {
		return nil, fmt.Errorf("ptf host: %w", util.ErrInvalidConfig)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tun, err := device.NewSSHTunnel(host.MgmtIP, host.SSHUser, host.SSHPass, host.SSHPort)
	if err != nil {
		return nil, fmt.Errorf("SSH to ptf %s: %w", host.MgmtIP, err)
	}
	a := New("ptf", tun)
	a.tunnel = tun
	util.WithDevice(a.name).Info("Connected")
	return a, nil
}

// New returns an Adapter over an existing executor. The PTF container runs
// as root, so captures do not use sudo.
func New(name string, exec Executor) *Adapter {
	c := capture.New(name, exec)
	c.Sudo = false
	return &Adapter{name: name, exec: exec, capturer: c}
}

// Close releases the SSH connection.
func (a *Adapter) Close() error {
	if a.tunnel == nil {
		return nil
	}
	err := a.tunnel.Close()
	a.tunnel = nil
	return err
}

// Interface returns the PTF interface name of a port index.
func Interface(port int) string {
	return fmt.Sprintf("eth%d", port)
}

// MAC returns the hardware address of a PTF port.
func (a *Adapter) MAC(port int) (net.HardwareAddr, error) {
	out, err := a.exec.ExecCommand(fmt.Sprintf("cat /sys/class/net/%s/address", Interface(port)))
	if err != nil {
		return nil, fmt.Errorf("mac of %s:%s: %w", a.name, Interface(port), err)
	}
	mac, err := net.ParseMAC(strings.TrimSpace(out))
	if err != nil {
		return nil, fmt.Errorf("mac of %s:%s: %w", a.name, Interface(port), err)
	}
	return mac, nil
}

// Send transmits frame count times out of port.
func (a *Adapter) Send(ctx context.Context, port int, frame []byte, count int) error {
	if count <= 0 {
		count = 1
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := pcapOf(frame)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/tmp/newtval-%s.pcap", uuid.NewString())
	if out, err := a.exec.ExecCommandInput("cat > "+path, data); err != nil {
		return fmt.Errorf("upload frame to %s: %s: %w", a.name, strings.TrimSpace(out), err)
	}
	defer a.exec.ExecCommand("rm -f " + path)

	cmd := fmt.Sprintf("tcpreplay --loop=%d --intf1=%s %s", count, Interface(port), path)
	if out, err := a.exec.ExecCommand(cmd); err != nil {
		return fmt.Errorf("send on %s:%s: %s: %w", a.name, Interface(port), strings.TrimSpace(out), err)
	}
	util.WithDevice(a.name).Debugf("Sent %d frames on %s", count, Interface(port))
	return nil
}

// flushCmd interrupts leftover tcpdump and tcpreplay processes, which all
// name a /tmp/newtval-* file. The bracket keeps the pattern from matching
// the command line of the shell running pkill.
const flushCmd = "pkill -INT -f '[n]ewtval-' ; true"

// Flush stops captures and replays left over from an interrupted run so
// they cannot leak frames into the next check.
func (a *Adapter) Flush() error {
	_, err := a.exec.ExecCommand(flushCmd)
	return err
}

// Capture records frames arriving on port while during runs.
func (a *Adapter) Capture(ctx context.Context, port int, filter string, during func(context.Context) error) ([]gopacket.Packet, error) {
	return a.capturer.Run(ctx, Interface(port), filter, during)
}

// Supervisor runs a supervisorctl action ("start", "stop", ...) on a PTF
// program.
func (a *Adapter) Supervisor(action, program string) error {
	start := time.Now()
	out, err := a.exec.ExecCommand(fmt.Sprintf("supervisorctl %s %s", action, program))
	audit.Record(a.name, audit.OpSupervisor, action+" "+program, start, err)
	if err != nil {
		return fmt.Errorf("supervisorctl %s %s on %s: %s: %w", action, program, a.name, strings.TrimSpace(out), err)
	}
	util.WithDevice(a.name).Infof("supervisorctl %s %s", action, program)
	return nil
}

func pcapOf(frame []byte) ([]byte, error) {
	var b bytes.Buffer
	w := pcapgo.NewWriter(&b)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}
	if err := w.WritePacket(ci, frame); err != nil {
		return nil, fmt.Errorf("write pcap: %w", err)
	}
	return b.Bytes(), nil
}
