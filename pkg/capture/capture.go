// Package capture records traffic on a remote host with tcpdump and decodes
// the result locally.
//
// The capture runs in the background on the remote side while a caller
// supplied action generates traffic; the pcap file is then fetched over the
// same exec channel and parsed with gopacket.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"

	"github.com/newtron-network/newtval/pkg/util"
)

// Executor runs a shell command on the capturing host.
type Executor interface {
	ExecCommand(cmd string) (string, error)
}

// Default timings.
const (
	DefaultSettle  = time.Second
	DefaultTimeout = 120 * time.Second
	DefaultDir     = "/tmp"
)

// Capturer runs tcpdump on one host.
type Capturer struct {
	name string
	exec Executor

	// Settle is the pause after tcpdump starts and after it is stopped.
	Settle time.Duration
	// Timeout bounds the remote tcpdump in case the stop never arrives.
	Timeout time.Duration
	// Dir is the remote directory for pcap files.
	Dir string
	// Sudo prefixes privileged commands with sudo. Hosts logged in as
	// root can turn it off.
	Sudo bool

	sleep func(time.Duration)
}

// New returns a Capturer for the named host.
func New(name string, exec Executor) *Capturer {
	return &Capturer{
		name:    name,
		exec:    exec,
		Settle:  DefaultSettle,
		Timeout: DefaultTimeout,
		Dir:     DefaultDir,
		Sudo:    true,
		sleep:   time.Sleep,
	}
}

// Run captures packets on intf matching the BPF filter while during runs.
// The capture is stopped and the remote file removed even if during fails;
// in that case the packets captured so far are returned with the error.
func (c *Capturer) Run(ctx context.Context, intf, filter string, during func(ctx context.Context) error) ([]gopacket.Packet, error) {
	log := util.WithDevice(c.name).WithField("interface", intf)

	path := fmt.Sprintf("%s/newtval-%s.pcap", strings.TrimRight(c.Dir, "/"), uuid.NewString())
	start := fmt.Sprintf("%stimeout %d tcpdump -i %s -U -w %s %s >/dev/null 2>&1 & echo $!",
		c.sudo(), int(c.Timeout.Seconds()), intf, path, quote(filter))
	out, err := c.exec.ExecCommand(start)
	if err != nil {
		return nil, fmt.Errorf("start capture on %s:%s: %w", c.name, intf, err)
	}
	pid, err := lastInt(out)
	if err != nil {
		return nil, fmt.Errorf("start capture on %s:%s: %w", c.name, intf, err)
	}
	log.Debugf("tcpdump pid %d writing %s filter %q", pid, path, filter)
	defer c.exec.ExecCommand(c.sudo() + "rm -f " + path)

	c.sleep(c.Settle)

	runErr := ctx.Err()
	if runErr == nil {
		runErr = during(ctx)
	}

	// SIGINT flushes the pcap before tcpdump exits.
	if _, err := c.exec.ExecCommand(fmt.Sprintf("%skill -INT %d", c.sudo(), pid)); err != nil {
		log.Debugf("stop tcpdump %d: %v", pid, err)
	}
	c.sleep(c.Settle)

	packets, err := c.fetch(path)
	if runErr != nil {
		// whatever arrived before the failure is still returned
		return packets, runErr
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Captured %d packets", len(packets))
	return packets, nil
}

func (c *Capturer) fetch(path string) ([]gopacket.Packet, error) {
	encoded, err := c.exec.ExecCommand(c.sudo() + "base64 -w0 " + path)
	if err != nil {
		return nil, fmt.Errorf("fetch capture %s from %s: %w", path, c.name, err)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("fetch capture %s from %s: %w", path, c.name, err)
	}
	return Decode(data)
}

// Decode parses a pcap file.
func Decode(data []byte) ([]gopacket.Packet, error) {
	r, err := pcapgo.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	var packets []gopacket.Packet
	for {
		raw, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return packets, nil
		}
		if err != nil {
			// tcpdump killed mid-write leaves a truncated last record
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return packets, nil
			}
			return packets, fmt.Errorf("read pcap record %d: %w", len(packets), err)
		}
		pkt := gopacket.NewPacket(raw, r.LinkType(), gopacket.Default)
		pkt.Metadata().CaptureInfo = ci
		packets = append(packets, pkt)
	}
}

func (c *Capturer) sudo() string {
	if c.Sudo {
		return "sudo "
	}
	return ""
}

func lastInt(out string) (int, error) {
	lines := util.NonEmptyLines(out)
	if len(lines) == 0 {
		return 0, fmt.Errorf("no pid in output")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[len(lines)-1]))
	if err != nil {
		return 0, fmt.Errorf("no pid in output %q", out)
	}
	return pid, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
