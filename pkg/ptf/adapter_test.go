package ptf

import (
	"context"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/newtron-network/newtval/pkg/capture"
)

type fakeExec struct {
	ran    []string
	inputs map[string][]byte
	reply  func(cmd string) (string, error)
}

func (f *fakeExec) ExecCommand(cmd string) (string, error) {
	f.ran = append(f.ran, cmd)
	if f.reply != nil {
		return f.reply(cmd)
	}
	return "", nil
}

func (f *fakeExec) ExecCommandInput(cmd string, input []byte) (string, error) {
	if f.inputs == nil {
		f.inputs = make(map[string][]byte)
	}
	f.inputs[cmd] = input
	return f.ExecCommand(cmd)
}

func newTestAdapter(exec *fakeExec) *Adapter {
	a := New("ptf", exec)
	a.capturer.Settle = 0
	return a
}

func TestMAC(t *testing.T) {
	exec := &fakeExec{reply: func(cmd string) (string, error) {
		if cmd == "cat /sys/class/net/eth3/address" {
			return "02:11:22:33:44:55\n", nil
		}
		return "", errors.New("no such file")
	}}
	a := newTestAdapter(exec)

	mac, err := a.MAC(3)
	if err != nil {
		t.Fatalf("MAC() error = %v", err)
	}
	if mac.String() != "02:11:22:33:44:55" {
		t.Errorf("MAC() = %s", mac)
	}
	if _, err := a.MAC(9); err == nil {
		t.Error("MAC(9) succeeded")
	}
}

func TestSend(t *testing.T) {
	exec := &fakeExec{}
	a := newTestAdapter(exec)
	frame := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 2, 0, 0, 0, 0, 1, 0x08, 0x06}

	if err := a.Send(context.Background(), 5, frame, 100); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(exec.ran) != 3 {
		t.Fatalf("ran %d commands, want 3: %v", len(exec.ran), exec.ran)
	}
	upload := exec.ran[0]
	path := strings.TrimPrefix(upload, "cat > ")
	if !strings.HasPrefix(path, "/tmp/newtval-") {
		t.Errorf("upload command = %q", upload)
	}
	if want := "tcpreplay --loop=100 --intf1=eth5 " + path; exec.ran[1] != want {
		t.Errorf("replay command = %q, want %q", exec.ran[1], want)
	}
	if exec.ran[2] != "rm -f "+path {
		t.Errorf("cleanup command = %q", exec.ran[2])
	}

	packets, err := capture.Decode(exec.inputs[upload])
	if err != nil {
		t.Fatalf("uploaded file is not a pcap: %v", err)
	}
	if len(packets) != 1 || string(packets[0].Data()) != string(frame) {
		t.Errorf("uploaded packets = %v", packets)
	}
}

func TestSend_Canceled(t *testing.T) {
	exec := &fakeExec{}
	a := newTestAdapter(exec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Send(ctx, 0, []byte{0}, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
	if len(exec.ran) != 0 {
		t.Errorf("commands ran after cancel: %v", exec.ran)
	}
}

func TestCapture_NoSudo(t *testing.T) {
	empty := []byte{0xd4, 0xc3, 0xb2, 0xa1, 2, 0, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 0, 0, 0}
	exec := &fakeExec{reply: func(cmd string) (string, error) {
		switch {
		case strings.HasPrefix(cmd, "timeout"):
			return "31\n", nil
		case strings.HasPrefix(cmd, "base64"):
			return base64.StdEncoding.EncodeToString(empty), nil
		}
		return "", nil
	}}
	a := newTestAdapter(exec)

	packets, err := a.Capture(context.Background(), 2, "ip", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(packets) != 0 {
		t.Errorf("Capture() = %d packets, want 0", len(packets))
	}
	if !strings.Contains(exec.ran[0], "tcpdump -i eth2") {
		t.Errorf("start command = %q", exec.ran[0])
	}
	for _, cmd := range exec.ran {
		if strings.HasPrefix(cmd, "sudo") {
			t.Errorf("command used sudo: %q", cmd)
		}
	}
}

func TestSupervisor(t *testing.T) {
	exec := &fakeExec{reply: func(cmd string) (string, error) {
		if strings.Contains(cmd, "bogus") {
			return "bogus: ERROR (no such process)\n", errors.New("exit status 1")
		}
		return "", nil
	}}
	a := newTestAdapter(exec)

	if err := a.Supervisor("stop", "garp_service"); err != nil {
		t.Fatalf("Supervisor() error = %v", err)
	}
	if exec.ran[0] != "supervisorctl stop garp_service" {
		t.Errorf("command = %q", exec.ran[0])
	}
	if err := a.Supervisor("start", "bogus"); err == nil || !strings.Contains(err.Error(), "no such process") {
		t.Errorf("Supervisor(bogus) error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() without tunnel error = %v", err)
	}
}

func TestFlush(t *testing.T) {
	exec := &fakeExec{}
	a := newTestAdapter(exec)

	if err := a.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(exec.ran) != 1 || exec.ran[0] != flushCmd {
		t.Fatalf("commands = %q, want %q", exec.ran, flushCmd)
	}

	_, rest, _ := strings.Cut(flushCmd, "-f '")
	pattern, _, _ := strings.Cut(rest, "'")
	re := regexp.MustCompile(pattern)
	for _, cmdline := range []string{
		"tcpreplay --loop=1 --intf1=eth3 /tmp/newtval-0c1f.pcap",
		"tcpdump -i eth0 -w /tmp/newtval-9a2b.pcap udp",
	} {
		if !re.MatchString(cmdline) {
			t.Errorf("pattern %q does not match %q", pattern, cmdline)
		}
	}
	if shell := "sh -c " + flushCmd; re.MatchString(shell) {
		t.Errorf("pattern %q matches its own shell %q", pattern, shell)
	}
}
