package device

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// redisAddr is where SONiC's redis-server listens inside the switch.
const redisAddr = "127.0.0.1:6379"

// SSHTunnel is an SSH connection to a lab host. It runs shell commands and,
// when Forward is called, exposes a remote TCP address on a local port.
// Device handles use it to reach Redis, which is bound to loopback on the
// switch.
type SSHTunnel struct {
	host      string
	sshClient *ssh.Client

	localAddr string
	listener  net.Listener
	remote    string
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSSHTunnel dials SSH on host:port (22 when port is zero).
func NewSSHTunnel(host, user, pass string, port int) (*SSHTunnel, error) {
	if port == 0 {
		port = 22
	}
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(pass),
		},
		// Lab/test environment; production would verify host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return &SSHTunnel{host: host, sshClient: sshClient}, nil
}

// Forward opens a local listener on a random port whose connections are
// forwarded to remote inside the SSH host. It may be called once.
func (t *SSHTunnel) Forward(remote string) (string, error) {
	if t.listener != nil {
		return "", fmt.Errorf("tunnel to %s already forwards %s", t.host, t.remote)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("local listen: %w", err)
	}
	t.listener = listener
	t.localAddr = listener.Addr().String()
	t.remote = remote
	t.done = make(chan struct{})

	t.wg.Add(1)
	go t.acceptLoop()
	return t.localAddr, nil
}

// LocalAddr returns the local forwarding address, or "" before Forward.
func (t *SSHTunnel) LocalAddr() string {
	return t.localAddr
}

// Close stops the listener, closes the SSH connection, and waits for
// all forwarding goroutines to finish.
func (t *SSHTunnel) Close() error {
	if t.listener != nil {
		close(t.done)
		t.listener.Close()
		t.wg.Wait()
	}
	return t.sshClient.Close()
}

func (t *SSHTunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

// ExecCommand runs a command on the remote host via SSH and returns the combined output.
// The SSH session is created per-call (stateless).
func (t *SSHTunnel) ExecCommand(cmd string) (string, error) {
	return t.ExecCommandInput(cmd, nil)
}

// ExecCommandInput is ExecCommand with input fed to the command's stdin.
func (t *SSHTunnel) ExecCommandInput(cmd string, input []byte) (string, error) {
	session, err := t.sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("SSH session: %w", err)
	}
	defer session.Close()

	if input != nil {
		session.Stdin = bytes.NewReader(input)
	}
	output, err := session.CombinedOutput(cmd)
	if err != nil {
		return string(output), fmt.Errorf("SSH exec '%s': %w", cmd, err)
	}
	return string(output), nil
}

func (t *SSHTunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.sshClient.Dial("tcp", t.remote)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}
