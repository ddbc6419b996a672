package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Channel is the interactive byte stream of a console session.
//
// Read returns whatever output has been buffered since the previous Read
// (possibly ""), and io.EOF once the remote side has closed and the buffer
// is drained. Write returns io.EOF when the stream is gone.
type Channel interface {
	Write(s string) error
	Read() (string, error)
	Clear() error
	Close() error
}

// Dialer opens a Channel to a console server, performing the outer login.
type Dialer func(ctx context.Context, addr, user, password string) (Channel, error)

// sshChannel is a Channel over an SSH shell session with a PTY. A pump
// goroutine copies remote output into buf until the session ends.
type sshChannel struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	mu  sync.Mutex
	buf bytes.Buffer
	eof bool

	done      chan struct{}
	closeOnce sync.Once
}

// DialSSH is the default Dialer. It answers both password and
// keyboard-interactive challenges with password, requests a PTY and starts
// a shell.
func DialSSH(ctx context.Context, addr, user, password string) (Channel, error) {
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		// Console servers in the lab are re-imaged freely; host keys are not pinned.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthError{Host: addr, User: user, Reason: ReasonOuterAuth}
		}
		return nil, fmt.Errorf("SSH handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	ch, err := newSSHChannel(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return ch, nil
}

func newSSHChannel(client *ssh.Client) (*sshChannel, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("SSH session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", 24, 511, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("SSH pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("SSH stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("SSH stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("SSH shell: %w", err)
	}

	ch := &sshChannel{
		client:  client,
		session: session,
		stdin:   stdin,
		done:    make(chan struct{}),
	}
	go ch.pump(stdout)
	return ch, nil
}

func (c *sshChannel) pump(r io.Reader) {
	defer close(c.done)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		c.mu.Lock()
		if n > 0 {
			c.buf.Write(chunk[:n])
		}
		if err != nil {
			c.eof = true
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *sshChannel) Write(s string) error {
	c.mu.Lock()
	eof := c.eof
	c.mu.Unlock()
	if eof {
		return io.EOF
	}
	if _, err := io.WriteString(c.stdin, s); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return io.EOF
		}
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}

func (c *sshChannel) Read() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() > 0 {
		s := c.buf.String()
		c.buf.Reset()
		return s, nil
	}
	if c.eof {
		return "", io.EOF
	}
	return "", nil
}

func (c *sshChannel) Clear() error {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()
	return nil
}

// Close tears down the session and client, waits for the pump to exit and
// discards unread output.
func (c *sshChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stdin.Close()
		c.session.Close()
		err = c.client.Close()
		<-c.done
		c.mu.Lock()
		c.buf.Reset()
		c.mu.Unlock()
	})
	return err
}
