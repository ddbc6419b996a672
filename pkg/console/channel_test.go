package console

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/crypto/ssh"
)

// startEchoServer runs an SSH server that prints a login banner on the
// shell channel and echoes everything it receives.
func startEchoServer(t *testing.T, password string) (string, func()) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, p []byte) (*ssh.Permissions, error) {
			if string(p) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				serveEcho(nc, cfg)
			}()
		}
	}()
	return ln.Addr().String(), func() {
		ln.Close()
		wg.Wait()
	}
}

func serveEcho(nc net.Conn, cfg *ssh.ServerConfig) {
	defer nc.Close()
	sc, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	defer wg.Wait()
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			return
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			for req := range chReqs {
				req.Reply(req.Type == "pty-req" || req.Type == "shell", nil)
			}
		}()
		go func() {
			defer wg.Done()
			defer ch.Close()
			io.WriteString(ch, "sonic login: ")
			io.Copy(ch, ch)
		}()
	}
}

func TestDialSSH_EchoAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	addr, stop := startEchoServer(t, "cpass")
	defer stop()

	ch, err := DialSSH(context.Background(), addr, "cuser:7", "cpass")
	if err != nil {
		t.Fatalf("DialSSH() error = %v", err)
	}
	if err := ch.Write("hello" + Return); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(got, "hello") {
		out, err := ch.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		got += out
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(got, "sonic login: ") || !strings.Contains(got, "hello") {
		t.Errorf("read %q, want banner and echo", got)
	}

	if err := ch.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.Errorf("Close() error = %v", err)
	}
	if err := ch.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.Errorf("second Close() error = %v", err)
	}
	if err := ch.Write("x"); !errors.Is(err, io.EOF) {
		t.Errorf("Write() after Close error = %v, want io.EOF", err)
	}
	if _, err := ch.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after Close error = %v, want io.EOF", err)
	}
}

func TestDialSSH_BadPassword(t *testing.T) {
	defer goleak.VerifyNone(t)

	addr, stop := startEchoServer(t, "cpass")
	defer stop()

	_, err := DialSSH(context.Background(), addr, "cuser:7", "wrong")
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("DialSSH() error = %v, want *AuthError", err)
	}
	if aerr.Reason != ReasonOuterAuth {
		t.Errorf("Reason = %q, want %q", aerr.Reason, ReasonOuterAuth)
	}
}
