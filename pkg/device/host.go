// Package device is the control handle for a SONiC switch under test.
//
// Commands run over SSH. Redis databases are reached through the same SSH
// connection, forwarded to a local port, since redis-server is bound to
// loopback on the switch.
package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/newtval/pkg/audit"
	"github.com/newtron-network/newtval/pkg/testbed"
	"github.com/newtron-network/newtval/pkg/util"
)

// Executor runs shell commands on a remote host.
type Executor interface {
	ExecCommand(cmd string) (string, error)
	ExecCommandInput(cmd string, input []byte) (string, error)
}

// Stores groups the Redis databases a Host reads.
type Stores struct {
	Config   Store
	State    Store
	Counters Store
	Appl     Store
}

// Host is a SONiC switch under test.
type Host struct {
	Name     string
	MgmtIP   string
	AsicType string

	dut *testbed.DUT

	exec   Executor
	dbs    Stores
	tunnel *SSHTunnel

	clients   []*DBClient
	connected bool

	mu sync.RWMutex
}

// NewHost creates a handle for a testbed DUT. It does not connect.
func NewHost(dut *testbed.DUT) *Host {
	return &Host{
		Name:     dut.Name,
		MgmtIP:   dut.MgmtIP,
		AsicType: dut.AsicType,
		dut:      dut,
	}
}

// NewHostWith creates a connected handle over an existing executor and
// stores.
func NewHostWith(name, asicType string, exec Executor, dbs Stores) *Host {
	return &Host{
		Name:      name,
		AsicType:  asicType,
		exec:      exec,
		dbs:       dbs,
		connected: true,
	}
}

// Connect opens SSH to the switch and the Redis databases through it.
// CONFIG_DB is required; the other databases are optional.
func (h *Host) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connected {
		return nil
	}
	if h.dut == nil {
		return fmt.Errorf("device %s: %w", h.Name, util.ErrInvalidConfig)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tun, err := NewSSHTunnel(h.MgmtIP, h.dut.SSHUser, h.dut.SSHPass, h.dut.SSHPort)
	if err != nil {
		return fmt.Errorf("SSH to %s: %w", h.Name, err)
	}
	addr, err := tun.Forward(redisAddr)
	if err != nil {
		tun.Close()
		return fmt.Errorf("redis tunnel to %s: %w", h.Name, err)
	}
	h.tunnel = tun
	h.exec = tun

	config := NewDBClient(addr, ConfigDB)
	if err := config.Connect(); err != nil {
		config.Close()
		tun.Close()
		return fmt.Errorf("connecting to config_db on %s: %w", h.Name, err)
	}
	h.clients = append(h.clients, config)
	h.dbs.Config = config

	optional := []struct {
		name string
		db   int
		dst  *Store
	}{
		{"state_db", StateDB, &h.dbs.State},
		{"counters_db", CountersDB, &h.dbs.Counters},
		{"appl_db", ApplDB, &h.dbs.Appl},
	}
	for _, o := range optional {
		c := NewDBClient(addr, o.db)
		if err := c.Connect(); err != nil {
			// Non-fatal: checks that need the database report ErrNotConnected.
			util.WithDevice(h.Name).Warnf("Failed to connect to %s: %v", o.name, err)
			c.Close()
			continue
		}
		h.clients = append(h.clients, c)
		*o.dst = c
	}

	h.connected = true
	util.WithDevice(h.Name).Info("Connected")
	return nil
}

// Disconnect closes Redis clients and the SSH connection.
func (h *Host) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return nil
	}
	for _, c := range h.clients {
		c.Close()
	}
	h.clients = nil
	h.dbs = Stores{}
	var err error
	if h.tunnel != nil {
		err = h.tunnel.Close()
		h.tunnel = nil
	}
	h.exec = nil
	h.connected = false
	util.WithDevice(h.Name).Info("Disconnected")
	return err
}

// IsConnected returns true if connected.
func (h *Host) IsConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected
}

// RequireConnected returns an error if the host is not connected.
func (h *Host) RequireConnected() error {
	if !h.IsConnected() {
		return fmt.Errorf("device %s: %w", h.Name, util.ErrNotConnected)
	}
	return nil
}

// Hostname returns the testbed name of the switch.
func (h *Host) Hostname() string {
	return h.Name
}

// IsVirtual reports whether the switch is the virtual SONiC image.
func (h *Host) IsVirtual() bool {
	return h.AsicType == "vs"
}

// Shell runs a command on the switch.
func (h *Host) Shell(cmd string) (string, error) {
	if err := h.RequireConnected(); err != nil {
		return "", err
	}
	util.WithDevice(h.Name).Debugf("shell: %s", cmd)
	return h.exec.ExecCommand(cmd)
}

// ShellLines runs a command and returns its non-blank output lines.
func (h *Host) ShellLines(cmd string) ([]string, error) {
	out, err := h.Shell(cmd)
	if err != nil {
		return nil, err
	}
	return util.NonEmptyLines(out), nil
}

// Executor returns the command executor, for packages that drive
// long-running tools such as tcpdump on the switch.
func (h *Host) Executor() Executor {
	return h.exec
}

// CopyFile writes content to dest on the switch.
func (h *Host) CopyFile(content []byte, dest string) error {
	if err := h.RequireConnected(); err != nil {
		return err
	}
	cmd := fmt.Sprintf("cat > %s", shellQuote(dest))
	if out, err := h.exec.ExecCommandInput(cmd, content); err != nil {
		return fmt.Errorf("copying to %s:%s: %s: %w", h.Name, dest, strings.TrimSpace(out), err)
	}
	return nil
}

// ConfigReload reloads the saved configuration, discarding runtime changes.
func (h *Host) ConfigReload() error {
	start := time.Now()
	_, err := h.Shell("sudo config reload -y")
	audit.Record(h.Name, audit.OpConfigReload, "", start, err)
	if err != nil {
		return fmt.Errorf("config reload on %s: %w", h.Name, err)
	}
	return nil
}

func (h *Host) store(name string, s Store) (Store, error) {
	if err := h.RequireConnected(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("device %s %s: %w", h.Name, name, util.ErrNotConnected)
	}
	return s, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
