package device

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newtron-network/newtval/pkg/audit"
	"github.com/newtron-network/newtval/pkg/util"
)

// Mux cable states.
const (
	MuxActive  = "active"
	MuxStandby = "standby"
	MuxAuto    = "auto"
)

// MuxCable is a CONFIG_DB MUX_CABLE entry: the server behind a dual-ToR
// downlink.
type MuxCable struct {
	Interface  string
	ServerIPv4 string // with prefix length, e.g. "192.168.0.2/32"
	ServerIPv6 string
	State      string // configured mode
}

// MuxCables returns every mux cable sorted by interface.
func (h *Host) MuxCables() ([]MuxCable, error) {
	db, err := h.store("config_db", h.dbs.Config)
	if err != nil {
		return nil, err
	}
	keys, err := db.TableKeys("MUX_CABLE")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	cables := make([]MuxCable, 0, len(keys))
	for _, intf := range keys {
		entry, err := db.GetEntry("MUX_CABLE", intf)
		if err != nil {
			return nil, err
		}
		cables = append(cables, MuxCable{
			Interface:  intf,
			ServerIPv4: entry["server_ipv4"],
			ServerIPv6: entry["server_ipv6"],
			State:      entry["state"],
		})
	}
	return cables, nil
}

// MuxCableServerIPs maps mux interfaces to their server IPv4 address
// without prefix length.
func (h *Host) MuxCableServerIPs() (map[string]string, error) {
	cables, err := h.MuxCables()
	if err != nil {
		return nil, err
	}
	ips := make(map[string]string, len(cables))
	for _, c := range cables {
		if c.ServerIPv4 != "" {
			ips[c.Interface] = util.HostIP(c.ServerIPv4)
		}
	}
	return ips, nil
}

// SetMuxState forces the mux on each interface to state.
func (h *Host) SetMuxState(state string, intfs ...string) error {
	switch state {
	case MuxActive, MuxStandby, MuxAuto:
	default:
		return util.NewValidationError(fmt.Sprintf("invalid mux state %q", state))
	}
	for _, intf := range intfs {
		cmd := fmt.Sprintf("sudo config mux mode %s %s", state, intf)
		start := time.Now()
		out, err := h.Shell(cmd)
		audit.Record(h.Name, audit.OpMuxSet, intf+" -> "+state, start, err)
		if err != nil {
			return fmt.Errorf("mux %s -> %s on %s: %s: %w", intf, state, h.Name, strings.TrimSpace(out), err)
		}
	}
	util.WithDevice(h.Name).Infof("Set mux state %s on %s", state, strings.Join(intfs, ","))
	return nil
}

// MuxState returns the operational mux state from STATE_DB MUX_CABLE_TABLE.
func (h *Host) MuxState(intf string) (string, error) {
	db, err := h.store("state_db", h.dbs.State)
	if err != nil {
		return "", err
	}
	entry, err := db.GetEntry("MUX_CABLE_TABLE", intf)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", fmt.Errorf("mux state of %s: %w", intf, util.ErrNotFound)
	}
	return entry["state"], nil
}
