package device

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newtron-network/newtval/pkg/audit"
	"github.com/newtron-network/newtval/pkg/util"
)

// NeighborReachable reports whether the kernel neighbor entry for ip is
// REACHABLE.
func (h *Host) NeighborReachable(ip string) (bool, error) {
	lines, err := h.ShellLines("ip neighbor show " + ip)
	if err != nil {
		return false, err
	}
	return len(lines) > 0 && strings.Contains(lines[0], "REACHABLE"), nil
}

// DeleteNeighbor removes the neighbor entry for ip and reports whether it
// is gone afterwards.
func (h *Host) DeleteNeighbor(ip string) (bool, error) {
	lines, err := h.ShellLines("ip neighbor show " + ip)
	if err != nil {
		return false, err
	}
	if len(lines) == 0 {
		return true, nil
	}
	dev := neighborDevice(lines[0])
	if dev == "" {
		return false, fmt.Errorf("neighbor %s on %s: no device in %q", ip, h.Name, lines[0])
	}
	start := time.Now()
	out, err := h.Shell(fmt.Sprintf("sudo ip neighbor del %s dev %s", ip, dev))
	audit.Record(h.Name, audit.OpNeighborDelete, ip+" dev "+dev, start, err)
	if err != nil {
		util.WithDevice(h.Name).Debugf("ip neighbor del %s: %s: %v", ip, strings.TrimSpace(out), err)
	}
	lines, err = h.ShellLines("ip neighbor show " + ip)
	if err != nil {
		return false, err
	}
	return len(lines) == 0, nil
}

// neighborDevice returns the "dev" field of an `ip neighbor` line.
func neighborDevice(line string) string {
	fields := strings.Fields(line)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "dev" {
			return fields[i+1]
		}
	}
	return ""
}

// LinkLocalIPv6 returns the fe80:: address of an interface.
func (h *Host) LinkLocalIPv6(intf string) (string, error) {
	lines, err := h.ShellLines(fmt.Sprintf("ip -6 addr show dev %s scope link", intf))
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "inet6" {
			return util.HostIP(fields[1]), nil
		}
	}
	return "", fmt.Errorf("link-local address of %s on %s: %w", intf, h.Name, util.ErrNotFound)
}

// UplinkInterfaces returns, sorted, the members of every PortChannel. On
// a ToR these face the T1 layer.
func (h *Host) UplinkInterfaces() ([]string, error) {
	db, err := h.store("config_db", h.dbs.Config)
	if err != nil {
		return nil, err
	}
	keys, err := db.TableKeys("PORTCHANNEL_MEMBER")
	if err != nil {
		return nil, err
	}
	var members []string
	for _, k := range keys {
		if _, member, ok := strings.Cut(k, "|"); ok {
			members = append(members, member)
		}
	}
	sort.Strings(members)
	return members, nil
}
