package device

import (
	"context"
	"fmt"
	"net"

	"github.com/google/gopacket"

	"github.com/newtron-network/newtval/pkg/capture"
)

// Capture records packets on a switch interface while during runs.
func (h *Host) Capture(ctx context.Context, intf, filter string, during func(context.Context) error) ([]gopacket.Packet, error) {
	if err := h.RequireConnected(); err != nil {
		return nil, err
	}
	return capture.New(h.Name, h.exec).Run(ctx, intf, filter, during)
}

// RouterMAC returns the switch MAC from DEVICE_METADATA|localhost.
func (h *Host) RouterMAC() (net.HardwareAddr, error) {
	db, err := h.store("config_db", h.dbs.Config)
	if err != nil {
		return nil, err
	}
	entry, err := db.GetEntry("DEVICE_METADATA", "localhost")
	if err != nil {
		return nil, err
	}
	mac, err := net.ParseMAC(entry["mac"])
	if err != nil {
		return nil, fmt.Errorf("router mac of %s: %w", h.Name, err)
	}
	return mac, nil
}
