// Package packet builds the frames injected by validation cases and matches
// the frames they expect to see.
package packet

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// DHCPv6 well-known addressing.
var (
	DHCPv6MulticastMAC = net.HardwareAddr{0x33, 0x33, 0x00, 0x01, 0x00, 0x02}
	DHCPv6MulticastIP  = net.ParseIP("ff02::1:2")
)

// DHCPv6 UDP ports.
const (
	DHCPv6ClientPort = 546
	DHCPv6ServerPort = 547
)

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

// DHCPv6Solicit builds a Solicit from a client link-local address to the
// All_DHCP_Relay_Agents_and_Servers group. Only the low 24 bits of trid are
// used.
func DHCPv6Solicit(srcMAC net.HardwareAddr, srcIP net.IP, trid uint32) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       DHCPv6MulticastMAC,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      srcIP,
		DstIP:      DHCPv6MulticastIP,
	}
	udp := &layers.UDP{
		SrcPort: DHCPv6ClientPort,
		DstPort: DHCPv6ServerPort,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	dhcp := &layers.DHCPv6{
		MsgType:       layers.DHCPv6MsgTypeSolicit,
		TransactionID: transactionID(trid),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, eth, ip, udp, dhcp); err != nil {
		return nil, fmt.Errorf("serialize DHCPv6 solicit: %w", err)
	}
	return buf.Bytes(), nil
}

func transactionID(trid uint32) []byte {
	return []byte{byte(trid >> 16), byte(trid >> 8), byte(trid)}
}

// SolicitTransactionIDs returns the transaction id of every DHCPv6 Solicit
// among packets.
func SolicitTransactionIDs(packets []gopacket.Packet) []uint32 {
	var ids []uint32
	for _, p := range packets {
		dhcp, ok := p.Layer(layers.LayerTypeDHCPv6).(*layers.DHCPv6)
		if !ok || dhcp.MsgType != layers.DHCPv6MsgTypeSolicit || len(dhcp.TransactionID) != 3 {
			continue
		}
		t := dhcp.TransactionID
		ids = append(ids, uint32(t[0])<<16|uint32(t[1])<<8|uint32(t[2]))
	}
	return ids
}

// IPv4Options describes a simple IPv4/UDP frame.
type IPv4Options struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	TTL     uint8 // 0 means 64
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// IPv4UDP builds an Ethernet/IPv4/UDP frame.
func IPv4UDP(o IPv4Options) ([]byte, error) {
	ttl := o.TTL
	if ttl == 0 {
		ttl = 64
	}
	eth := &layers.Ethernet{
		SrcMAC:       o.SrcMAC,
		DstMAC:       o.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    o.SrcIP.To4(),
		DstIP:    o.DstIP.To4(),
	}
	if ip.SrcIP == nil || ip.DstIP == nil {
		return nil, fmt.Errorf("IPv4 frame needs IPv4 addresses, got %v -> %v", o.SrcIP, o.DstIP)
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(o.SrcPort),
		DstPort: layers.UDPPort(o.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, eth, ip, udp, gopacket.Payload(o.Payload)); err != nil {
		return nil, fmt.Errorf("serialize IPv4 frame: %w", err)
	}
	return buf.Bytes(), nil
}
