package packet

import (
	"bytes"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Expected describes a frame a case waits for. Zero fields are not
// compared, so MACs, TTL and checksums rewritten on the forwarding path
// never cause a miss. For IP-in-IP frames the innermost IPv4 header is
// compared.
type Expected struct {
	SrcIP    net.IP
	DstIP    net.IP
	Protocol layers.IPProtocol
	DstPort  uint16
	// Payload must prefix the transport payload.
	Payload []byte
}

// Match reports whether p carries the expected headers.
func (e Expected) Match(p gopacket.Packet) bool {
	var ip *layers.IPv4
	for _, l := range p.Layers() {
		if v4, ok := l.(*layers.IPv4); ok {
			ip = v4
		}
	}
	if ip == nil {
		return false
	}
	if e.SrcIP != nil && !e.SrcIP.Equal(ip.SrcIP) {
		return false
	}
	if e.DstIP != nil && !e.DstIP.Equal(ip.DstIP) {
		return false
	}
	if e.Protocol != 0 && e.Protocol != ip.Protocol {
		return false
	}
	if e.DstPort == 0 && e.Payload == nil {
		return true
	}
	switch t := p.TransportLayer().(type) {
	case *layers.UDP:
		if e.DstPort != 0 && uint16(t.DstPort) != e.DstPort {
			return false
		}
		return e.Payload == nil || bytes.HasPrefix(t.Payload, e.Payload)
	case *layers.TCP:
		if e.DstPort != 0 && uint16(t.DstPort) != e.DstPort {
			return false
		}
		return e.Payload == nil || bytes.HasPrefix(t.Payload, e.Payload)
	}
	return false
}

// Count returns how many packets match.
func (e Expected) Count(packets []gopacket.Packet) int {
	n := 0
	for _, p := range packets {
		if e.Match(p) {
			n++
		}
	}
	return n
}

// Matched splits packets into matching and non-matching ones.
func (e Expected) Matched(packets []gopacket.Packet) (matched, unmatched []gopacket.Packet) {
	for _, p := range packets {
		if e.Match(p) {
			matched = append(matched, p)
		} else {
			unmatched = append(unmatched, p)
		}
	}
	return matched, unmatched
}
