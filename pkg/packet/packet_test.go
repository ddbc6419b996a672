package packet

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var ptfMAC = net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}

func decode(t *testing.T, frame []byte) gopacket.Packet {
	t.Helper()
	p := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	if el := p.ErrorLayer(); el != nil {
		t.Fatalf("decode: %v", el.Error())
	}
	return p
}

func TestDHCPv6Solicit(t *testing.T) {
	frame, err := DHCPv6Solicit(ptfMAC, net.ParseIP("fe80::1"), 234)
	if err != nil {
		t.Fatalf("DHCPv6Solicit() error = %v", err)
	}
	p := decode(t, frame)

	eth := p.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if eth.DstMAC.String() != "33:33:00:01:00:02" || eth.SrcMAC.String() != ptfMAC.String() {
		t.Errorf("ethernet = %s -> %s", eth.SrcMAC, eth.DstMAC)
	}
	ip := p.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ip.DstIP.Equal(DHCPv6MulticastIP) {
		t.Errorf("IPv6 dst = %s", ip.DstIP)
	}
	udp := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if udp.SrcPort != DHCPv6ClientPort || udp.DstPort != DHCPv6ServerPort {
		t.Errorf("UDP ports = %d -> %d", udp.SrcPort, udp.DstPort)
	}

	other, err := DHCPv6Solicit(ptfMAC, net.ParseIP("fe80::1"), 0x010203)
	if err != nil {
		t.Fatal(err)
	}
	ids := SolicitTransactionIDs([]gopacket.Packet{p, decode(t, other)})
	if diff := cmp.Diff([]uint32{234, 0x010203}, ids); diff != "" {
		t.Errorf("SolicitTransactionIDs() mismatch (-want +got):\n%s", diff)
	}
}

func TestIPv4UDP_RejectsIPv6(t *testing.T) {
	_, err := IPv4UDP(IPv4Options{SrcIP: net.ParseIP("fe80::1"), DstIP: net.ParseIP("10.0.0.1")})
	if err == nil {
		t.Error("IPv4UDP() accepted an IPv6 source")
	}
}

func ipInIP(t *testing.T, inner []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: ptfMAC, DstMAC: ptfMAC, EthernetType: layers.EthernetTypeIPv4}
	outer := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      63,
		Protocol: layers.IPProtocolIPv4,
		SrcIP:    net.ParseIP("10.1.0.33").To4(),
		DstIP:    net.ParseIP("10.1.0.32").To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	// inner frame without its Ethernet header
	if err := gopacket.SerializeLayers(buf, serializeOpts, eth, outer, gopacket.Payload(inner[14:])); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExpected(t *testing.T) {
	marker := []byte("newtval")
	frame, err := IPv4UDP(IPv4Options{
		SrcMAC:  ptfMAC,
		DstMAC:  net.HardwareAddr{0x52, 0x54, 0, 0, 0, 1},
		SrcIP:   net.ParseIP("1.1.1.1"),
		DstIP:   net.ParseIP("192.168.0.2"),
		SrcPort: 1234,
		DstPort: 5000,
		Payload: append(marker, 0, 1, 2),
	})
	if err != nil {
		t.Fatalf("IPv4UDP() error = %v", err)
	}
	plain := decode(t, frame)
	tunnelled := decode(t, ipInIP(t, frame))
	solicit, _ := DHCPv6Solicit(ptfMAC, net.ParseIP("fe80::1"), 1)
	v6 := decode(t, solicit)

	exp := Expected{DstIP: net.ParseIP("192.168.0.2"), Protocol: layers.IPProtocolUDP, DstPort: 5000, Payload: marker}
	tests := []struct {
		name string
		exp  Expected
		pkt  gopacket.Packet
		want bool
	}{
		{"plain", exp, plain, true},
		{"inner header of IP-in-IP", exp, tunnelled, true},
		{"IPv6 never matches", exp, v6, false},
		{"wrong destination", Expected{DstIP: net.ParseIP("192.168.0.3")}, plain, false},
		{"wrong port", Expected{DstPort: 5001}, plain, false},
		{"wrong payload", Expected{Payload: []byte("other")}, plain, false},
		{"empty matches any IPv4", Expected{}, plain, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.exp.Match(tt.pkt); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}

	pkts := []gopacket.Packet{plain, v6, tunnelled}
	if n := exp.Count(pkts); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
	matched, unmatched := exp.Matched(pkts)
	if len(matched) != 2 || len(unmatched) != 1 {
		t.Errorf("Matched() = %d/%d, want 2/1", len(matched), len(unmatched))
	}
}
