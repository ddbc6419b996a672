package util

import "testing"

func TestSplitIPMask(t *testing.T) {
	tests := []struct {
		cidr     string
		wantIP   string
		wantMask int
	}{
		{"192.168.0.2/32", "192.168.0.2", 32},
		{"10.1.1.1/30", "10.1.1.1", 30},
		{"10.1.1.1", "10.1.1.1", 0},
		{"10.1.1.1/x", "10.1.1.1", 0},
	}
	for _, tt := range tests {
		ip, mask := SplitIPMask(tt.cidr)
		if ip != tt.wantIP || mask != tt.wantMask {
			t.Errorf("SplitIPMask(%q) = (%q, %d), want (%q, %d)", tt.cidr, ip, mask, tt.wantIP, tt.wantMask)
		}
	}
}

func TestHostIP(t *testing.T) {
	if got := HostIP("192.168.0.3/32"); got != "192.168.0.3" {
		t.Errorf("HostIP = %q", got)
	}
}

func TestIsValidIPv4(t *testing.T) {
	tests := map[string]bool{
		"10.0.0.1":  true,
		"fe80::1":   false,
		"10.0.0":    false,
		"":          false,
		"127.0.0.1": true,
	}
	for in, want := range tests {
		if got := IsValidIPv4(in); got != want {
			t.Errorf("IsValidIPv4(%q) = %v, want %v", in, got, want)
		}
	}
}

