package util

import (
	"net"
	"strconv"
	"strings"
)

// SplitIPMask splits a CIDR notation into IP and mask length
// Returns the IP (without mask) and mask length
func SplitIPMask(cidr string) (string, int) {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return cidr, 0 // Return as-is if no mask
	}
	maskLen, err := strconv.Atoi(parts[1])
	if err != nil {
		return parts[0], 0
	}
	return parts[0], maskLen
}

// HostIP returns the address part of an "a.b.c.d/len" string.
func HostIP(cidr string) string {
	ip, _ := SplitIPMask(cidr)
	return ip
}

// IsValidIPv4 returns true if ipStr is a dotted-quad IPv4 address.
func IsValidIPv4(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	return ip != nil && ip.To4() != nil
}

