package netutil

import (
	"fmt"
	"net"
)

// Subnet24 reduces an IPv4 address to its /24 prefix. Bets store this next
// to the raw origin so abuse review can group players behind one NAT.
func Subnet24(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	ipv4 := parsed.To4()
	if ipv4 == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", ipv4[0], ipv4[1], ipv4[2])
}
