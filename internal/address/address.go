// Package address provides family-agnostic IPv4/IPv6 address handling for
// resolved syslog endpoints: parsing literal addresses, classifying a
// resolved net.IPAddr by family, and rendering addresses for dial strings
// and diagnostics.
package address

import (
	"fmt"
	"net"

	"github.com/hashicorp/go-sockaddr"
)

// Family is the address family of a resolved endpoint.
type Family int

const (
	// FamilyUnknown marks an address whose family could not be determined.
	FamilyUnknown Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Endpoint is a resolved destination: family, address, port and the
// original server name retained for TLS SNI and certificate validation.
// Endpoints are created whole from configuration plus a resolver result
// and are never mutated in place — a reconnect replaces the Endpoint.
type Endpoint struct {
	Family     Family
	IP         net.IP
	Port       uint16
	ServerName string
}

// String renders a "host:port" form suitable for net.Dial.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprintf("%d", e.Port))
}

// DialNetwork returns the network name to pass to net.Dial/net.ListenUDP for
// this endpoint's family and the given base network ("tcp", "udp").
func (e Endpoint) DialNetwork(base string) string {
	switch e.Family {
	case FamilyIPv4:
		return base + "4"
	case FamilyIPv6:
		return base + "6"
	default:
		return base
	}
}

// ClassifyIP returns the Family of a resolved net.IP.
func ClassifyIP(ip net.IP) Family {
	if ip == nil {
		return FamilyUnknown
	}
	if ip.To4() != nil {
		return FamilyIPv4
	}
	if ip.To16() != nil {
		return FamilyIPv6
	}
	return FamilyUnknown
}

// ParseLiteral classifies a literal IP string (no DNS involved) using
// go-sockaddr's family-aware parser, returning FamilyUnknown and a nil IP if
// the string is not a literal address (e.g. it is a hostname requiring
// resolution).
func ParseLiteral(s string) (net.IP, Family) {
	sa, err := sockaddr.NewIPAddr(s)
	if err != nil {
		return nil, FamilyUnknown
	}

	switch v := sa.(type) {
	case sockaddr.IPv4Addr:
		return *v.NetIP(), FamilyIPv4
	case sockaddr.IPv6Addr:
		return *v.NetIP(), FamilyIPv6
	default:
		return nil, FamilyUnknown
	}
}

// NewEndpoint builds an Endpoint from a resolved IP, the configured port and
// the original server name used for SNI/cert validation.
func NewEndpoint(ip net.IP, port uint16, serverName string) Endpoint {
	return Endpoint{
		Family:     ClassifyIP(ip),
		IP:         ip,
		Port:       port,
		ServerName: serverName,
	}
}
