package goShield

import (
	"net"
	"strings"
)

// Identity is the opaque accounting key for a caller: "user:<id>" when an
// authenticated principal exists, "ip:<address>" otherwise. The kind is
// chosen deterministically — a caller is never tracked under both forms at
// the same instant.
type Identity string

// UserIdentity builds the authenticated form of an identity.
func UserIdentity(id string) Identity {
	return Identity("user:" + id)
}

// IPIdentity builds the anonymous form of an identity.
func IPIdentity(addr string) Identity {
	return Identity("ip:" + addr)
}

// IsAnonymous reports whether the identity is IP-derived.
func (i Identity) IsAnonymous() bool {
	return strings.HasPrefix(string(i), "ip:")
}

// IP returns the address of an anonymous identity, or "" for user identities.
func (i Identity) IP() string {
	if !i.IsAnonymous() {
		return ""
	}
	return strings.TrimPrefix(string(i), "ip:")
}

func (i Identity) String() string {
	return string(i)
}

// loopback is the fail-safe default trust set: no external proxy is believed
// unless explicitly configured.
var loopbackCIDRs = []string{"127.0.0.0/8", "::1/128"}

func parseTrustedRanges(cidrs []string) ([]*net.IPNet, error) {
	if len(cidrs) == 0 {
		cidrs = loopbackCIDRs
	}

	ranges := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, network)
	}

	return ranges, nil
}

func rangesContain(ranges []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, network := range ranges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// resolveIdentity derives the accounting identity for a request. It is pure
// and synchronous: no I/O, ever.
//
// An authenticated principal always wins. Otherwise the direct peer address
// is used, and the forwarding chain is believed only when that peer sits
// inside a trusted range — in which case the left-most address (the
// originating client, per chain convention) replaces it.
//
// IPv4-mapped IPv6 peers are normalized to dotted-quad before comparison.
// Native IPv6 range matching beyond the loopback default is not supported
// here and must be raised if a deployment needs it.
func resolveIdentity(principal, remoteAddr, forwardedFor string, trusted []*net.IPNet) Identity {
	if principal != "" {
		return UserIdentity(principal)
	}

	peer := normalizePeerAddr(remoteAddr)
	peerIP := net.ParseIP(peer)

	if forwardedFor != "" && rangesContain(trusted, peerIP) {
		if client := leftmostForwarded(forwardedFor); client != "" {
			return IPIdentity(client)
		}
	}

	return IPIdentity(peer)
}

// normalizePeerAddr strips any port and collapses IPv4-mapped IPv6 addresses
// to their dotted-quad form.
func normalizePeerAddr(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// leftmostForwarded returns the first address of a forwarding chain, or ""
// when the chain does not start with a parseable address.
func leftmostForwarded(chain string) string {
	first := chain
	if idx := strings.IndexByte(chain, ','); idx >= 0 {
		first = chain[:idx]
	}
	first = strings.TrimSpace(first)

	ip := net.ParseIP(first)
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
