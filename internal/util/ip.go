package util

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

const (
	IPv4ReverseSuffix = "in-addr.arpa"
	IPv6ReverseSuffix = "ip6.arpa"
)

var ErrMalformedAddress = errors.New("malformed address")

// IPv4PointerName returns the in-addr.arpa name of an IPv4 address,
// e.g. 10.0.0.5 -> 5.0.0.10.in-addr.arpa.
func IPv4PointerName(addr string) (string, error) {
	octets, err := ipv4Octets(addr)
	if err != nil {
		return "", err
	}
	return reverseJoin(octets) + "." + IPv4ReverseSuffix, nil
}

// IPv4PointerZone returns the /24 reverse zone containing addr,
// e.g. 10.0.0.5 -> 0.0.10.in-addr.arpa.
func IPv4PointerZone(addr string) (string, error) {
	octets, err := ipv4Octets(addr)
	if err != nil {
		return "", err
	}
	return reverseJoin(octets[:3]) + "." + IPv4ReverseSuffix, nil
}

// IPv6PointerName returns the fully expanded, nibble reversed ip6.arpa name of addr.
func IPv6PointerName(addr string) (string, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil || !ip.Is6() || ip.Is4In6() || ip.Zone() != "" {
		return "", fmt.Errorf("%w: %q is not an IPv6 address", ErrMalformedAddress, addr)
	}
	return reverseJoin(nibbles(ip)) + "." + IPv6ReverseSuffix, nil
}

// IPv6PointerZone returns the reverse zone for an IPv6 network in CIDR
// notation. Prefix lengths that are not a multiple of 4 are rounded down to
// the enclosing nibble boundary, so 2001:db8::/62 maps to the /60 zone.
func IPv6PointerZone(cidr string) (string, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil || !prefix.Addr().Is6() || prefix.Addr().Is4In6() {
		return "", fmt.Errorf("%w: %q is not an IPv6 network", ErrMalformedAddress, cidr)
	}
	keep := prefix.Bits() / 4
	labels := nibbles(prefix.Masked().Addr())[:keep]
	if keep == 0 {
		return IPv6ReverseSuffix, nil
	}
	return reverseJoin(labels) + "." + IPv6ReverseSuffix, nil
}

// IPv6InNetwork reports whether addr lies in the IPv6 network cidr.
func IPv6InNetwork(addr, cidr string) (bool, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return false, fmt.Errorf("%w: %q is not an IPv6 address", ErrMalformedAddress, addr)
	}
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return false, fmt.Errorf("%w: %q is not an IPv6 network", ErrMalformedAddress, cidr)
	}
	return prefix.Masked().Contains(ip), nil
}

func ipv4Octets(addr string) ([]string, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil || !ip.Is4() {
		return nil, fmt.Errorf("%w: %q is not an IPv4 address", ErrMalformedAddress, addr)
	}
	b := ip.As4()
	return []string{
		fmt.Sprint(b[0]), fmt.Sprint(b[1]), fmt.Sprint(b[2]), fmt.Sprint(b[3]),
	}, nil
}

// nibbles lists the 32 hex digits of ip, most significant first.
func nibbles(ip netip.Addr) []string {
	const hex = "0123456789abcdef"
	b := ip.As16()
	out := make([]string, 0, 32)
	for _, v := range b {
		out = append(out, string(hex[v>>4]), string(hex[v&0x0f]))
	}
	return out
}

func reverseJoin(labels []string) string {
	rev := make([]string, len(labels))
	for i, l := range labels {
		rev[len(labels)-1-i] = l
	}
	return strings.Join(rev, ".")
}
