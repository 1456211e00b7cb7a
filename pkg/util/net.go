// Package util provides utility functions for network operations.
//
// This package contains helper functions for:
// - Derived port address composition
// - Binding annotation handling
package util

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// hostBits is the number of low-order bits a derived address takes from
// the delegated address. The remaining high-order bits come from the uplink.
const hostBits = 64

// ComposeAddress derives a port address from a delegated address and an
// uplink base address: the low 64 bits come from delegated, the high 64 bits
// from base. Both inputs are treated as 128-bit addresses.
//
// Example:
//
//	ComposeAddress(2003::10, 2001:db8:1::) = 2001:db8:1::10
func ComposeAddress(delegated, base netip.Addr) netip.Addr {
	hi, _ := SplitAddress(base)
	_, lo := SplitAddress(delegated)
	return JoinAddress(hi, lo)
}

// SplitAddress returns the high and low 64-bit halves of an address.
func SplitAddress(addr netip.Addr) (hi, lo uint64) {
	a := addr.As16()
	return binary.BigEndian.Uint64(a[:16-hostBits/8]), binary.BigEndian.Uint64(a[16-hostBits/8:])
}

// JoinAddress builds an IPv6 address from its 64-bit halves.
func JoinAddress(hi, lo uint64) netip.Addr {
	var out [16]byte
	binary.BigEndian.PutUint64(out[:16-hostBits/8], hi)
	binary.BigEndian.PutUint64(out[16-hostBits/8:], lo)
	return netip.AddrFrom16(out)
}

// ParseIPv6 parses an IPv6 address, rejecting IPv4 and IPv4-mapped forms.
//
// Parameters:
//   - s: Address string (e.g., "2003::10")
//
// Returns:
//   - netip.Addr: Parsed address without zone
//   - error: Parse error
func ParseIPv6(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %s: %v", s, err)
	}
	if !addr.Is6() || addr.Is4In6() {
		return netip.Addr{}, fmt.Errorf("address %s is not IPv6", s)
	}
	return addr.WithZone(""), nil
}
