package discovery

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// maxTargets bounds range expansion for the native scanner.
const maxTargets = 1 << 16

// ExpandTargets turns a target range into addresses. Supported forms are a
// single IPv4 address, a last-octet range ("192.168.1.1-254") and a CIDR
// prefix ("10.0.0.0/24"; network and broadcast addresses are skipped for
// prefixes shorter than /31).
func ExpandTargets(target string) ([]netip.Addr, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("empty target range")
	}

	if strings.Contains(target, "/") {
		return expandPrefix(target)
	}
	if dash := strings.LastIndex(target, "-"); dash >= 0 {
		return expandOctetRange(target[:dash], target[dash+1:])
	}

	addr, err := netip.ParseAddr(target)
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("invalid target %q", target)
	}
	return []netip.Addr{addr}, nil
}

func expandOctetRange(startStr, endStr string) ([]netip.Addr, error) {
	start, err := netip.ParseAddr(startStr)
	if err != nil || !start.Is4() {
		return nil, fmt.Errorf("invalid range start %q", startStr)
	}
	end, err := strconv.Atoi(endStr)
	if err != nil || end < 0 || end > 255 {
		return nil, fmt.Errorf("invalid range end %q", endStr)
	}

	b := start.As4()
	if int(b[3]) > end {
		return nil, fmt.Errorf("range start %s is after end %d", startStr, end)
	}

	out := make([]netip.Addr, 0, end-int(b[3])+1)
	for last := int(b[3]); last <= end; last++ {
		b[3] = byte(last)
		out = append(out, netip.AddrFrom4(b))
	}
	return out, nil
}

func expandPrefix(target string) ([]netip.Addr, error) {
	prefix, err := netip.ParsePrefix(target)
	if err != nil || !prefix.Addr().Is4() {
		return nil, fmt.Errorf("invalid CIDR %q", target)
	}
	prefix = prefix.Masked()

	hostBits := 32 - prefix.Bits()
	if hostBits > 16 {
		return nil, fmt.Errorf("CIDR %q exceeds %d addresses", target, maxTargets)
	}

	var out []netip.Addr
	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		out = append(out, addr)
	}
	if hostBits >= 2 && len(out) > 2 {
		out = out[1 : len(out)-1]
	}
	return out, nil
}
