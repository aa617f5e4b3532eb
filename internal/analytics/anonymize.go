package analytics

import (
	"net"
	"strings"
	"unicode"
)

// maxUserAgentLen bounds stored user-agent strings.
const maxUserAgentLen = 256

// AnonymizeIP zeroes the host portion of an address before it is stored:
// the last octet for IPv4, the low 80 bits for IPv6. Unparseable input
// returns empty rather than passing through, so a raw address can never
// leak into the analytics store.
func AnonymizeIP(addr string) string {
	// Strip a port when present; bare addresses are fine too.
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return ""
	}

	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String()
	}

	masked := ip.Mask(net.CIDRMask(48, 128))
	return masked.String()
}

// SanitizeUserAgent strips control characters and caps the length so an
// arbitrary header cannot smuggle binary or oversized data into storage.
func SanitizeUserAgent(ua string) string {
	ua = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(ua))
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return ua
}
