package engine

import (
	"net/netip"
	"net/url"
	"strings"
)

// IsValidHostingURL reports whether a URL may be advertised to other nodes. Only https is
// accepted, and the host must not be localhost or a loopback, private, link-local or
// unspecified address.
func IsValidHostingURL(hostingURL string) bool {
	if hostingURL == "" {
		return false
	}
	parsedURL, err := url.Parse(hostingURL)
	if err != nil || parsedURL.Scheme != "https" || parsedURL.Host == "" {
		return false
	}
	hostname := parsedURL.Hostname()
	if hostname == "" {
		return false
	}
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return false
	}
	if addr, err := netip.ParseAddr(hostname); err == nil {
		return isRoutable(addr)
	}
	return true
}

func isRoutable(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsUnspecified() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast()
}
