package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := strings.ToLower(parsed.Scheme)
	return (s == "http" || s == "https") && parsed.Host != ""
}

// IsProbeable reports whether a channel URL can be sampled over HTTP.
// Listings sometimes embed raw multicast addresses (udp://@239.x.x.x:port) that only
// work inside the hotel LAN; those are rejected along with every non-HTTP scheme.
func IsProbeable(u string) bool {
	if strings.Contains(u, "udp://@") || strings.Contains(u, "rtp://@") {
		return false
	}
	return IsHTTPOrHTTPS(u)
}
