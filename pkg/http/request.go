package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for client IP extraction
type IPConfig struct {
	// NumProxies is the number of reverse proxies in front of the service.
	// Zero ignores X-Forwarded-For entirely.
	NumProxies int
	// TrustedProxies optionally restricts X-Forwarded-For handling to
	// requests whose RemoteAddr is inside one of these CIDR ranges
	TrustedProxies []string
}

// ExtractClientIP returns the address used to identify the client.
//
// With NumProxies > 0 and an X-Forwarded-For header present, the
// NumProxies-th address from the end of the header is used (or the first
// one when the header is shorter). Otherwise RemoteAddr without its port.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config == nil || config.NumProxies <= 0 {
		return remoteIP
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	if len(config.TrustedProxies) > 0 && !isTrustedProxy(remoteIP, config.TrustedProxies) {
		return remoteIP
	}

	addrs := strings.Split(xff, ",")
	n := config.NumProxies
	if n > len(addrs) {
		n = len(addrs)
	}

	return strings.TrimSpace(addrs[len(addrs)-n])
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // Skip invalid CIDR ranges
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}
