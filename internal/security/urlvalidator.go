package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// Hosts the generation service serves image payloads from. Raw-scanned
	// URLs must stay inside this set before we attach session cookies to a
	// download request.
	allowedHosts = []string{
		"googleusercontent.com",
		"gstatic.com",
	}

	ErrPrivateIP     = fmt.Errorf("URL resolves to private IP address")
	ErrUntrustedHost = fmt.Errorf("URL host is not trusted")
	ErrInvalidScheme = fmt.Errorf("only HTTPS URLs are allowed")

	skipValidation = false
)

// SetSkipValidation disables host checks; only tests against local
// servers use it.
func SetSkipValidation(skip bool) {
	skipValidation = skip
}

// ValidateImageURL checks that an image URL is safe to fetch with session
// cookies attached. strictMode additionally pins the host to the known
// CDN domains.
func ValidateImageURL(rawURL string, strictMode bool) error {
	if skipValidation {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "https" {
		return ErrInvalidScheme
	}

	host := parsed.Hostname()

	if strictMode && !isAllowedHost(host) {
		return ErrUntrustedHost
	}

	return validateHostIP(host)
}

func isAllowedHost(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}

	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0: // 0.0.0.0/8
			return true
		case ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127: // 100.64.0.0/10 (CGNAT)
			return true
		case ip4[0] >= 224: // multicast and reserved
			return true
		}
	}

	return false
}
