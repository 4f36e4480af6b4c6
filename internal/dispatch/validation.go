package dispatch

import (
	"net"
	"net/url"
	"strings"

	"bken/server/internal/verr"
)

const maxURLLength = 500

// validateName enforces the allowed alias/display-name charset — ASCII
// alphanumeric plus underscore — and returns the canonical lowercased form
// (spec §7 ValidationError rule).
func validateName(name string) (string, error) {
	if name == "" {
		return "", verr.New(verr.ValidationError, "name must not be empty")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return "", verr.New(verr.ValidationError, "name may only contain letters, digits, and underscore")
		}
	}
	return strings.ToLower(name), nil
}

// validateDownloadURL enforces the add-request URL rules: http/https only,
// at most 500 characters, and no private-network or loopback host, so the
// download worker can never be used to probe internal infrastructure.
func validateDownloadURL(raw string) error {
	if len(raw) > maxURLLength {
		return verr.New(verr.ValidationError, "URL too long")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return verr.New(verr.ValidationError, "malformed URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return verr.New(verr.ValidationError, "URL must use http or https")
	}
	host := u.Hostname()
	if host == "" {
		return verr.New(verr.ValidationError, "URL missing host")
	}
	if strings.EqualFold(host, "localhost") {
		return verr.New(verr.ValidationError, "URL host not permitted")
	}
	if ip := net.ParseIP(host); ip != nil && isDisallowedIP(ip) {
		return verr.New(verr.ValidationError, "URL host not permitted")
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
