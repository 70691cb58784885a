package webhook

import (
	"net/url"
	"strings"
)

// HostMatches reports whether host is allowed by the whitelist pattern.
// Three pattern forms exist: "*" allows everything, "*.suffix" allows
// the bare suffix and any subdomain of it, anything else is an exact
// case-insensitive comparison.
func HostMatches(pattern, host string) bool {
	if pattern == "*" {
		return true
	}

	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)

	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}

	return host == pattern
}

// URLAllowed reports whether the URL's host passes at least one
// whitelist pattern. Unparseable URLs are rejected.
func URLAllowed(rawURL string, whitelist []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}

	host := u.Hostname()
	for _, pattern := range whitelist {
		if HostMatches(pattern, host) {
			return true
		}
	}
	return false
}
