package handshake

import (
	"net/url"
	"strings"
)

// DefaultReturnURL replaces return URLs that are missing or not allowed.
const DefaultReturnURL = "/"

// SanitizeReturnURL returns raw when it is safe to redirect to after sign-in,
// and DefaultReturnURL otherwise.
//
// Safe means a path on this host ("/dashboard", not "//evil.com" or
// "/\evil.com"), or an absolute http(s) URL whose host is in allowedHosts.
func SanitizeReturnURL(raw string, allowedHosts []string) string {
	if raw == "" || strings.ContainsAny(raw, "\\\r\n\t") {
		return DefaultReturnURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return DefaultReturnURL
	}

	if u.Scheme == "" && u.Host == "" {
		if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
			return raw
		}
		return DefaultReturnURL
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return DefaultReturnURL
	}
	if u.User != nil {
		return DefaultReturnURL
	}
	for _, h := range allowedHosts {
		if strings.EqualFold(u.Host, h) || strings.EqualFold(u.Hostname(), h) {
			return raw
		}
	}
	return DefaultReturnURL
}
