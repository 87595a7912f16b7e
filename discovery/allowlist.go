package discovery

import (
	"net/url"
	"strings"
)

// BaseURLAllowed reports whether candidate names the configured FHIR base URL or one of the allowed
// ones. Scheme and host compare case-insensitively, the path exactly, trailing slashes ignored.
func BaseURLAllowed(candidate, configured string, allowed []string) bool {
	want, ok := canonicalBaseURL(candidate)
	if !ok {
		return false
	}
	for _, entry := range append([]string{configured}, allowed...) {
		if got, ok := canonicalBaseURL(entry); ok && got == want {
			return true
		}
	}
	return false
}

func canonicalBaseURL(raw string) (string, bool) {
	base, err := NormalizeBaseURL(raw)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(base)
	if err != nil || u.User != nil {
		return "", false
	}
	return u.Scheme + "://" + strings.ToLower(u.Host) + u.EscapedPath(), true
}
