package auth

import (
	"fmt"
	"strings"
)

// ScopeCheck is the outcome of comparing requested scopes with a server's advertised list.
type ScopeCheck struct {
	Requested   []string
	Unsupported []string

	// Validated is false when the server advertised no scopes, so nothing could be checked.
	Validated bool
}

// Blocks reports whether the request should stop. It never does: servers under-advertise
// their scopes, so unsupported scopes are warnings and the server makes the final call.
func (c ScopeCheck) Blocks() bool {
	return false
}

// Warnings returns one message per unsupported scope.
func (c ScopeCheck) Warnings() []string {
	if len(c.Unsupported) == 0 {
		return nil
	}
	warnings := make([]string, 0, len(c.Unsupported))
	for _, s := range c.Unsupported {
		warnings = append(warnings, fmt.Sprintf("scope %q is not in the server's scopes_supported list; the server may reject it", s))
	}
	return warnings
}

// CheckScopes compares a space-separated scope string with the advertised scopes.
// A nil or empty supported list means the server did not advertise one.
func CheckScopes(requested string, supported []string) ScopeCheck {
	check := ScopeCheck{Requested: strings.Fields(requested)}
	if len(supported) == 0 {
		return check
	}
	check.Validated = true

	advertised := make(map[string]bool, len(supported))
	for _, s := range supported {
		advertised[s] = true
	}
	for _, s := range check.Requested {
		if !advertised[s] {
			check.Unsupported = append(check.Unsupported, s)
		}
	}
	return check
}
