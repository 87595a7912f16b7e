package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireAdminToken protects the operational API routes. When SMART_ADMIN_TOKEN is set the request
// must carry it as a bearer token; when it is not set the routes are only open in DEV.
func (s *Server) RequireAdminToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := s.config.GetAdminToken()
		if expected == "" {
			if s.env == "DEV" {
				next(w, r)
				return
			}
			writeJSONError(w, "access_denied", "SMART_ADMIN_TOKEN is not configured; this route is disabled outside DEV", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="smart-auth"`)
			writeJSONError(w, "invalid_token", "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeJSONError(w, "invalid_token", "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(expected)) != 1 {
			writeJSONError(w, "invalid_token", "Invalid admin token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
