package server

import (
	"net/http"
	"time"
)

// authSessionCookieName is the cookie that ties a callback to the connect attempt that started it.
const authSessionCookieName = "auth_session_id"

func (s *Server) SetAuthSessionCookie(w http.ResponseWriter, r *http.Request, authSessionID string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authSessionCookieName,
		Value:    authSessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		// Lax so the cookie survives the top-level redirect back from the EHR
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (s *Server) ClearAuthSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authSessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func authSessionID(r *http.Request) string {
	cookie, err := r.Cookie(authSessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
