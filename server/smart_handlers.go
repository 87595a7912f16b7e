package server

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/jrsteele09/go-smart-auth/auth"
	"github.com/jrsteele09/go-smart-auth/discovery"
	"github.com/jrsteele09/go-smart-auth/oauthmodel"
	"github.com/jrsteele09/go-smart-auth/token"
	"github.com/jrsteele09/go-smart-auth/token/keys"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Query parameters accepted by the connect routes.
const (
	paramFHIRBaseURL = "fhir_base_url"
	paramScope       = "scope"
)

func connectRequest(r *http.Request) auth.ConnectRequest {
	q := r.URL.Query()
	return auth.ConnectRequest{
		FHIRBaseURL: q.Get(paramFHIRBaseURL),
		Scope:       q.Get(paramScope),
	}
}

// ConnectHandler starts a patient connect attempt and redirects the browser to the EHR.
func (s *Server) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.services.Auth.Begin(r.Context(), connectRequest(r))
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}
		s.SetAuthSessionCookie(w, r, result.SessionID, result.ExpiresAt)
		http.Redirect(w, r, result.AuthorizationURL, http.StatusFound)
	}
}

// ConnectAPIHandler starts a connect attempt and returns the authorization URL as JSON, for callers
// that navigate the browser themselves.
func (s *Server) ConnectAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.services.Auth.Begin(r.Context(), connectRequest(r))
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}
		s.SetAuthSessionCookie(w, r, result.SessionID, result.ExpiresAt)
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, result)
	}
}

// CallbackResult is returned once the EHR redirected back and the code was exchanged.
type CallbackResult struct {
	FHIRBaseURL     string                  `json:"fhir_base_url"`
	DiscoveryMethod discovery.Method        `json:"discovery_method"`
	Token           *oauthmodel.TokenResult `json:"token"`
}

// CallbackHandler verifies the state against the stored flow, then exchanges the code with the
// stored PKCE verifier. The flow is consumed whatever the outcome.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.ClearAuthSessionCookie(w, r)

		flow, err := s.services.Auth.Complete(r.Context(), auth.CallbackRequest{
			SessionID:        authSessionID(r),
			State:            q.Get("state"),
			Code:             q.Get("code"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		})
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}

		tok, err := s.services.Auth.ExchangeCode(r.Context(), flow, q.Get("code"))
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}

		s.logger.Info().
			Str("fhir_base_url", flow.FHIRBaseURL).
			Str("discovery_method", flow.DiscoveryMethod.String()).
			Bool("patient_context", tok.Patient != "").
			Msg("patient connect completed")

		writeJSON(w, http.StatusOK, CallbackResult{
			FHIRBaseURL:     flow.FHIRBaseURL,
			DiscoveryMethod: flow.DiscoveryMethod,
			Token:           tok,
		})
	}
}

type backendTokenBody struct {
	FHIRBaseURL string `json:"fhir_base_url"`
	Scope       string `json:"scope"`
}

// BackendTokenHandler obtains a system-level access token with a signed client assertion. The body
// may be JSON or a form; both fields are optional and default to configuration.
func (s *Server) BackendTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body backendTokenBody
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "application/json":
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
				writeJSONError(w, "invalid_request", "request body is not valid JSON", http.StatusBadRequest)
				return
			}
		default:
			if err := r.ParseForm(); err != nil {
				writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
				return
			}
			body.FHIRBaseURL = r.PostForm.Get(paramFHIRBaseURL)
			body.Scope = r.PostForm.Get(paramScope)
		}

		tok, err := s.services.Backend.RequestToken(r.Context(), token.BackendTokenRequest{
			FHIRBaseURL: body.FHIRBaseURL,
			Scope:       body.Scope,
		})
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, tok)
	}
}

// DiagnosticsHandler runs the configuration diagnostics. The report is advisory, so the status is
// 200 even when issues were found.
func (s *Server) DiagnosticsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := s.services.Diagnostics.Check(r.Context())
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, report)
	}
}

// JWKSHandler publishes the public half of every key in the ring. Keys are read from configuration
// on each request so a staged rotation key appears without a restart.
func (s *Server) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set := jwk.NewSet()
		if s.config.HasBackendCredentials() {
			ring, err := keys.LoadKeyRing(s.config)
			if err != nil {
				s.writeAuthError(w, r, err)
				return
			}
			if set, err = ring.JWKS(); err != nil {
				s.writeAuthError(w, r, err)
				return
			}
		}

		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, http.StatusOK, set)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services.Ready != nil {
			if err := s.services.Ready(r); err != nil {
				s.logger.Warn().Err(err).Msg("health check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
