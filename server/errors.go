package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
)

const contentTypeJSON = "application/json; charset=utf-8"

// errorBody is the JSON error shape of every route.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Kind             string `json:"kind,omitempty"`
}

// writeJSONError writes an OAuth2 style error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, errorBody{Error: errorCode, ErrorDescription: description})
}

// writeAuthError renders err with a status derived from its kind. Errors that are not an
// *AuthError are logged and reported as an opaque server_error.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *autherrors.AuthError
	if !errors.As(err, &authErr) {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("unclassified error")
		writeJSONError(w, "server_error", "internal error", http.StatusInternalServerError)
		return
	}

	kind := strings.ReplaceAll(authErr.Kind.Error(), " ", "_")
	body := errorBody{
		Error:            kind,
		ErrorDescription: authErr.Message,
		Kind:             kind,
	}
	if authErr.Code != "" {
		body.Error = authErr.Code
	}
	if authErr.Description != "" && !strings.Contains(body.ErrorDescription, authErr.Description) {
		body.ErrorDescription += " (" + authErr.Description + ")"
	}

	status := statusForKind(authErr.Kind)
	event := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Str("kind", kind).Msg("request failed")

	writeJSON(w, status, body)
}

func statusForKind(kind error) int {
	switch kind {
	case autherrors.ErrStateMismatch:
		return http.StatusBadRequest
	case autherrors.ErrAuthorizationDenied:
		return http.StatusForbidden
	case autherrors.ErrDiscoveryFailure, autherrors.ErrAssertionRejected:
		return http.StatusBadGateway
	case autherrors.ErrTransport:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
