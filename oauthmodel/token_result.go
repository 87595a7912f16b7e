package oauthmodel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMissingAccessToken is returned by ParseTokenResult for a body without an access_token.
var ErrMissingAccessToken = errors.New("token response has no access_token")

// TokenResult is a token endpoint success response. It is handed to the caller as received
// and is never cached or persisted by this module.
type TokenResult struct {
	// AccessToken is the bearer credential for FHIR API calls.
	AccessToken string `json:"access_token"`

	// TokenType is normally "bearer" (servers vary in case).
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn Seconds `json:"expires_in,omitempty"`

	// Scope is the granted scope set, which may differ from the requested one.
	Scope string `json:"scope,omitempty"`

	// Patient is the patient context identifier, present for patient-launch tokens.
	Patient string `json:"patient,omitempty"`

	// Raw is the full response body, including fields not modelled above
	// (id_token, refresh_token, encounter, fhirUser, ...).
	Raw json.RawMessage `json:"-"`
}

// Seconds is a lifetime in seconds. Some servers send expires_in as a string, so both
// JSON numbers and numeric strings decode.
type Seconds int

func (s *Seconds) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	i, err := strconv.ParseInt(string(n), 10, 32)
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("expires_in %q is not a number", string(n))
		}
		i = int64(f)
	}
	*s = Seconds(i)
	return nil
}

// ParseTokenResult decodes a token endpoint response, keeping the raw body.
func ParseTokenResult(body []byte) (*TokenResult, error) {
	var tr TokenResult
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	tr.Raw = append(json.RawMessage(nil), body...)
	return &tr, nil
}

// MarshalJSON returns the raw response when available so nothing the server sent is dropped.
func (t TokenResult) MarshalJSON() ([]byte, error) {
	if len(t.Raw) > 0 {
		return t.Raw, nil
	}
	type plain TokenResult
	return json.Marshal(plain(t))
}
