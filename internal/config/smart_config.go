package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	clientIDVar          = "SMART_CLIENT_ID"
	backendClientIDVar   = "SMART_BACKEND_CLIENT_ID"
	redirectURIVar       = "SMART_REDIRECT_URI"
	fhirBaseURLVar       = "SMART_FHIR_BASE_URL"
	allowedBaseURLsVar   = "SMART_ALLOWED_FHIR_BASE_URLS"
	authorizeURLVar      = "SMART_AUTHORIZE_URL"
	tokenURLVar          = "SMART_TOKEN_URL"
	scopesVar            = "SMART_SCOPES"
	backendScopesVar     = "SMART_BACKEND_SCOPES"
	discoveryTimeoutVar  = "SMART_DISCOVERY_TIMEOUT"
	httpTimeoutVar       = "SMART_HTTP_TIMEOUT"
	assertionLifetimeVar = "SMART_ASSERTION_LIFETIME"
)

const (
	DefaultPatientScopes     = "launch/patient openid fhirUser patient/*.read"
	DefaultBackendScopes     = "system/*.read"
	DefaultDiscoveryTimeout  = 5 * time.Second
	DefaultHTTPTimeout       = 10 * time.Second
	DefaultAssertionLifetime = 4 * time.Minute
	MaxAssertionLifetime     = 5 * time.Minute
)

type SMARTConfig interface {
	GetClientID() string
	GetBackendClientID() string
	GetRedirectURI() string
	GetFHIRBaseURL() string
	GetAllowedFHIRBaseURLs() []string
	GetAuthorizeURL() string
	GetTokenURL() string
	GetScopes() string
	GetBackendScopes() string
	GetDiscoveryTimeout() time.Duration
	GetHTTPTimeout() time.Duration
	GetAssertionLifetime() time.Duration
}

type SMART struct{ v *viper.Viper }

var _ SMARTConfig = SMART{}

func (s SMART) GetClientID() string {
	return s.v.GetString(clientIDVar)
}

// GetBackendClientID falls back to the patient-facing client ID when no dedicated
// backend client is registered.
func (s SMART) GetBackendClientID() string {
	if id := s.v.GetString(backendClientIDVar); id != "" {
		return id
	}
	return s.GetClientID()
}

func (s SMART) GetRedirectURI() string {
	return s.v.GetString(redirectURIVar)
}

func (s SMART) GetFHIRBaseURL() string {
	return s.v.GetString(fhirBaseURLVar)
}

// GetAllowedFHIRBaseURLs lists the extra FHIR base URLs a request may name. Entries are separated
// by commas or whitespace.
func (s SMART) GetAllowedFHIRBaseURLs() []string {
	var urls []string
	for _, entry := range s.v.GetStringSlice(allowedBaseURLsVar) {
		urls = append(urls, strings.FieldsFunc(entry, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})...)
	}
	return urls
}

func (s SMART) GetAuthorizeURL() string {
	return s.v.GetString(authorizeURLVar)
}

func (s SMART) GetTokenURL() string {
	return s.v.GetString(tokenURLVar)
}

func (s SMART) GetScopes() string {
	return s.v.GetString(scopesVar)
}

func (s SMART) GetBackendScopes() string {
	return s.v.GetString(backendScopesVar)
}

func (s SMART) GetDiscoveryTimeout() time.Duration {
	if d := s.v.GetDuration(discoveryTimeoutVar); d > 0 {
		return d
	}
	return DefaultDiscoveryTimeout
}

func (s SMART) GetHTTPTimeout() time.Duration {
	if d := s.v.GetDuration(httpTimeoutVar); d > 0 {
		return d
	}
	return DefaultHTTPTimeout
}

// GetAssertionLifetime is capped at MaxAssertionLifetime; servers reject longer-lived assertions.
func (s SMART) GetAssertionLifetime() time.Duration {
	d := s.v.GetDuration(assertionLifetimeVar)
	if d <= 0 {
		return DefaultAssertionLifetime
	}
	if d > MaxAssertionLifetime {
		return MaxAssertionLifetime
	}
	return d
}
