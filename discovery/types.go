package discovery

import "strings"

// Endpoints is the resolved authorization server for one FHIR base URL.
type Endpoints struct {
	// BaseURL is the normalized FHIR base URL, suitable for the aud parameter.
	BaseURL      string `json:"base_url"`
	AuthorizeURL string `json:"authorize_url"`
	TokenURL     string `json:"token_url"`
	Method       Method `json:"discovery_method"`

	// ScopesSupported is nil when the server did not advertise a list.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// Only populated by standards discovery.
	Capabilities                      []string `json:"capabilities,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// SupportsCapability reports whether the server advertised capability, e.g. "launch-standalone".
func (e *Endpoints) SupportsCapability(capability string) bool {
	for _, c := range e.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// SupportsS256 reports whether S256 PKCE is advertised. Servers that advertise nothing are assumed to support it.
func (e *Endpoints) SupportsS256() bool {
	if len(e.CodeChallengeMethodsSupported) == 0 {
		return true
	}
	for _, m := range e.CodeChallengeMethodsSupported {
		if strings.EqualFold(m, "S256") {
			return true
		}
	}
	return false
}

// SMARTConfiguration is the subset of the .well-known/smart-configuration document read during discovery.
type SMARTConfiguration struct {
	Issuer                            string   `json:"issuer,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	Capabilities                      []string `json:"capabilities,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// CapabilityStatement is the subset of a FHIR CapabilityStatement needed to find the OAuth endpoints.
type CapabilityStatement struct {
	ResourceType string                    `json:"resourceType"`
	Rest         []CapabilityStatementRest `json:"rest,omitempty"`
}

type CapabilityStatementRest struct {
	Mode     string              `json:"mode,omitempty"`
	Security *CapabilitySecurity `json:"security,omitempty"`
}

type CapabilitySecurity struct {
	Extension []Extension `json:"extension,omitempty"`
}

// Extension is a FHIR extension; oauth-uris nests its endpoints as sub-extensions.
type Extension struct {
	URL       string      `json:"url"`
	ValueURI  string      `json:"valueUri,omitempty"`
	Extension []Extension `json:"extension,omitempty"`
}

// OAuthURIsExtensionSuffix identifies the SMART security extension regardless of registry host.
const OAuthURIsExtensionSuffix = "oauth-uris"

// OAuthURIs returns the authorize and token URIs from the first oauth-uris extension that carries both.
func (cs *CapabilityStatement) OAuthURIs() (authorize, token string, ok bool) {
	for _, rest := range cs.Rest {
		if rest.Security == nil {
			continue
		}
		for _, ext := range rest.Security.Extension {
			if !strings.HasSuffix(ext.URL, OAuthURIsExtensionSuffix) {
				continue
			}
			var a, t string
			for _, sub := range ext.Extension {
				switch sub.URL {
				case "authorize":
					a = sub.ValueURI
				case "token":
					t = sub.ValueURI
				}
			}
			if a != "" && t != "" {
				return a, t, true
			}
		}
	}
	return "", "", false
}
