package diagnostics

import (
	"time"

	"github.com/jrsteele09/go-smart-auth/discovery"
)

// Report is the result of one diagnostics run. It is recomputed on every call.
type Report struct {
	OK        bool      `json:"ok"`
	CheckedAt time.Time `json:"checked_at"`

	// Issues are actionable problems in a stable order: configuration, discovery, keys, JWKS.
	Issues []string `json:"issues"`

	// Notes are informational and do not affect OK.
	Notes []string `json:"notes,omitempty"`

	Configuration ConfigurationReport `json:"configuration"`
	Discovery     *DiscoveryReport    `json:"discovery,omitempty"`
	Keys          *KeyReport          `json:"keys,omitempty"`
	JWKS          *JWKSReport         `json:"jwks,omitempty"`
}

type ConfigurationReport struct {
	ClientIDSet        bool   `json:"client_id_set"`
	BackendClientIDSet bool   `json:"backend_client_id_set"`
	RedirectURI        string `json:"redirect_uri,omitempty"`
	FHIRBaseURL        string `json:"fhir_base_url,omitempty"`
	OverridesSet       bool   `json:"overrides_set"`
	BackendConfigured  bool   `json:"backend_configured"`
	JWKSURL            string `json:"jwks_url,omitempty"`
}

// DiscoveryReport says which strategy a connect attempt would use right now.
type DiscoveryReport struct {
	BaseURL      string           `json:"base_url"`
	Method       discovery.Method `json:"discovery_method,omitempty"`
	AuthorizeURL string           `json:"authorize_url,omitempty"`
	TokenURL     string           `json:"token_url,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type KeyInfo struct {
	KeyID        string `json:"kid"`
	DerivedKeyID bool   `json:"kid_derived"`
	Bits         int    `json:"bits"`
}

type KeyReport struct {
	Primary      *KeyInfo `json:"primary,omitempty"`
	Rotation     *KeyInfo `json:"rotation,omitempty"`
	SigningKeyID string   `json:"signing_kid,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// JWKSReport describes what the published key set actually contains.
type JWKSReport struct {
	URL                  string   `json:"url"`
	Reachable            bool     `json:"reachable"`
	PublishedKeys        int      `json:"published_keys"`
	ExpectedKeys         int      `json:"expected_keys"`
	PublishedKeyIDs      []string `json:"published_kids,omitempty"`
	SigningKeyPublished  bool     `json:"signing_kid_published"`
	RotationKeyPublished bool     `json:"rotation_kid_published,omitempty"`
	SignatureVerified    bool     `json:"signature_verified"`
	Error                string   `json:"error,omitempty"`
}
