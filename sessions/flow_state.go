package sessions

import (
	"time"

	"github.com/jrsteele09/go-smart-auth/discovery"
)

// FlowState is the per-session state of one patient connect attempt, kept between
// the redirect to the EHR and the callback. It is consumed exactly once.
type FlowState struct {
	SessionID       string           `json:"session_id"`
	State           string           `json:"state"`
	CodeVerifier    string           `json:"code_verifier"`
	FHIRBaseURL     string           `json:"fhir_base_url"`
	AuthorizeURL    string           `json:"authorize_url"`
	TokenURL        string           `json:"token_url"`
	RedirectURI     string           `json:"redirect_uri"`
	Scope           string           `json:"scope"`
	DiscoveryMethod discovery.Method `json:"discovery_method"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

// Expired reports whether the flow can no longer be completed at now.
func (f *FlowState) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && !now.Before(f.ExpiresAt)
}

func (f *FlowState) clone() *FlowState {
	c := *f
	return &c
}
