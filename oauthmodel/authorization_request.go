package oauthmodel

// AuthorizationRequest holds the parameters sent to a SMART authorization endpoint.
type AuthorizationRequest struct {
	// ClientID identifies this application to the EHR's authorization server.
	ClientID string

	// RedirectURI is where the EHR returns the browser with code and state.
	// It must carry an explicit http(s) scheme.
	RedirectURI string

	// Scope is a space-separated scope set, e.g. "launch/patient openid fhirUser patient/*.read".
	Scope string

	// State is the CSRF state for this connect attempt.
	State string

	// Audience is the normalized FHIR base URL. SMART servers compare it literally, so it
	// never carries a trailing slash.
	Audience string

	// CodeChallenge is BASE64URL(SHA256(code_verifier)).
	CodeChallenge string

	// CodeChallengeMethod is always S256.
	CodeChallengeMethod CodeMethodType
}
