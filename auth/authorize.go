package auth

import (
	"fmt"
	"net/url"
	"strings"

	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/jrsteele09/go-smart-auth/oauthmodel"
	"golang.org/x/oauth2"
)

// AuthorizationURL is a composed authorization redirect.
type AuthorizationURL struct {
	URL string

	// RedirectURI is the value actually sent, after any scheme correction.
	RedirectURI string

	Warnings []string
}

// NormalizeRedirectURI makes sure the redirect URI carries an explicit scheme. A missing scheme gets
// https:// prepended and a warning; a non-http(s) scheme is a configuration error.
func NormalizeRedirectURI(raw string) (string, string, error) {
	const op = "auth.NormalizeRedirectURI"

	uri := strings.TrimSpace(raw)
	if uri == "" {
		return "", "", autherrors.New(autherrors.ErrConfiguration, op, "redirect URI is required")
	}

	lower := strings.ToLower(uri)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		if err := requireHost(op, raw, uri); err != nil {
			return "", "", err
		}
		return uri, "", nil
	}
	if strings.Contains(uri, "://") {
		return "", "", autherrors.Newf(autherrors.ErrConfiguration, op, "redirect URI %q must use http or https", raw)
	}

	fixed := "https://" + strings.TrimPrefix(uri, "//")
	if err := requireHost(op, raw, fixed); err != nil {
		return "", "", err
	}
	return fixed, fmt.Sprintf("redirect URI %q has no scheme; using %q", raw, fixed), nil
}

// requireHost rejects URIs without a host, such as a relative "/callback" that became "https:///callback".
func requireHost(op, raw, uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return autherrors.Wrap(autherrors.ErrConfiguration, op, err, fmt.Sprintf("redirect URI %q is malformed", raw))
	}
	if u.Host == "" {
		return autherrors.Newf(autherrors.ErrConfiguration, op, "redirect URI %q has no host; use the absolute URL registered with the EHR", raw)
	}
	return nil
}

// BuildAuthorizationURL composes {authorizeURL}?response_type=code&client_id=...&redirect_uri=...
// &scope=...&state=...&aud=...&code_challenge=...&code_challenge_method=S256. No network call is made.
func BuildAuthorizationURL(authorizeURL string, req oauthmodel.AuthorizationRequest) (*AuthorizationURL, error) {
	const op = "auth.BuildAuthorizationURL"

	switch {
	case req.ClientID == "":
		return nil, autherrors.New(autherrors.ErrConfiguration, op, "client ID is required")
	case strings.TrimRight(req.Audience, "/") == "":
		return nil, autherrors.New(autherrors.ErrConfiguration, op, "FHIR base URL (aud) is required")
	case authorizeURL == "":
		return nil, autherrors.New(autherrors.ErrDiscoveryFailure, op, "authorize URL is empty")
	case req.State == "" || req.CodeChallenge == "":
		return nil, autherrors.New(autherrors.ErrConfiguration, op, "state and code challenge are required")
	}

	redirectURI, warning, err := NormalizeRedirectURI(req.RedirectURI)
	if err != nil {
		return nil, err
	}

	method := req.CodeChallengeMethod
	if method == "" {
		method = oauthmodel.CodeMethodTypeS256
	}

	cfg := oauth2.Config{
		ClientID:    req.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: authorizeURL},
		RedirectURL: redirectURI,
		Scopes:      strings.Fields(req.Scope),
	}
	result := &AuthorizationURL{
		URL: cfg.AuthCodeURL(req.State,
			oauth2.SetAuthURLParam("aud", strings.TrimRight(req.Audience, "/")),
			oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", string(method)),
		),
		RedirectURI: redirectURI,
	}
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	return result, nil
}
