package token

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jrsteele09/go-smart-auth/discovery"
	"github.com/jrsteele09/go-smart-auth/internal/config"
	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/jrsteele09/go-smart-auth/oauthmodel"
	"github.com/jrsteele09/go-smart-auth/token/jwt"
	"github.com/jrsteele09/go-smart-auth/token/keys"
)

// BackendConfig is the configuration the backend flow reads.
type BackendConfig interface {
	config.SMARTConfig
	config.KeyConfig
}

// EndpointResolver resolves the authorization server for a FHIR base URL.
type EndpointResolver interface {
	Resolve(ctx context.Context, baseURL string, overrides discovery.Overrides) (*discovery.Endpoints, error)
}

// BackendClient runs the SMART backend services flow: load keys, resolve the token endpoint,
// sign an assertion and exchange it.
type BackendClient struct {
	cfg       BackendConfig
	resolver  EndpointResolver
	exchanger *Exchanger
	creator   *jwt.Creator
}

func NewBackendClient(cfg BackendConfig, resolver EndpointResolver, exchanger *Exchanger) *BackendClient {
	return &BackendClient{
		cfg:       cfg,
		resolver:  resolver,
		exchanger: exchanger,
		creator:   jwt.NewCreator(cfg.GetAssertionLifetime()),
	}
}

// BackendTokenRequest optionally overrides the configured FHIR base URL and scope.
type BackendTokenRequest struct {
	FHIRBaseURL string
	Scope       string
}

// RequestToken obtains a system-level access token. Key material is loaded from configuration on every
// call so a rotated key takes effect without a restart.
func (b *BackendClient) RequestToken(ctx context.Context, req BackendTokenRequest) (*oauthmodel.TokenResult, error) {
	const op = "BackendClient.RequestToken"

	clientID := b.cfg.GetBackendClientID()
	if clientID == "" {
		return nil, autherrors.New(autherrors.ErrConfiguration, op, "SMART_BACKEND_CLIENT_ID or SMART_CLIENT_ID must be set")
	}
	scope := req.Scope
	if scope == "" {
		scope = b.cfg.GetBackendScopes()
	}

	signer, err := b.Signer()
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	if req.FHIRBaseURL != "" && !discovery.BaseURLAllowed(req.FHIRBaseURL, b.cfg.GetFHIRBaseURL(), b.cfg.GetAllowedFHIRBaseURLs()) {
		return nil, autherrors.Newf(autherrors.ErrConfiguration, op,
			"FHIR base URL %q is neither SMART_FHIR_BASE_URL nor listed in SMART_ALLOWED_FHIR_BASE_URLS", req.FHIRBaseURL)
	}

	tokenURL, err := b.tokenURL(ctx, req.FHIRBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	assertion, err := b.creator.CreateClientAssertion(signer, clientID, tokenURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return b.exchanger.Exchange(ctx, tokenURL, assertion, scope)
}

// tokenURL returns SMART_TOKEN_URL as is when it is set and the request does not name its own FHIR base
// URL. The backend grant never needs the authorize endpoint, so a lone token URL is enough and no FHIR
// base URL is required. Otherwise the token endpoint is discovered.
func (b *BackendClient) tokenURL(ctx context.Context, requestedBaseURL string) (string, error) {
	const op = "BackendClient.tokenURL"

	if configured := b.cfg.GetTokenURL(); configured != "" && requestedBaseURL == "" {
		u, err := url.Parse(configured)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return "", autherrors.Newf(autherrors.ErrConfiguration, op, "SMART_TOKEN_URL %q must be an absolute http(s) URL", configured)
		}
		return configured, nil
	}

	baseURL := requestedBaseURL
	if baseURL == "" {
		baseURL = b.cfg.GetFHIRBaseURL()
	}
	endpoints, err := b.resolver.Resolve(ctx, baseURL, discovery.Overrides{
		AuthorizeURL: b.cfg.GetAuthorizeURL(),
		TokenURL:     b.cfg.GetTokenURL(),
	})
	if err != nil {
		return "", err
	}
	return endpoints.TokenURL, nil
}

// Signer loads the key ring and returns a signer for the selected key.
func (b *BackendClient) Signer() (*keys.KeyPairSigner, error) {
	ring, err := keys.LoadKeyRing(b.cfg)
	if err != nil {
		return nil, err
	}
	kp, err := ring.Select(b.cfg.GetSigningKeyID())
	if err != nil {
		return nil, err
	}
	return keys.NewKeyPairSigner(kp, b.cfg.GetJWKSURL()), nil
}
