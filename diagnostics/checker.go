// Package diagnostics checks the SMART configuration end to end without changing anything.
package diagnostics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-smart-auth/auth"
	"github.com/jrsteele09/go-smart-auth/discovery"
	"github.com/jrsteele09/go-smart-auth/internal/config"
	"github.com/jrsteele09/go-smart-auth/internal/httpclient"
	"github.com/jrsteele09/go-smart-auth/token/jwt"
	"github.com/jrsteele09/go-smart-auth/token/keys"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// selfCheckAudience is the aud of the assertion signed to test the published key set. It is never sent
// to a token endpoint.
const selfCheckAudience = "urn:smart-auth:diagnostics"

// EndpointResolver resolves the authorization server for a FHIR base URL.
type EndpointResolver interface {
	Resolve(ctx context.Context, baseURL string, overrides discovery.Overrides) (*discovery.Endpoints, error)
}

// Checker runs the diagnostics. It only reads configuration and makes GET requests.
type Checker struct {
	cfg      config.Config
	resolver EndpointResolver
	client   *http.Client
	logger   zerolog.Logger
	nowFunc  func() time.Time
}

type Option func(*Checker)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(c *Checker) {
		c.nowFunc = now
	}
}

func NewChecker(cfg config.Config, resolver EndpointResolver, client *http.Client, opts ...Option) *Checker {
	c := &Checker{
		cfg:      cfg,
		resolver: resolver,
		client:   client,
		logger:   log.Logger,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check runs every check and returns the report. It never returns an error: every failure,
// including a panic inside a check, becomes an issue.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{CheckedAt: c.nowFunc().UTC()}

	configIssues := c.checkConfiguration(report)

	var discoveryIssues, keyIssues, jwksIssues, notes []string
	g, gctx := errgroup.WithContext(ctx)
	if report.Configuration.FHIRBaseURL != "" {
		g.Go(func() error {
			defer recoverInto(&discoveryIssues, "discovery")
			report.Discovery, discoveryIssues = c.checkDiscovery(gctx)
			return nil
		})
	}
	if report.Configuration.BackendConfigured {
		g.Go(func() error {
			defer recoverInto(&keyIssues, "key material")
			var ring *keys.KeyRing
			report.Keys, ring, keyIssues, notes = c.checkKeys()
			if ring != nil {
				report.JWKS, jwksIssues = c.checkJWKS(gctx, ring, report.Keys.SigningKeyID)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, group := range [][]string{configIssues, discoveryIssues, keyIssues, jwksIssues} {
		report.Issues = append(report.Issues, group...)
	}
	if report.Issues == nil {
		report.Issues = []string{}
	}
	report.Notes = notes
	report.OK = len(report.Issues) == 0

	c.logger.Info().Bool("ok", report.OK).Int("issues", len(report.Issues)).Msg("diagnostics completed")
	return report
}

func recoverInto(issues *[]string, check string) {
	if r := recover(); r != nil {
		*issues = append(*issues, fmt.Sprintf("%s check failed unexpectedly: %v", check, r))
	}
}

func (c *Checker) checkConfiguration(report *Report) []string {
	var issues []string
	cfg := c.cfg

	report.Configuration = ConfigurationReport{
		ClientIDSet:        cfg.GetClientID() != "",
		BackendClientIDSet: cfg.GetBackendClientID() != "",
		RedirectURI:        cfg.GetRedirectURI(),
		OverridesSet:       cfg.GetAuthorizeURL() != "" && cfg.GetTokenURL() != "",
		BackendConfigured:  cfg.HasBackendCredentials(),
	}

	if !report.Configuration.ClientIDSet {
		issues = append(issues, "SMART_CLIENT_ID is not set; patient connect cannot start")
	}
	if cfg.GetRedirectURI() == "" {
		issues = append(issues, "SMART_REDIRECT_URI is not set; the EHR has nowhere to send the patient back")
	} else if _, warning, err := auth.NormalizeRedirectURI(cfg.GetRedirectURI()); err != nil {
		issues = append(issues, err.Error())
	} else if warning != "" {
		issues = append(issues, warning+"; set the full https:// URL registered with the EHR")
	}

	if base := cfg.GetFHIRBaseURL(); base == "" {
		issues = append(issues, "SMART_FHIR_BASE_URL is not set; a FHIR base URL must be supplied on every request")
	} else if normalized, err := discovery.NormalizeBaseURL(base); err != nil {
		issues = append(issues, err.Error())
	} else {
		report.Configuration.FHIRBaseURL = normalized
		if normalized != strings.TrimSpace(base) {
			issues = append(issues, fmt.Sprintf("SMART_FHIR_BASE_URL has a trailing slash; aud will be sent as %q", normalized))
		}
	}

	for _, entry := range cfg.GetAllowedFHIRBaseURLs() {
		if _, err := discovery.NormalizeBaseURL(entry); err != nil {
			issues = append(issues, fmt.Sprintf("SMART_ALLOWED_FHIR_BASE_URLS entry %q is not an absolute http(s) URL and never matches", entry))
		}
	}

	if (cfg.GetAuthorizeURL() == "") != (cfg.GetTokenURL() == "") {
		issues = append(issues, "only one of SMART_AUTHORIZE_URL and SMART_TOKEN_URL is set; patient connect ignores the override "+
			"until both are set (backend services use a lone SMART_TOKEN_URL directly)")
	}

	if report.Configuration.BackendConfigured {
		report.Configuration.JWKSURL = cfg.GetJWKSURL()
		if !report.Configuration.BackendClientIDSet {
			issues = append(issues, "a private key is configured but no client ID is set for backend services")
		}
	}
	return issues
}

func (c *Checker) checkDiscovery(ctx context.Context) (*DiscoveryReport, []string) {
	dr := &DiscoveryReport{BaseURL: c.cfg.GetFHIRBaseURL()}

	endpoints, err := c.resolver.Resolve(ctx, dr.BaseURL, discovery.Overrides{
		AuthorizeURL: c.cfg.GetAuthorizeURL(),
		TokenURL:     c.cfg.GetTokenURL(),
	})
	if err != nil {
		dr.Error = err.Error()
		return dr, []string{fmt.Sprintf("endpoint discovery failed: %v", err)}
	}

	dr.BaseURL = endpoints.BaseURL
	dr.Method = endpoints.Method
	dr.AuthorizeURL = endpoints.AuthorizeURL
	dr.TokenURL = endpoints.TokenURL
	dr.Warnings = endpoints.Warnings

	var issues []string
	if endpoints.Method == discovery.MethodURLDerivation {
		issues = append(issues, "endpoints were derived from the FHIR URL path and may be wrong; set SMART_AUTHORIZE_URL and SMART_TOKEN_URL")
	}
	if !endpoints.SupportsS256() {
		issues = append(issues, "the server does not advertise S256 PKCE support")
	}
	return dr, issues
}

func (c *Checker) checkKeys() (*KeyReport, *keys.KeyRing, []string, []string) {
	kr := &KeyReport{}
	var notes []string

	ring, err := keys.LoadKeyRing(c.cfg)
	if err != nil {
		kr.Error = err.Error()
		return kr, nil, []string{fmt.Sprintf("backend key material is invalid: %v", err)}, nil
	}

	kr.Primary = keyInfo(ring.Primary())
	if rotation, ok := ring.Rotation(); ok {
		kr.Rotation = keyInfo(rotation)
		notes = append(notes, fmt.Sprintf("rotation key %s is staged and parseable", rotation.KeyID))
	} else {
		notes = append(notes, "no rotation key is staged")
	}

	signing, err := ring.Select(c.cfg.GetSigningKeyID())
	if err != nil {
		kr.Error = err.Error()
		return kr, nil, []string{err.Error()}, notes
	}
	kr.SigningKeyID = signing.KeyID
	return kr, ring, nil, notes
}

func keyInfo(kp *keys.KeyPair) *KeyInfo {
	return &KeyInfo{KeyID: kp.KeyID, DerivedKeyID: kp.DerivedKeyID, Bits: kp.Bits()}
}

// checkJWKS fetches the published key set and checks that it matches the ring. The signing key is
// also proven end to end: a self-check assertion is verified against the remote set.
func (c *Checker) checkJWKS(ctx context.Context, ring *keys.KeyRing, signingKeyID string) (*JWKSReport, []string) {
	jr := &JWKSReport{URL: c.cfg.GetJWKSURL(), ExpectedKeys: len(ring.Keys())}
	var issues []string

	if u, err := url.Parse(jr.URL); err != nil || u.Host == "" {
		jr.Error = fmt.Sprintf("JWKS URL %q is not an absolute URL", jr.URL)
		return jr, []string{jr.Error + "; set SMART_JWKS_URL or BASE_URL"}
	} else if u.Scheme != "https" {
		issues = append(issues, fmt.Sprintf("JWKS URL %s is not https; most authorization servers will refuse to fetch it", jr.URL))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetHTTPTimeout())
	defer cancel()

	body, err := httpclient.Do(ctx, c.client, httpclient.Request{URL: jr.URL})
	if err != nil {
		jr.Error = err.Error()
		return jr, append(issues, fmt.Sprintf("JWKS at %s is not reachable (%v); every assertion will be rejected as unverifiable", jr.URL, err))
	}
	jr.Reachable = true

	set, err := jwk.Parse(body)
	if err != nil {
		jr.Error = err.Error()
		return jr, append(issues, fmt.Sprintf("JWKS at %s is not a valid JSON Web Key Set: %v", jr.URL, err))
	}
	jr.PublishedKeys = set.Len()
	for i := 0; i < set.Len(); i++ {
		if key, ok := set.Key(i); ok {
			if kid, ok := key.KeyID(); ok {
				jr.PublishedKeyIDs = append(jr.PublishedKeyIDs, kid)
			}
		}
	}

	if jr.PublishedKeys < jr.ExpectedKeys {
		issues = append(issues, fmt.Sprintf("JWKS publishes %d key(s) but %d are configured", jr.PublishedKeys, jr.ExpectedKeys))
	}
	_, jr.SigningKeyPublished = set.LookupKeyID(signingKeyID)
	if !jr.SigningKeyPublished {
		issues = append(issues, fmt.Sprintf("signing key %s is not published at %s", signingKeyID, jr.URL))
	}
	if rotation, ok := ring.Rotation(); ok {
		_, jr.RotationKeyPublished = set.LookupKeyID(rotation.KeyID)
		if !jr.RotationKeyPublished {
			issues = append(issues, fmt.Sprintf("rotation key %s is not published yet; publish it before switching SMART_SIGNING_KEY_ID", rotation.KeyID))
		}
	}

	if jr.SigningKeyPublished {
		if err := c.verifyProbe(ctx, ring, signingKeyID, jr.URL); err != nil {
			jr.Error = err.Error()
			issues = append(issues, fmt.Sprintf("an assertion signed with %s does not verify against %s: %v", signingKeyID, jr.URL, err))
		} else {
			jr.SignatureVerified = true
		}
	}
	return jr, issues
}

func (c *Checker) verifyProbe(ctx context.Context, ring *keys.KeyRing, signingKeyID, jwksURL string) error {
	kp, err := ring.Select(signingKeyID)
	if err != nil {
		return err
	}
	assertion, err := jwt.NewCreator(jwt.DefaultAssertionLifetime).
		CreateClientAssertion(keys.NewKeyPairSigner(kp, jwksURL), firstNonEmpty(c.cfg.GetBackendClientID(), "diagnostics"), selfCheckAudience)
	if err != nil {
		return err
	}

	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, c.client), jwksURL)
	_, err = keySet.VerifySignature(ctx, assertion)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
