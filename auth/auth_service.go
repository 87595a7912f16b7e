// Package auth implements the patient-facing SMART launch: PKCE, CSRF state, scope preflight,
// authorization URL composition and the callback side of the flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-smart-auth/discovery"
	"github.com/jrsteele09/go-smart-auth/internal/config"
	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/jrsteele09/go-smart-auth/internal/metrics"
	"github.com/jrsteele09/go-smart-auth/oauthmodel"
	"github.com/jrsteele09/go-smart-auth/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is the configuration the patient flow reads.
type Config interface {
	config.SMARTConfig
	config.SecurityConfig
	config.StorageConfig
}

// EndpointResolver resolves the authorization server for a FHIR base URL.
type EndpointResolver interface {
	Resolve(ctx context.Context, baseURL string, overrides discovery.Overrides) (*discovery.Endpoints, error)
}

// ConnectRequest starts a patient connect attempt. Empty fields fall back to configuration.
type ConnectRequest struct {
	FHIRBaseURL string
	Scope       string
	RedirectURI string
}

// ConnectResult is everything the caller needs to redirect the browser.
type ConnectResult struct {
	AuthorizationURL string           `json:"authorization_url"`
	SessionID        string           `json:"session_id"`
	DiscoveryMethod  discovery.Method `json:"discovery_method"`
	Audience         string           `json:"aud"`
	ExpiresAt        time.Time        `json:"expires_at"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// CallbackRequest carries the query parameters the EHR sent back, plus the caller's session ID.
type CallbackRequest struct {
	SessionID        string
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// AuthorizationService runs the patient connect flow. It holds no per-request state itself;
// flows live in the sessions repo between Begin and Complete.
type AuthorizationService struct {
	cfg        Config
	resolver   EndpointResolver
	flows      sessions.Repo
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	nowTime    func() time.Time
}

// AuthorizationServiceOption defines a function type to modify the AuthorizationService instance.
type AuthorizationServiceOption func(*AuthorizationService)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.nowTime = nowFunc
	}
}

// WithHTTPClient sets the client used for the authorization code exchange.
func WithHTTPClient(client *http.Client) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.httpClient = client
	}
}

func WithMetrics(m *metrics.Metrics) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.logger = logger
	}
}

// NewAuthorizationService initializes a new AuthorizationService with required dependencies.
func NewAuthorizationService(cfg Config, resolver EndpointResolver, flows sessions.Repo, opts ...AuthorizationServiceOption) *AuthorizationService {
	as := &AuthorizationService{
		cfg:      cfg,
		resolver: resolver,
		flows:    flows,
		logger:   log.Logger,
		nowTime:  time.Now,
	}
	for _, opt := range opts {
		opt(as)
	}
	if as.httpClient == nil {
		as.httpClient = &http.Client{Timeout: cfg.GetHTTPTimeout()}
	}
	return as
}

// Begin prepares a connect attempt: PKCE pair, CSRF state, endpoint discovery, scope preflight and
// the authorization URL. The verifier and state are stored under a new session ID.
func (as *AuthorizationService) Begin(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	const op = "AuthorizationService.Begin"

	clientID := as.cfg.GetClientID()
	if clientID == "" {
		return nil, autherrors.New(autherrors.ErrConfiguration, op, "SMART_CLIENT_ID is not set")
	}
	if req.FHIRBaseURL != "" && !discovery.BaseURLAllowed(req.FHIRBaseURL, as.cfg.GetFHIRBaseURL(), as.cfg.GetAllowedFHIRBaseURLs()) {
		return nil, autherrors.Newf(autherrors.ErrConfiguration, op,
			"FHIR base URL %q is neither SMART_FHIR_BASE_URL nor listed in SMART_ALLOWED_FHIR_BASE_URLS", req.FHIRBaseURL)
	}
	baseURL := firstNonEmpty(req.FHIRBaseURL, as.cfg.GetFHIRBaseURL())
	if baseURL == "" {
		return nil, autherrors.New(autherrors.ErrConfiguration, op, "no FHIR base URL was supplied or configured")
	}
	redirectURI := firstNonEmpty(req.RedirectURI, as.cfg.GetRedirectURI())
	if redirectURI == "" {
		return nil, autherrors.New(autherrors.ErrConfiguration, op, "SMART_REDIRECT_URI is not set")
	}
	scope := firstNonEmpty(req.Scope, as.cfg.GetScopes())

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	endpoints, err := as.resolver.Resolve(ctx, baseURL, discovery.Overrides{
		AuthorizeURL: as.cfg.GetAuthorizeURL(),
		TokenURL:     as.cfg.GetTokenURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	warnings := append([]string(nil), endpoints.Warnings...)
	if !endpoints.SupportsS256() {
		warnings = append(warnings, "server does not advertise S256 in code_challenge_methods_supported; sending S256 anyway")
	}

	scopeCheck := CheckScopes(scope, endpoints.ScopesSupported)
	if !scopeCheck.Blocks() {
		warnings = append(warnings, scopeCheck.Warnings()...)
	}

	authURL, err := BuildAuthorizationURL(endpoints.AuthorizeURL, oauthmodel.AuthorizationRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		State:               state,
		Audience:            endpoints.BaseURL,
		CodeChallenge:       pkce.Challenge,
		CodeChallengeMethod: pkce.Method,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	warnings = append(warnings, authURL.Warnings...)

	now := as.nowTime()
	flow := &sessions.FlowState{
		SessionID:       uuid.New().String(),
		State:           state,
		CodeVerifier:    pkce.Verifier,
		FHIRBaseURL:     endpoints.BaseURL,
		AuthorizeURL:    endpoints.AuthorizeURL,
		TokenURL:        endpoints.TokenURL,
		RedirectURI:     authURL.RedirectURI,
		Scope:           scope,
		DiscoveryMethod: endpoints.Method,
		CreatedAt:       now,
		ExpiresAt:       now.Add(as.cfg.GetSessionTTL()),
	}
	if err := as.flows.Upsert(ctx, flow); err != nil {
		return nil, fmt.Errorf("[%s] storing flow state: %w", op, err)
	}

	for _, w := range warnings {
		as.logger.Warn().Str("fhir_base_url", endpoints.BaseURL).Str("session_id", flow.SessionID).Msg(w)
	}

	return &ConnectResult{
		AuthorizationURL: authURL.URL,
		SessionID:        flow.SessionID,
		DiscoveryMethod:  endpoints.Method,
		Audience:         endpoints.BaseURL,
		ExpiresAt:        flow.ExpiresAt,
		Warnings:         warnings,
	}, nil
}

// Complete handles the callback. The stored flow is consumed before anything else is checked, so a
// state or code can never be replayed, whatever the outcome.
func (as *AuthorizationService) Complete(ctx context.Context, req CallbackRequest) (*sessions.FlowState, error) {
	const op = "AuthorizationService.Complete"

	flow, err := as.flows.Consume(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			as.metrics.StateVerification("unknown_session")
			return nil, autherrors.New(autherrors.ErrStateMismatch, op,
				"no connect attempt is in progress for this session, or it has expired; restart the connect flow")
		}
		return nil, fmt.Errorf("[%s] loading flow state: %w", op, err)
	}

	if req.Error != "" {
		as.metrics.StateVerification("authorization_error")
		return nil, &autherrors.AuthError{
			Kind:        autherrors.ErrAuthorizationDenied,
			Op:          op,
			Code:        req.Error,
			Description: req.ErrorDescription,
			Message:     fmt.Sprintf("the EHR returned %q to the callback", req.Error),
		}
	}

	outcome, err := VerifyState(req.State, flow.State, as.cfg.GetAllowMissingState())
	as.metrics.StateVerification(string(outcome))
	if err != nil {
		as.logger.Warn().Str("session_id", req.SessionID).Str("outcome", string(outcome)).Msg("callback state rejected")
		return nil, err
	}
	if outcome == StateMissingAllowed {
		as.logger.Warn().Str("session_id", req.SessionID).Msg("accepting callback without stored state (SMART_ALLOW_MISSING_STATE)")
	}

	if req.Code == "" {
		return nil, autherrors.New(autherrors.ErrAuthorizationDenied, op, "callback carried neither a code nor an error")
	}
	return flow, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
