// Package discovery resolves the SMART authorize and token endpoints for a FHIR base URL.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/jrsteele09/go-smart-auth/internal/httpclient"
	"github.com/jrsteele09/go-smart-auth/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultAttemptTimeout bounds each network strategy independently.
	DefaultAttemptTimeout = 5 * time.Second

	SMARTConfigurationPath = "/.well-known/smart-configuration"
	MetadataPath           = "/metadata"

	derivableSuffix   = "/api/fhir/r4"
	derivedAuthorize  = "/oauth2/authorize"
	derivedToken      = "/oauth2/token"
	tracerName        = "github.com/jrsteele09/go-smart-auth/discovery"
	outcomeSuccess    = "success"
	outcomeIncomplete = "incomplete"
	outcomeError      = "error"
)

// Overrides are operator-supplied endpoints. They win only when both are set.
type Overrides struct {
	AuthorizeURL string
	TokenURL     string
}

// Resolver runs the discovery strategies in priority order. It holds no cache:
// every call goes back to the upstream server.
type Resolver struct {
	client  httpclient.HTTPClient
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Resolver)

// WithAttemptTimeout sets the timeout applied to each network strategy.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Resolver) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// NewResolver creates a Resolver that performs its fetches with client.
func NewResolver(client httpclient.HTTPClient, opts ...Option) *Resolver {
	r := &Resolver{
		client:  client,
		timeout: DefaultAttemptTimeout,
		logger:  log.Logger,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeBaseURL trims whitespace and trailing slashes. SMART servers compare aud literally,
// so every concatenation and the aud parameter itself use this form.
func NormalizeBaseURL(raw string) (string, error) {
	const op = "discovery.NormalizeBaseURL"

	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return "", autherrors.New(autherrors.ErrConfiguration, op, "FHIR base URL is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", autherrors.Wrap(autherrors.ErrDiscoveryFailure, op, err, fmt.Sprintf("FHIR base URL %q is malformed", raw))
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", autherrors.Newf(autherrors.ErrDiscoveryFailure, op,
			"FHIR base URL %q must be an absolute http(s) URL", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", autherrors.Newf(autherrors.ErrDiscoveryFailure, op,
			"FHIR base URL %q must not carry a query or fragment", raw)
	}
	return base, nil
}

// Resolve returns the endpoints for baseURL using, in order: overrides, standards discovery,
// the CapabilityStatement and URL derivation. The first strategy that yields both URLs wins.
// Failed network strategies fall through to the next one and are only logged.
func (r *Resolver) Resolve(ctx context.Context, baseURL string, overrides Overrides) (*Endpoints, error) {
	const op = "Resolver.Resolve"

	ctx, span := r.tracer.Start(ctx, "discovery.Resolve")
	defer span.End()

	base, err := NormalizeBaseURL(baseURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid base url")
		return nil, err
	}
	span.SetAttributes(attribute.String("fhir.base_url", base))
	logger := r.logger.With().Str("fhir_base_url", base).Logger()

	var warnings []string
	authz, tok := strings.TrimSpace(overrides.AuthorizeURL), strings.TrimSpace(overrides.TokenURL)
	switch {
	case authz != "" && tok != "":
		return r.resolved(span, &Endpoints{BaseURL: base, AuthorizeURL: authz, TokenURL: tok, Method: MethodEnvOverride}), nil
	case authz != "" || tok != "":
		msg := "only one of the authorize/token overrides is set; ignoring the override and discovering both"
		logger.Warn().Str("authorize_url", authz).Str("token_url", tok).Msg(msg)
		warnings = append(warnings, msg)
	}

	var failures []string
	for _, attempt := range []struct {
		method Method
		fetch  func(context.Context, string) (*Endpoints, error)
	}{
		{MethodStandardsDiscovery, r.fromSMARTConfiguration},
		{MethodCapabilityStatement, r.fromCapabilityStatement},
	} {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, autherrors.Wrap(autherrors.ErrTransport, op, ctx.Err(), "discovery cancelled")
		}

		endpoints, err := r.try(ctx, attempt.method, base, attempt.fetch)
		if err != nil {
			logger.Debug().Err(err).Str("strategy", attempt.method.String()).Msg("discovery strategy failed, falling through")
			failures = append(failures, fmt.Sprintf("%s: %v", attempt.method, err))
			continue
		}
		endpoints.Warnings = append(warnings, endpoints.Warnings...)
		return r.resolved(span, endpoints), nil
	}

	endpoints, ok := deriveFromBaseURL(base)
	if !ok {
		r.metrics.DiscoveryAttempt(MethodURLDerivation.String(), outcomeIncomplete)
		err := autherrors.Newf(autherrors.ErrDiscoveryFailure, op,
			"could not resolve OAuth endpoints for %s (%s); set SMART_AUTHORIZE_URL and SMART_TOKEN_URL",
			base, strings.Join(failures, "; "))
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		logger.Warn().Strs("failures", failures).Msg("endpoint discovery failed")
		return nil, err
	}
	r.metrics.DiscoveryAttempt(MethodURLDerivation.String(), outcomeSuccess)

	warning := fmt.Sprintf("endpoints for %s were derived from the URL path and may be wrong; "+
		"prefer a server that publishes %s or set explicit overrides", base, SMARTConfigurationPath)
	logger.Warn().Str("authorize_url", endpoints.AuthorizeURL).Str("token_url", endpoints.TokenURL).Msg(warning)
	endpoints.Warnings = append(warnings, warning)
	return r.resolved(span, endpoints), nil
}

func (r *Resolver) resolved(span trace.Span, e *Endpoints) *Endpoints {
	span.SetAttributes(attribute.String("discovery.method", e.Method.String()))
	r.metrics.DiscoveryResolved(e.Method.String())
	return e
}

// try runs one network strategy under its own timeout.
func (r *Resolver) try(ctx context.Context, method Method, base string, fetch func(context.Context, string) (*Endpoints, error)) (*Endpoints, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "discovery."+method.String())
	defer span.End()

	endpoints, err := fetch(ctx, base)
	switch {
	case err == nil:
		r.metrics.DiscoveryAttempt(method.String(), outcomeSuccess)
	case errors.Is(err, errIncomplete):
		r.metrics.DiscoveryAttempt(method.String(), outcomeIncomplete)
		span.SetStatus(codes.Error, err.Error())
	default:
		r.metrics.DiscoveryAttempt(method.String(), outcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
	}
	return endpoints, err
}

var errIncomplete = errors.New("response did not contain both endpoints")

func (r *Resolver) fromSMARTConfiguration(ctx context.Context, base string) (*Endpoints, error) {
	cfg, err := httpclient.GetJSON[SMARTConfiguration](ctx, r.client, httpclient.Request{URL: base + SMARTConfigurationPath})
	if err != nil {
		return nil, err
	}
	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, errIncomplete
	}
	return &Endpoints{
		BaseURL:                           base,
		AuthorizeURL:                      cfg.AuthorizationEndpoint,
		TokenURL:                          cfg.TokenEndpoint,
		Method:                            MethodStandardsDiscovery,
		ScopesSupported:                   cfg.ScopesSupported,
		Capabilities:                      cfg.Capabilities,
		CodeChallengeMethodsSupported:     cfg.CodeChallengeMethodsSupported,
		TokenEndpointAuthMethodsSupported: cfg.TokenEndpointAuthMethodsSupported,
		JWKSURI:                           cfg.JWKSURI,
	}, nil
}

func (r *Resolver) fromCapabilityStatement(ctx context.Context, base string) (*Endpoints, error) {
	cs, err := httpclient.GetJSON[CapabilityStatement](ctx, r.client, httpclient.Request{
		URL:    base + MetadataPath,
		Accept: httpclient.MediaFHIRJSON + ", " + httpclient.MediaJSON,
		Limit:  8 * httpclient.BodyLimit,
	})
	if err != nil {
		return nil, err
	}
	authorize, token, ok := cs.OAuthURIs()
	if !ok {
		return nil, errIncomplete
	}
	return &Endpoints{
		BaseURL:      base,
		AuthorizeURL: authorize,
		TokenURL:     token,
		Method:       MethodCapabilityStatement,
	}, nil
}

// deriveFromBaseURL rewrites .../api/FHIR/R4 to .../oauth2/{authorize,token}. The suffix match ignores case.
func deriveFromBaseURL(base string) (*Endpoints, bool) {
	if !strings.HasSuffix(strings.ToLower(base), derivableSuffix) {
		return nil, false
	}
	prefix := base[:len(base)-len(derivableSuffix)]
	return &Endpoints{
		BaseURL:      base,
		AuthorizeURL: prefix + derivedAuthorize,
		TokenURL:     prefix + derivedToken,
		Method:       MethodURLDerivation,
	}, true
}
