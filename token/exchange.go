// Package token requests backend-services access tokens with a signed client assertion.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/jrsteele09/go-smart-auth/internal/httpclient"
	"github.com/jrsteele09/go-smart-auth/internal/metrics"
	"github.com/jrsteele09/go-smart-auth/oauthmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jrsteele09/go-smart-auth/token"

// Exchanger posts client_credentials grants to a token endpoint.
type Exchanger struct {
	client  httpclient.HTTPClient
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type ExchangerOption func(*Exchanger)

func WithExchangerLogger(logger zerolog.Logger) ExchangerOption {
	return func(e *Exchanger) {
		e.logger = logger
	}
}

func WithExchangerMetrics(m *metrics.Metrics) ExchangerOption {
	return func(e *Exchanger) {
		e.metrics = m
	}
}

func WithExchangerTracerProvider(tp trace.TracerProvider) ExchangerOption {
	return func(e *Exchanger) {
		e.tracer = tp.Tracer(tracerName)
	}
}

func NewExchanger(client httpclient.HTTPClient, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		client: client,
		logger: log.Logger,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exchange sends grant_type=client_credentials with the assertion and returns the token response
// as received. scope is omitted from the form when empty.
func (e *Exchanger) Exchange(ctx context.Context, tokenURL, assertion, scope string) (*oauthmodel.TokenResult, error) {
	const op = "Exchanger.Exchange"

	ctx, span := e.tracer.Start(ctx, "token.Exchange", trace.WithAttributes(attribute.String("oauth.token_url", tokenURL)))
	defer span.End()

	form := url.Values{
		"grant_type":            {string(oauthmodel.ClientCredentialsGrant)},
		"client_assertion_type": {string(oauthmodel.JWTBearerAssertionType)},
		"client_assertion":      {assertion},
	}
	if scope != "" {
		form.Set("scope", scope)
	}

	body, err := httpclient.PostForm(ctx, e.client, tokenURL, form)
	if err != nil {
		classified := classifyError(op, tokenURL, err)
		span.RecordError(classified)
		span.SetStatus(codes.Error, "token request failed")
		e.metrics.TokenExchange(outcomeLabel(classified))
		e.logger.Warn().Err(classified).Str("token_url", tokenURL).Msg("backend token exchange failed")
		return nil, classified
	}

	result, err := oauthmodel.ParseTokenResult(body)
	if err != nil {
		msg := fmt.Sprintf("token endpoint %s returned a non-JSON success response", tokenURL)
		if errors.Is(err, oauthmodel.ErrMissingAccessToken) {
			msg = fmt.Sprintf("token endpoint %s returned a success response without an access_token", tokenURL)
		}
		e.metrics.TokenExchange("transport_error")
		span.SetStatus(codes.Error, "unusable token response")
		return nil, autherrors.Wrap(autherrors.ErrTransport, op, err, msg)
	}

	e.metrics.TokenExchange("success")
	e.logger.Debug().Str("token_url", tokenURL).Str("scope", result.Scope).Int("expires_in", int(result.ExpiresIn)).Msg("backend token issued")
	return result, nil
}

// classifyError maps a failed token POST onto the error taxonomy. OAuth error codes become
// ErrAssertionRejected with an actionable message; anything without a JSON error body is ErrTransport.
func classifyError(op, tokenURL string, err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return autherrors.Wrap(autherrors.ErrTransport, op, err, fmt.Sprintf("token endpoint %s is unreachable", tokenURL))
	}

	var oauthErr oauthmodel.ErrorResponse
	if jsonErr := json.Unmarshal(statusErr.Body, &oauthErr); jsonErr != nil || oauthErr.Error == "" {
		return autherrors.Wrap(autherrors.ErrTransport, op, err,
			fmt.Sprintf("token endpoint returned a non-JSON error response (HTTP %d)", statusErr.Status))
	}

	return &autherrors.AuthError{
		Kind:        autherrors.ErrAssertionRejected,
		Op:          op,
		Code:        oauthErr.Error,
		Description: oauthErr.ErrorDescription,
		Message:     rejectionMessage(oauthErr),
		Err:         err,
	}
}

func rejectionMessage(resp oauthmodel.ErrorResponse) string {
	var msg string
	switch resp.Error {
	case oauthmodel.ErrorCodeInvalidClient:
		msg = "invalid_client: the authorization server could not match the assertion to a registered key or client identity; " +
			"check the client ID, that the signing kid is published at the JWKS URL, and that the JWKS URL is publicly reachable"
	case oauthmodel.ErrorCodeInvalidGrant:
		msg = "invalid_grant: the assertion was malformed, expired, or signed with a kid the server does not know; " +
			"check the server clock, that aud is exactly the token URL, and that the kid matches the published key"
	case oauthmodel.ErrorCodeUnauthorizedClient:
		msg = "unauthorized_client: the client_credentials grant is not enabled for this client; " +
			"enable backend services for the application at the EHR"
	default:
		msg = fmt.Sprintf("%s: the token endpoint rejected the request", resp.Error)
	}
	if resp.ErrorDescription != "" {
		msg += fmt.Sprintf(" (server said: %s)", resp.ErrorDescription)
	}
	return msg
}

func outcomeLabel(err error) string {
	var authErr *autherrors.AuthError
	if errors.As(err, &authErr) && authErr.Code != "" {
		switch authErr.Code {
		case oauthmodel.ErrorCodeInvalidClient, oauthmodel.ErrorCodeInvalidGrant, oauthmodel.ErrorCodeUnauthorizedClient:
			return authErr.Code
		}
		return "rejected"
	}
	return "transport_error"
}
