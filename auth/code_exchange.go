package auth

import (
	"context"
	"errors"
	"fmt"

	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/jrsteele09/go-smart-auth/oauthmodel"
	"github.com/jrsteele09/go-smart-auth/sessions"
	"golang.org/x/oauth2"
)

// ExchangeCode trades the authorization code for tokens at the flow's token endpoint, sending the
// stored PKCE verifier. The flow must come from Complete.
func (as *AuthorizationService) ExchangeCode(ctx context.Context, flow *sessions.FlowState, code string) (*oauthmodel.TokenResult, error) {
	const op = "AuthorizationService.ExchangeCode"

	cfg := oauth2.Config{
		ClientID: as.cfg.GetClientID(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   flow.AuthorizeURL,
			TokenURL:  flow.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: flow.RedirectURI,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, as.httpClient)
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
			return nil, &autherrors.AuthError{
				Kind:        autherrors.ErrAuthorizationDenied,
				Op:          op,
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
				Message:     fmt.Sprintf("token endpoint refused the authorization code (%s)", retrieveErr.ErrorCode),
				Err:         err,
			}
		}
		return nil, autherrors.Wrap(autherrors.ErrTransport, op, err, "authorization code exchange failed")
	}

	result := &oauthmodel.TokenResult{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   oauthmodel.Seconds(tok.ExpiresIn),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		result.Scope = scope
	}
	if patient, ok := tok.Extra("patient").(string); ok {
		result.Patient = patient
	}
	return result, nil
}
