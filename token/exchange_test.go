package token_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/jrsteele09/go-smart-auth/internal/metrics"
	"github.com/jrsteele09/go-smart-auth/token"
	"github.com/jrsteele09/go-smart-auth/token/jwt"
	"github.com/jrsteele09/go-smart-auth/token/keys"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testClientID = "backend-client"

func signedAssertion(t *testing.T, kp *keys.KeyPair, tokenURL string) string {
	t.Helper()
	assertion, err := jwt.NewCreator(0).CreateClientAssertion(keys.NewKeyPairSigner(kp, "https://app.example.com/.well-known/jwks.json"), testClientID, tokenURL)
	require.NoError(t, err)
	return assertion
}

func TestExchange_Success(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	srv := newFakeTokenServer(t, testClientID, kp.PublicKey)

	reg := prometheus.NewRegistry()
	ex := token.NewExchanger(srv.Client(), token.WithExchangerMetrics(metrics.New(reg)))

	result, err := ex.Exchange(context.Background(), srv.TokenURL(), signedAssertion(t, kp, srv.TokenURL()), "system/*.read")
	require.NoError(t, err)
	require.Equal(t, "backend-token", result.AccessToken)
	require.Equal(t, "bearer", result.TokenType)
	require.Equal(t, 300, int(result.ExpiresIn))
	require.Equal(t, "system/*.read", result.Scope)
	require.JSONEq(t, `{"access_token":"backend-token","token_type":"bearer","expires_in":300,"scope":"system/*.read"}`, string(result.Raw))

	form := srv.lastForm()
	require.Equal(t, "client_credentials", form["grant_type"])
	require.Equal(t, "urn:ietf:params:oauth:client-assertion-type:jwt-bearer", form["client_assertion_type"])
	require.Equal(t, "system/*.read", form["scope"])

	require.Equal(t, float64(1), exchangeCount(t, reg, "success"))
}

func exchangeCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "smart_auth_token_exchanges_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestExchange_OmitsEmptyScope(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	srv := newFakeTokenServer(t, testClientID, kp.PublicKey)

	_, err = token.NewExchanger(srv.Client()).Exchange(context.Background(), srv.TokenURL(), signedAssertion(t, kp, srv.TokenURL()), "")
	require.NoError(t, err)
	_, present := srv.lastForm()["scope"]
	require.False(t, present)
}

func TestExchange_ErrorClassification(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)

	tests := []struct {
		name        string
		status      int
		body        string
		kind        error
		code        string
		msgContains string
	}{
		{"invalid client", http.StatusUnauthorized, `{"error":"invalid_client"}`, errors.ErrAssertionRejected, "invalid_client", "JWKS"},
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"expired"}`, errors.ErrAssertionRejected, "invalid_grant", "expired"},
		{"unauthorized client", http.StatusBadRequest, `{"error":"unauthorized_client"}`, errors.ErrAssertionRejected, "unauthorized_client", "not enabled"},
		{"other oauth error", http.StatusBadRequest, `{"error":"invalid_scope"}`, errors.ErrAssertionRejected, "invalid_scope", "rejected"},
		{"html error page", http.StatusBadGateway, `<html>bad gateway</html>`, errors.ErrTransport, "", "non-JSON"},
		{"json without error code", http.StatusInternalServerError, `{"message":"boom"}`, errors.ErrTransport, "", "HTTP 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeTokenServer(t, testClientID, kp.PublicKey)
			srv.respondWith(tt.status, tt.body)

			_, err := token.NewExchanger(srv.Client()).Exchange(context.Background(), srv.TokenURL(), "assertion", "")
			require.ErrorIs(t, err, tt.kind)
			require.Contains(t, err.Error(), tt.msgContains)

			var authErr *errors.AuthError
			require.True(t, errors.As(err, &authErr))
			require.Equal(t, tt.code, authErr.Code)
		})
	}
}

func TestExchange_NonJSONSuccess(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	srv := newFakeTokenServer(t, testClientID, kp.PublicKey)
	srv.respondWith(http.StatusOK, "ok")

	_, err = token.NewExchanger(srv.Client()).Exchange(context.Background(), srv.TokenURL(), "assertion", "")
	require.ErrorIs(t, err, errors.ErrTransport)
}

func TestExchange_StringExpiresIn(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	srv := newFakeTokenServer(t, testClientID, kp.PublicKey)
	body := `{"access_token":"at","token_type":"bearer","expires_in":"3600","scope":"system/*.read"}`
	srv.respondWith(http.StatusOK, body)

	result, err := token.NewExchanger(srv.Client()).Exchange(context.Background(), srv.TokenURL(), "assertion", "")
	require.NoError(t, err)
	require.Equal(t, "at", result.AccessToken)
	require.Equal(t, 3600, int(result.ExpiresIn))
	require.JSONEq(t, body, string(result.Raw))
}

func TestExchange_SuccessWithoutAccessToken(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	srv := newFakeTokenServer(t, testClientID, kp.PublicKey)
	srv.respondWith(http.StatusOK, `{}`)

	result, err := token.NewExchanger(srv.Client()).Exchange(context.Background(), srv.TokenURL(), "assertion", "")
	require.Nil(t, result)
	require.ErrorIs(t, err, errors.ErrTransport)
	require.Contains(t, err.Error(), "without an access_token")
}

func TestExchange_Unreachable(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	srv := newFakeTokenServer(t, testClientID, kp.PublicKey)
	tokenURL := srv.TokenURL()
	srv.Close()

	_, err = token.NewExchanger(http.DefaultClient).Exchange(context.Background(), tokenURL, "assertion", "")
	require.ErrorIs(t, err, errors.ErrTransport)
	require.NotErrorIs(t, err, errors.ErrAssertionRejected)
}
