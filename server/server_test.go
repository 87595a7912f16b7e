package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/go-smart-auth/internal/config"
	"github.com/jrsteele09/go-smart-auth/internal/testutil"
	"github.com/jrsteele09/go-smart-auth/server"
	"github.com/jrsteele09/go-smart-auth/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const adminToken = "s3cret"

// fakeEHR serves SMART discovery and a token endpoint that checks PKCE for the authorization code
// grant and accepts any assertion for client_credentials.
type fakeEHR struct {
	srv *httptest.Server

	mu         sync.Mutex
	challenges map[string]string // code -> expected code_challenge
	forms      []url.Values
}

func newFakeEHR(t *testing.T) *fakeEHR {
	t.Helper()
	ehr := &fakeEHR{challenges: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/FHIR/R4/.well-known/smart-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"authorization_endpoint":           ehr.srv.URL + "/oauth2/authorize",
			"token_endpoint":                   ehr.srv.URL + "/oauth2/token",
			"code_challenge_methods_supported": []string{"S256"},
		})
	})
	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ehr.mu.Lock()
		ehr.forms = append(ehr.forms, r.PostForm)
		challenge, known := ehr.challenges[r.PostForm.Get("code")]
		ehr.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if !known || oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != challenge {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"PKCE verification failed"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"patient-at","token_type":"bearer","expires_in":3600,"scope":"patient/*.read","patient":"pat-123"}`))
		case "client_credentials":
			_, _ = w.Write([]byte(`{"access_token":"system-at","token_type":"bearer","expires_in":300,"scope":"system/*.read"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		}
	})
	ehr.srv = httptest.NewServer(mux)
	t.Cleanup(ehr.srv.Close)
	return ehr
}

// issueCode simulates the patient approving access at the EHR.
func (e *fakeEHR) issueCode(code, challenge string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.challenges[code] = challenge
}

func (e *fakeEHR) lastForm() url.Values {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forms[len(e.forms)-1]
}

type fixture struct {
	ehr    *fakeEHR
	server *server.Server
	cfg    config.Config
}

func newFixture(t *testing.T, values map[string]any) *fixture {
	t.Helper()
	ehr := newFakeEHR(t)

	cfgValues := map[string]any{
		"ENV":                          "TEST",
		"BASE_URL":                     "https://connect.example.com",
		"SMART_CLIENT_ID":              "client-1",
		"SMART_REDIRECT_URI":           "https://connect.example.com/smart/callback",
		"SMART_FHIR_BASE_URL":          ehr.srv.URL + "/api/FHIR/R4",
		"SMART_ALLOWED_FHIR_BASE_URLS": ehr.srv.URL + "/unknown",
		"SMART_ADMIN_TOKEN":            adminToken,
	}
	for k, v := range values {
		cfgValues[k] = v
	}
	cfg := testutil.Config(cfgValues)

	srv, err := server.New(cfg, server.NewServices(cfg, sessions.NewInMemoryRepo(), prometheus.NewRegistry()))
	require.NoError(t, err)
	return &fixture{ehr: ehr, server: srv, cfg: cfg}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth_session_id" {
			return c
		}
	}
	t.Fatal("auth_session_id cookie not set")
	return nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// connect starts a flow and returns the authorization URL query and the session cookie.
func (f *fixture) connect(t *testing.T) (url.Values, *http.Cookie) {
	t.Helper()
	rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteConnect, nil))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, f.ehr.srv.URL+"/oauth2/authorize", location.Scheme+"://"+location.Host+location.Path)
	return location.Query(), sessionCookie(t, rec)
}

func TestConnect_RedirectsToEHR(t *testing.T) {
	f := newFixture(t, nil)
	query, cookie := f.connect(t)

	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, "client-1", query.Get("client_id"))
	require.Equal(t, "https://connect.example.com/smart/callback", query.Get("redirect_uri"))
	require.Equal(t, f.ehr.srv.URL+"/api/FHIR/R4", query.Get("aud"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))
	require.NotEmpty(t, query.Get("code_challenge"))
	require.NotEmpty(t, query.Get("state"))

	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	require.Positive(t, cookie.MaxAge)
}

func TestConnectAPI_ReturnsJSON(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteAPIConnect+"?scope=launch/patient+openid", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		AuthorizationURL string `json:"authorization_url"`
		SessionID        string `json:"session_id"`
		DiscoveryMethod  string `json:"discovery_method"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "standards_discovery", body.DiscoveryMethod)
	require.Equal(t, sessionCookie(t, rec).Value, body.SessionID)

	authURL, err := url.Parse(body.AuthorizationURL)
	require.NoError(t, err)
	require.Equal(t, "launch/patient openid", authURL.Query().Get("scope"))
}

func TestConnect_Errors(t *testing.T) {
	t.Run("missing client id", func(t *testing.T) {
		f := newFixture(t, map[string]any{"SMART_CLIENT_ID": ""})
		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteAPIConnect, nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, "configuration_error", decodeError(t, rec)["kind"])
	})

	t.Run("undiscoverable base url", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(httptest.NewRequest(http.MethodGet,
			server.RouteAPIConnect+"?fhir_base_url="+url.QueryEscape(f.ehr.srv.URL+"/unknown"), nil))
		require.Equal(t, http.StatusBadGateway, rec.Code)
		require.Equal(t, "discovery_failure", decodeError(t, rec)["kind"])
	})

	t.Run("unlisted base url is refused without contacting it", func(t *testing.T) {
		var hits atomic.Int32
		other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"authorization_endpoint":"https://phish.example.net/login","token_endpoint":"https://phish.example.net/token"}`))
		}))
		t.Cleanup(other.Close)

		f := newFixture(t, nil)
		for _, route := range []string{server.RouteConnect, server.RouteAPIConnect} {
			rec := f.do(httptest.NewRequest(http.MethodGet, route+"?fhir_base_url="+url.QueryEscape(other.URL+"/internal/admin"), nil))
			require.Equal(t, http.StatusInternalServerError, rec.Code, route)
			require.Equal(t, "configuration_error", decodeError(t, rec)["kind"])
			require.Empty(t, rec.Header().Get("Location"))
			require.Empty(t, rec.Result().Cookies())
		}
		require.Zero(t, hits.Load())
	})
}

func TestCallback_CompletesFlow(t *testing.T) {
	f := newFixture(t, nil)
	query, cookie := f.connect(t)
	f.ehr.issueCode("code-1", query.Get("code_challenge"))

	req := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?code=code-1&state="+url.QueryEscape(query.Get("state")), nil)
	req.AddCookie(cookie)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		FHIRBaseURL     string `json:"fhir_base_url"`
		DiscoveryMethod string `json:"discovery_method"`
		Token           struct {
			AccessToken string `json:"access_token"`
			Patient     string `json:"patient"`
		} `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, f.ehr.srv.URL+"/api/FHIR/R4", body.FHIRBaseURL)
	require.Equal(t, "standards_discovery", body.DiscoveryMethod)
	require.Equal(t, "patient-at", body.Token.AccessToken)
	require.Equal(t, "pat-123", body.Token.Patient)

	form := f.ehr.lastForm()
	require.Equal(t, "authorization_code", form.Get("grant_type"))
	require.Equal(t, "client-1", form.Get("client_id"))
	require.Equal(t, "https://connect.example.com/smart/callback", form.Get("redirect_uri"))

	// cookie is cleared and the flow cannot be replayed
	require.Equal(t, -1, sessionCookie(t, rec).MaxAge)
	rec = f.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "state_mismatch", decodeError(t, rec)["kind"])
}

func TestCallback_Rejections(t *testing.T) {
	t.Run("state mismatch", func(t *testing.T) {
		f := newFixture(t, nil)
		query, cookie := f.connect(t)
		f.ehr.issueCode("code-1", query.Get("code_challenge"))

		req := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?code=code-1&state=forged", nil)
		req.AddCookie(cookie)
		rec := f.do(req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "state_mismatch", decodeError(t, rec)["kind"])
	})

	t.Run("no session cookie", func(t *testing.T) {
		f := newFixture(t, nil)
		query, _ := f.connect(t)

		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteCallback+"?code=c&state="+url.QueryEscape(query.Get("state")), nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "state_mismatch", decodeError(t, rec)["kind"])
	})

	t.Run("patient denied access", func(t *testing.T) {
		f := newFixture(t, nil)
		query, cookie := f.connect(t)

		req := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?error=access_denied&error_description=User+declined&state="+url.QueryEscape(query.Get("state")), nil)
		req.AddCookie(cookie)
		rec := f.do(req)
		require.Equal(t, http.StatusForbidden, rec.Code)

		body := decodeError(t, rec)
		require.Equal(t, "access_denied", body["error"])
		require.Equal(t, "authorization_denied", body["kind"])
		require.Contains(t, body["error_description"], "User declined")
	})

	t.Run("code refused by token endpoint", func(t *testing.T) {
		f := newFixture(t, nil)
		query, cookie := f.connect(t)

		req := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?code=never-issued&state="+url.QueryEscape(query.Get("state")), nil)
		req.AddCookie(cookie)
		rec := f.do(req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, "invalid_grant", decodeError(t, rec)["error"])
	})
}

func TestBackendToken(t *testing.T) {
	pemKey := testutil.PKCS1PEM(testutil.RSAKey(t, 2048))

	t.Run("requires admin token", func(t *testing.T) {
		f := newFixture(t, map[string]any{"SMART_PRIVATE_KEY": pemKey})
		rec := f.do(httptest.NewRequest(http.MethodPost, server.RouteAPIBackendToken, nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		req := httptest.NewRequest(http.MethodPost, server.RouteAPIBackendToken, nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec = f.do(req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disabled outside DEV without admin token", func(t *testing.T) {
		f := newFixture(t, map[string]any{"SMART_PRIVATE_KEY": pemKey, "SMART_ADMIN_TOKEN": ""})
		rec := f.do(httptest.NewRequest(http.MethodPost, server.RouteAPIBackendToken, nil))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("exchanges a signed assertion", func(t *testing.T) {
		f := newFixture(t, map[string]any{"SMART_PRIVATE_KEY": testutil.EscapeNewlines(pemKey), "SMART_KEY_ID": "k1"})

		req := httptest.NewRequest(http.MethodPost, server.RouteAPIBackendToken, strings.NewReader(`{"scope":"system/Patient.read"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+adminToken)
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		require.JSONEq(t, `{"access_token":"system-at","token_type":"bearer","expires_in":300,"scope":"system/*.read"}`, rec.Body.String())

		form := f.ehr.lastForm()
		require.Equal(t, "client_credentials", form.Get("grant_type"))
		require.Equal(t, "urn:ietf:params:oauth:client-assertion-type:jwt-bearer", form.Get("client_assertion_type"))
		require.Equal(t, "system/Patient.read", form.Get("scope"))
		require.Len(t, strings.Split(form.Get("client_assertion"), "."), 3)
	})

	t.Run("bad key material", func(t *testing.T) {
		f := newFixture(t, map[string]any{"SMART_PRIVATE_KEY": "not a key"})
		req := httptest.NewRequest(http.MethodPost, server.RouteAPIBackendToken, nil)
		req.Header.Set("Authorization", "Bearer "+adminToken)
		rec := f.do(req)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, "key_material_error", decodeError(t, rec)["kind"])
	})
}

func TestJWKS(t *testing.T) {
	t.Run("publishes every key", func(t *testing.T) {
		f := newFixture(t, map[string]any{
			"SMART_PRIVATE_KEY":          testutil.PKCS1PEM(testutil.RSAKey(t, 2048)),
			"SMART_KEY_ID":               "k1",
			"SMART_ROTATION_PRIVATE_KEY": testutil.PKCS8PEM(t, testutil.RSAKey(t, 2048)),
			"SMART_ROTATION_KEY_ID":      "k2",
		})
		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteWellKnownJWKS, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var set struct {
			Keys []map[string]any `json:"keys"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
		require.Len(t, set.Keys, 2)
		for _, key := range set.Keys {
			require.Equal(t, "RSA", key["kty"])
			require.Equal(t, "RS384", key["alg"])
			require.Equal(t, "sig", key["use"])
			require.NotContains(t, key, "d")
		}
		require.Equal(t, "k1", set.Keys[0]["kid"])
		require.Equal(t, "k2", set.Keys[1]["kid"])
	})

	t.Run("empty without backend keys", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteWellKnownJWKS, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var set struct {
			Keys []map[string]any `json:"keys"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
		require.Empty(t, set.Keys)
	})
}

func TestDiagnostics(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, server.RouteAPIDiagnostics, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var report struct {
		OK        bool     `json:"ok"`
		Issues    []string `json:"issues"`
		Discovery struct {
			Method string `json:"discovery_method"`
		} `json:"discovery"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.True(t, report.OK, "issues: %v", report.Issues)
	require.Equal(t, "standards_discovery", report.Discovery.Method)
}

func TestOperationalRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, server.RouteHealth, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	// generate some discovery traffic first
	f.connect(t)
	rec = f.do(httptest.NewRequest(http.MethodGet, server.RouteMetrics, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `smart_auth_discovery_resolutions_total{method="standards_discovery"} 1`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, map[string]any{"CORS_ORIGINS": "https://portal.example.com"})

	req := httptest.NewRequest(http.MethodOptions, server.RouteAPIConnect, nil)
	req.Header.Set("Origin", "https://portal.example.com")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://portal.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, server.RouteAPIConnect, nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = f.do(req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
