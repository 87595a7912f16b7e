package token_test

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// fakeTokenServer is a minimal backend-services token endpoint. It validates assertions the way
// a SMART authorization server does: RS384, sub == iss, aud == token URL, jti present, short exp.
type fakeTokenServer struct {
	*httptest.Server

	publicKey *rsa.PublicKey
	clientID  string

	mu       sync.Mutex
	forms    []map[string]string
	headers  []map[string]any
	status   int
	response string
}

func newFakeTokenServer(t *testing.T, clientID string, publicKey *rsa.PublicKey) *fakeTokenServer {
	t.Helper()
	f := &fakeTokenServer{publicKey: publicKey, clientID: clientID}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTokenServer) TokenURL() string {
	return f.URL + "/oauth2/token"
}

// respondWith replaces normal validation with a canned response.
func (f *fakeTokenServer) respondWith(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.response = status, body
}

func (f *fakeTokenServer) lastForm() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.forms) == 0 {
		return nil
	}
	return f.forms[len(f.forms)-1]
}

func (f *fakeTokenServer) lastHeader() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.headers) == 0 {
		return nil
	}
	return f.headers[len(f.headers)-1]
}

func (f *fakeTokenServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/oauth2/token" {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", err.Error())
		return
	}

	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	f.mu.Lock()
	f.forms = append(f.forms, form)
	status, response := f.status, f.response
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
		return
	}

	if form["grant_type"] != "client_credentials" {
		writeOAuthError(w, "unsupported_grant_type", "")
		return
	}
	if form["client_assertion_type"] != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
		writeOAuthError(w, "invalid_request", "unsupported client_assertion_type")
		return
	}

	token, err := jwtlib.Parse(form["client_assertion"], func(t *jwtlib.Token) (any, error) {
		return f.publicKey, nil
	}, jwtlib.WithValidMethods([]string{"RS384"}), jwtlib.WithAudience(f.TokenURL()), jwtlib.WithIssuer(f.clientID))
	if err != nil {
		writeOAuthError(w, "invalid_client", err.Error())
		return
	}

	f.mu.Lock()
	f.headers = append(f.headers, token.Header)
	f.mu.Unlock()

	claims := token.Claims.(jwtlib.MapClaims)
	if claims["sub"] != claims["iss"] {
		writeOAuthError(w, "invalid_client", "sub must equal iss")
		return
	}
	if jti, _ := claims["jti"].(string); jti == "" {
		writeOAuthError(w, "invalid_grant", "missing jti")
		return
	}
	exp, _ := claims.GetExpirationTime()
	if exp == nil || exp.After(time.Now().Add(5*time.Minute+30*time.Second)) {
		writeOAuthError(w, "invalid_grant", "exp too far in the future")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"access_token":"backend-token","token_type":"bearer","expires_in":300,"scope":%q}`, form["scope"])
}

func writeOAuthError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": description})
}
