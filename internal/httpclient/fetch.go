package httpclient

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// BodyLimit caps how much of a response body is read unless a Request sets its own Limit.
	BodyLimit = 1 << 20

	MediaJSON     = "application/json"
	MediaFHIRJSON = "application/fhir+json"
	MediaForm     = "application/x-www-form-urlencoded"
)

// Request is one outbound call to an EHR or to a JWKS host.
type Request struct {
	URL string

	// Accept defaults to application/json.
	Accept string

	// Form, when non-nil, turns the request into a form-urlencoded POST.
	Form url.Values

	// Limit overrides BodyLimit.
	Limit int64
}

// StatusError is a completed exchange whose status was not 2xx. Body holds what the server sent,
// which token endpoints use to carry an OAuth error.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Status)
}

// StatusOf returns the HTTP status of a *StatusError in err's chain, or 0 when the call never got
// a response (DNS, refused connection, timeout).
func StatusOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}

// DecodeError is a 2xx response whose body is not the expected JSON.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Do sends req and returns the body of a 2xx response. Any other status is a *StatusError;
// transport failures are wrapped as they come.
func Do(ctx context.Context, client HTTPClient, req Request) ([]byte, error) {
	method, body := http.MethodGet, io.Reader(nil)
	if req.Form != nil {
		method, body = http.MethodPost, strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, req.URL, err)
	}
	httpReq.Header.Set("Accept", cmp.Or(req.Accept, MediaJSON))
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", MediaForm)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	limit := req.Limit
	if limit <= 0 {
		limit = BodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, req.URL, err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Method: method, URL: req.URL, Status: resp.StatusCode, Body: data}
	}
	return data, nil
}

// GetJSON fetches req.URL and decodes the 2xx body into T. The Content-Type is not checked:
// FHIR servers answer with application/fhir+json, application/json or even text/plain.
func GetJSON[T any](ctx context.Context, client HTTPClient, req Request) (*T, error) {
	data, err := Do(ctx, client, req)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &DecodeError{URL: req.URL, Err: err}
	}
	return &out, nil
}

// PostForm posts form to requestURL and returns the 2xx body.
func PostForm(ctx context.Context, client HTTPClient, requestURL string, form url.Values) ([]byte, error) {
	if form == nil {
		form = url.Values{}
	}
	return Do(ctx, client, Request{URL: requestURL, Form: form})
}
