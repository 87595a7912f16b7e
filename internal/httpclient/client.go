package httpclient

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds every outbound call made with a client from New.
const DefaultTimeout = 10 * time.Second

// HTTPClient is the subset of *http.Client used by this module.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// New returns an *http.Client with an explicit overall timeout and bounded dial/TLS phases.
// A zero timeout uses DefaultTimeout; no outbound call may block indefinitely.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
