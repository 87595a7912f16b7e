package server

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-smart-auth/auth"
	"github.com/jrsteele09/go-smart-auth/diagnostics"
	"github.com/jrsteele09/go-smart-auth/discovery"
	"github.com/jrsteele09/go-smart-auth/internal/config"
	"github.com/jrsteele09/go-smart-auth/internal/httpclient"
	"github.com/jrsteele09/go-smart-auth/internal/metrics"
	"github.com/jrsteele09/go-smart-auth/sessions"
	"github.com/jrsteele09/go-smart-auth/token"
	"github.com/jrsteele09/go-smart-auth/token/keys"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// pinger is implemented by flow stores backed by a remote service.
type pinger interface {
	Ping(ctx context.Context) error
}

// NewServices wires the authorization core for cfg. A nil registry disables metrics.
func NewServices(cfg config.Config, flows sessions.Repo, reg *prometheus.Registry) Services {
	var m *metrics.Metrics
	var gatherer prometheus.Gatherer
	if reg != nil {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		gatherer = reg
	}

	client := httpclient.New(cfg.GetHTTPTimeout())
	resolver := discovery.NewResolver(client,
		discovery.WithAttemptTimeout(cfg.GetDiscoveryTimeout()),
		discovery.WithMetrics(m),
	)
	exchanger := token.NewExchanger(client, token.WithExchangerMetrics(m))

	services := Services{
		Auth: auth.NewAuthorizationService(cfg, resolver, flows,
			auth.WithHTTPClient(client),
			auth.WithMetrics(m),
		),
		Backend:     token.NewBackendClient(cfg, resolver, exchanger),
		Diagnostics: diagnostics.NewChecker(cfg, resolver, client),
		Gatherer:    gatherer,
	}
	if p, ok := flows.(pinger); ok {
		services.Ready = func(r *http.Request) error {
			return p.Ping(r.Context())
		}
	}
	return services
}

// CheckStartup logs what the deployment is about to serve. Problems are reported, not fatal:
// the patient flow works without backend keys and diagnostics gives the full picture.
func CheckStartup(cfg config.Config) {
	logger := log.With().Str("component", "startup").Logger()

	if cfg.GetClientID() == "" {
		logger.Warn().Msg("SMART_CLIENT_ID is not set; patient connect is disabled")
	}
	if !cfg.HasBackendCredentials() {
		logger.Info().Msg("no SMART_PRIVATE_KEY configured; backend services flow is disabled")
		return
	}

	ring, err := keys.LoadKeyRing(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("backend key material is invalid")
		return
	}
	for _, kp := range ring.Keys() {
		logger.Info().
			Str("kid", kp.KeyID).
			Bool("kid_derived", kp.DerivedKeyID).
			Int("bits", kp.Bits()).
			Msg("loaded signing key")
	}
	logger.Info().Str("jwks_url", cfg.GetJWKSURL()).Msg("publishing JWKS")
}

// RunFlowJanitor removes expired flow states every interval until ctx is done.
func RunFlowJanitor(ctx context.Context, flows sessions.Repo, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := flows.DeleteExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to delete expired flow states")
				continue
			}
			if n > 0 {
				log.Debug().Int("deleted", n).Msg("deleted expired flow states")
			}
		}
	}
}
