// Package metrics holds the Prometheus collectors for discovery and token exchange.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smart_auth"

// Metrics groups the counters recorded by the authorization core. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	discoveryResolutions *prometheus.CounterVec
	discoveryAttempts    *prometheus.CounterVec
	tokenExchanges       *prometheus.CounterVec
	stateVerifications   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		discoveryResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_resolutions_total",
			Help:      "Endpoint discovery results by resolution method.",
		}, []string{"method"}),
		discoveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_attempts_total",
			Help:      "Individual discovery strategy attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		tokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "Backend token exchanges by outcome.",
		}, []string{"outcome"}),
		stateVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_verifications_total",
			Help:      "Callback state verifications by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.discoveryResolutions, m.discoveryAttempts, m.tokenExchanges, m.stateVerifications)
	return m
}

func (m *Metrics) DiscoveryResolved(method string) {
	if m == nil {
		return
	}
	m.discoveryResolutions.WithLabelValues(method).Inc()
}

func (m *Metrics) DiscoveryAttempt(strategy, outcome string) {
	if m == nil {
		return
	}
	m.discoveryAttempts.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) TokenExchange(outcome string) {
	if m == nil {
		return
	}
	m.tokenExchanges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StateVerification(outcome string) {
	if m == nil {
		return
	}
	m.stateVerifications.WithLabelValues(outcome).Inc()
}
