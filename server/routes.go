package server

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// Patient connect flow (browser)
	s.RegisterRouteHandler("GET "+RouteConnect, ChainMiddleware(s.ConnectHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.BrowserMiddleware()...))

	// JSON API
	s.RegisterRouteHandler("GET "+RouteAPIConnect, ChainMiddleware(s.ConnectAPIHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS "+RouteAPIConnect, ChainMiddleware(noContent, s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIBackendToken, ChainMiddleware(s.BackendTokenHandler(), s.APIMiddleware(s.RequireAdminToken)...))
	s.RegisterRouteHandler("GET "+RouteAPIDiagnostics, ChainMiddleware(s.DiagnosticsHandler(), s.APIMiddleware(s.RequireAdminToken)...))

	s.RegisterRouteHandler("GET "+RouteWellKnownJWKS, ChainMiddleware(s.JWKSHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.RecoverMiddleware))

	if s.services.Gatherer != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.services.Gatherer, promhttp.HandlerOpts{}))
	}
}
