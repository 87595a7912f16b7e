package server

// Route path constants
const (
	// Patient connect flow
	RouteConnect    = "/smart/connect"
	RouteAPIConnect = "/api/smart/connect"
	RouteCallback   = "/smart/callback"

	// Backend services and operations
	RouteAPIBackendToken = "/api/smart/backend/token"
	RouteAPIDiagnostics  = "/api/smart/diagnostics"

	// Published key set
	RouteWellKnownJWKS = "/.well-known/jwks.json"

	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)
