package config

import "github.com/spf13/viper"

const (
	allowMissingStateVar = "SMART_ALLOW_MISSING_STATE"
	adminTokenVar        = "SMART_ADMIN_TOKEN"
)

type SecurityConfig interface {
	// GetAllowMissingState reports whether a callback may pass state verification when no state
	// was stored for the session. Legacy compatibility only; off by default.
	GetAllowMissingState() bool

	// GetAdminToken is the bearer token required by the backend token and diagnostics routes.
	GetAdminToken() string
}

type Security struct{ v *viper.Viper }

var _ SecurityConfig = Security{}

func (s Security) GetAllowMissingState() bool {
	return s.v.GetBool(allowMissingStateVar)
}

func (s Security) GetAdminToken() string {
	return s.v.GetString(adminTokenVar)
}
