package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	portEnvVar   = "PORT"
	appNameVar   = "APP_NAME"
	envVar       = "ENV"
	baseURLVar   = "BASE_URL"
	logLevelVar  = "LOG_LEVEL"
	logFormatVar = "LOG_FORMAT"
	redisURLVar  = "REDIS_URL"

	sessionTTLVar = "SESSION_TTL"
)

type EnvVars struct{ v *viper.Viper }

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.v.GetString(portEnvVar)
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.v.GetString(appNameVar)
}

func (e EnvVars) GetEnv() string {
	return e.v.GetString(envVar)
}

// GetBaseURL returns the public base URL of this deployment (e.g., "https://connect.example.com").
// It is used to derive the JWKS publication URL when SMART_JWKS_URL is not set.
func (e EnvVars) GetBaseURL() string {
	return strings.TrimRight(e.v.GetString(baseURLVar), "/")
}

func (e EnvVars) GetLogLevel() string {
	return e.v.GetString(logLevelVar)
}

func (e EnvVars) GetLogFormat() string {
	return e.v.GetString(logFormatVar)
}
