package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config interface {
	EnvConfig
	CorsConfig
	SMARTConfig
	KeyConfig
	SecurityConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
	GetLogFormat() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type StorageConfig interface {
	GetRedisURL() string
	GetSessionTTL() time.Duration
}

type mainConfig struct {
	EnvVars
	Cors
	SMART
	Keys
	Security
	Storage
}

// New returns a Config backed by environment variables only.
func New() Config {
	return newConfig(newViper())
}

// Load returns a Config backed by environment variables and, when configFile is not empty,
// the given file (.env, yaml, json or toml). Environment variables take precedence.
func Load(configFile string) (Config, error) {
	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("[config.Load] reading %s: %w", configFile, err)
		}
	}
	return newConfig(v), nil
}

// FromViper wraps an existing viper instance, mainly so tests can set values directly.
func FromViper(v *viper.Viper) Config {
	setDefaults(v)
	return newConfig(v)
}

func newConfig(v *viper.Viper) Config {
	return mainConfig{
		EnvVars:  EnvVars{v: v},
		Cors:     Cors{v: v},
		SMART:    SMART{v: v},
		Keys:     Keys{v: v},
		Security: Security{v: v},
		Storage:  Storage{v: v},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(portEnvVar, "8080")
	v.SetDefault(appNameVar, "SMART Connect")
	v.SetDefault(envVar, "DEV")
	v.SetDefault(baseURLVar, "http://localhost:8080")
	v.SetDefault(logLevelVar, "info")
	v.SetDefault(logFormatVar, "console")
	v.SetDefault(corsOriginsVar, "")
	v.SetDefault(scopesVar, DefaultPatientScopes)
	v.SetDefault(backendScopesVar, DefaultBackendScopes)
	v.SetDefault(discoveryTimeoutVar, DefaultDiscoveryTimeout)
	v.SetDefault(httpTimeoutVar, DefaultHTTPTimeout)
	v.SetDefault(assertionLifetimeVar, DefaultAssertionLifetime)
	v.SetDefault(allowMissingStateVar, false)
	v.SetDefault(sessionTTLVar, 10*time.Minute)
}

// Storage holds the flow-state store settings.
type Storage struct{ v *viper.Viper }

var _ StorageConfig = Storage{}

func (s Storage) GetRedisURL() string {
	return s.v.GetString(redisURLVar)
}

func (s Storage) GetSessionTTL() time.Duration {
	return s.v.GetDuration(sessionTTLVar)
}
