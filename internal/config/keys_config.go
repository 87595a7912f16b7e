package config

import "github.com/spf13/viper"

const (
	privateKeyVar         = "SMART_PRIVATE_KEY"
	keyIDVar              = "SMART_KEY_ID"
	rotationPrivateKeyVar = "SMART_ROTATION_PRIVATE_KEY"
	rotationKeyIDVar      = "SMART_ROTATION_KEY_ID"
	signingKeyIDVar       = "SMART_SIGNING_KEY_ID"
	jwksURLVar            = "SMART_JWKS_URL"

	// JWKSPath is where this deployment publishes its key set.
	JWKSPath = "/.well-known/jwks.json"
)

type KeyConfig interface {
	GetPrivateKeyPEM() string
	GetKeyID() string
	GetRotationPrivateKeyPEM() string
	GetRotationKeyID() string
	GetSigningKeyID() string
	GetJWKSURL() string
	HasBackendCredentials() bool
}

type Keys struct{ v *viper.Viper }

var _ KeyConfig = Keys{}

func (k Keys) GetPrivateKeyPEM() string {
	return k.v.GetString(privateKeyVar)
}

func (k Keys) GetKeyID() string {
	return k.v.GetString(keyIDVar)
}

func (k Keys) GetRotationPrivateKeyPEM() string {
	return k.v.GetString(rotationPrivateKeyVar)
}

func (k Keys) GetRotationKeyID() string {
	return k.v.GetString(rotationKeyIDVar)
}

// GetSigningKeyID selects which key ring entry signs assertions. Empty means the primary key.
func (k Keys) GetSigningKeyID() string {
	return k.v.GetString(signingKeyIDVar)
}

// GetJWKSURL returns the explicit SMART_JWKS_URL, or BASE_URL + JWKSPath.
func (k Keys) GetJWKSURL() string {
	if u := k.v.GetString(jwksURLVar); u != "" {
		return u
	}
	return EnvVars{v: k.v}.GetBaseURL() + JWKSPath
}

func (k Keys) HasBackendCredentials() bool {
	return k.GetPrivateKeyPEM() != ""
}
