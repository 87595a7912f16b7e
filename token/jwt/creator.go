package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/jrsteele09/go-smart-auth/token/keys"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	// DefaultAssertionLifetime leaves a minute of margin under MaxAssertionLifetime.
	DefaultAssertionLifetime = 4 * time.Minute

	// MaxAssertionLifetime is the longest lifetime SMART authorization servers accept.
	MaxAssertionLifetime = 5 * time.Minute
)

// Creator builds client assertions for the JWT-bearer client credentials grant.
type Creator struct {
	lifetime time.Duration
}

// NewCreator creates a new assertion creator. Lifetimes outside (0, MaxAssertionLifetime] are clamped.
func NewCreator(lifetime time.Duration) *Creator {
	switch {
	case lifetime <= 0:
		lifetime = DefaultAssertionLifetime
	case lifetime > MaxAssertionLifetime:
		lifetime = MaxAssertionLifetime
	}
	return &Creator{lifetime: lifetime}
}

// Lifetime returns the exp - iat window applied to every assertion.
func (c *Creator) Lifetime() time.Duration {
	return c.lifetime
}

// CreateClientAssertion signs a single-use assertion identifying clientID to the token endpoint at tokenURL.
// The signer supplies the kid and jku header values.
func (c *Creator) CreateClientAssertion(signer keys.Signer, clientID, tokenURL string) (string, error) {
	const op = "Creator.CreateClientAssertion"

	if clientID == "" {
		return "", autherrors.New(autherrors.ErrConfiguration, op, "client ID is required to sign an assertion")
	}
	if tokenURL == "" {
		return "", autherrors.New(autherrors.ErrConfiguration, op, "token URL is required as the assertion audience")
	}

	now := NowTimeFunc().Unix()
	claims := jwtlib.MapClaims{
		"iss": clientID,                            // The client is both issuer
		"sub": clientID,                            // and subject of its own assertion
		"aud": tokenURL,                            // A single string, not an array; some servers reject arrays
		"jti": uuid.New().String(),                 // Unique per assertion to prevent replay inside the window
		"iat": now,                                 // Issued At
		"nbf": now,                                 // Not Before
		"exp": now + int64(c.lifetime/time.Second), // Expiry
	}

	signed, err := signer.Sign(claims)
	if err != nil {
		return "", autherrors.Wrap(autherrors.ErrKeyMaterial, op, err, fmt.Sprintf("failed to sign assertion with key %s", signer.KeyID()))
	}
	return signed, nil
}
