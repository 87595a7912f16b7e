package keys

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs JWT claims with a single key.
type Signer interface {
	// Sign creates a signed JWT from claims
	Sign(claims jwt.MapClaims) (string, error)

	// GetVerificationKey returns the public key for token, for use as a jwt.Keyfunc
	GetVerificationKey(token *jwt.Token) (any, error)

	// GetSigningMethod returns the JWT signing method used
	GetSigningMethod() jwt.SigningMethod

	// KeyID is the kid placed in the JWT header
	KeyID() string
}

// KeyPairSigner implements Signer using RSA with RS384. Every token it signs carries
// the key's kid and, when set, a jku header pointing at the published key set.
type KeyPairSigner struct {
	keyPair *KeyPair
	jwksURL string
}

// NewKeyPairSigner creates a new key pair signer with the given key pair
func NewKeyPairSigner(keyPair *KeyPair, jwksURL string) *KeyPairSigner {
	return &KeyPairSigner{
		keyPair: keyPair,
		jwksURL: jwksURL,
	}
}

func (a *KeyPairSigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(a.keyPair.GetSigningMethod(), claims)
	token.Header["kid"] = a.keyPair.KeyID
	if a.jwksURL != "" {
		token.Header["jku"] = a.jwksURL
	}

	signedToken, err := token.SignedString(a.keyPair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with asymmetric key: %w", err)
	}
	return signedToken, nil
}

func (a *KeyPairSigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.keyPair.PublicKey, nil
}

func (a *KeyPairSigner) GetSigningMethod() jwt.SigningMethod {
	return a.keyPair.GetSigningMethod()
}

func (a *KeyPairSigner) KeyID() string {
	return a.keyPair.KeyID
}

func (a *KeyPairSigner) JWKSURL() string {
	return a.jwksURL
}
