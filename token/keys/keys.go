package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWT algorithms (string values used in JWKs and headers)
const RS384 = "RS384"

const (
	// MinRSABits is the smallest modulus accepted for signing keys.
	MinRSABits = 2048

	// keyIDLength is the number of hex characters kept from the public key hash.
	keyIDLength = 16
)

// KeyPair represents a public/private key pair for signing client assertions
type KeyPair struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	Algorithm  string

	// DerivedKeyID is true when KeyID was computed from the public key rather than configured.
	DerivedKeyID bool
}

// GenerateRSAKeyPair generates a new RSA key pair for RS384 signing. An empty keyID is derived from the public key.
func GenerateRSAKeyPair(keyID string, bits int) (*KeyPair, error) {
	if bits < MinRSABits {
		bits = MinRSABits
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return newKeyPair(keyID, privateKey)
}

// LoadKeyPair normalizes and parses pemData and pairs it with keyID, deriving the ID when keyID is empty.
func LoadKeyPair(keyID, pemData string) (*KeyPair, error) {
	privateKey, err := LoadRSAPrivateKey(pemData)
	if err != nil {
		return nil, err
	}
	return newKeyPair(keyID, privateKey)
}

func newKeyPair(keyID string, privateKey *rsa.PrivateKey) (*KeyPair, error) {
	kp := &KeyPair{
		KeyID:      strings.TrimSpace(keyID),
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Algorithm:  RS384,
	}
	if kp.KeyID == "" {
		kid, err := DeriveKeyID(kp.PublicKey)
		if err != nil {
			return nil, err
		}
		kp.KeyID = kid
		kp.DerivedKeyID = true
	}
	return kp, nil
}

// NormalizePEM turns an environment-safe PEM string back into a parseable one.
// Literal "\n" sequences become newlines and surrounding quotes are dropped.
func NormalizePEM(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s) + "\n"
}

// LoadRSAPrivateKey parses a PKCS#1 or PKCS#8 RSA private key. Keys below MinRSABits are rejected.
func LoadRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	const op = "keys.LoadRSAPrivateKey"

	if strings.TrimSpace(pemData) == "" {
		return nil, autherrors.New(autherrors.ErrKeyMaterial, op, "private key is empty")
	}

	block, _ := pem.Decode([]byte(NormalizePEM(pemData)))
	if block == nil {
		return nil, autherrors.New(autherrors.ErrKeyMaterial, op,
			"failed to decode PEM block; check the BEGIN/END lines and that newlines are escaped as \\n")
	}

	var privKey *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, autherrors.Wrap(autherrors.ErrKeyMaterial, op, err, "failed to parse PKCS#1 RSA private key")
		}
		privKey = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, autherrors.Wrap(autherrors.ErrKeyMaterial, op, err, "failed to parse PKCS#8 private key")
		}
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, autherrors.Newf(autherrors.ErrKeyMaterial, op, "private key is %T, RS384 requires an RSA key", k)
		}
		privKey = rsaKey
	default:
		return nil, autherrors.Newf(autherrors.ErrKeyMaterial, op, "unsupported PEM block type %q", block.Type)
	}

	if bits := privKey.N.BitLen(); bits < MinRSABits {
		return nil, autherrors.Newf(autherrors.ErrKeyMaterial, op,
			"RSA key is %d bits, at least %d bits are required", bits, MinRSABits)
	}
	return privKey, nil
}

// DeriveKeyID returns a stable identifier for pub: the first 16 hex characters of SHA-256 over its PKIX DER encoding.
func DeriveKeyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", autherrors.Wrap(autherrors.ErrKeyMaterial, "keys.DeriveKeyID", err, "failed to marshal public key")
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:keyIDLength], nil
}

// GetSigningMethod returns the JWT signing method for this key pair
func (kp *KeyPair) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodRS384
}

// Bits returns the modulus length of the key.
func (kp *KeyPair) Bits() int {
	return kp.PublicKey.N.BitLen()
}

// ExportPublicKeyPEM exports the public key as PEM
func (kp *KeyPair) ExportPublicKeyPEM() (string, error) {
	pubKeyBytes, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pubKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubKeyBytes,
	})

	return string(pubKeyPEM), nil
}

// ExportPrivateKeyPEM exports the RSA private key as PKCS#8 PEM
func (kp *KeyPair) ExportPrivateKeyPEM() (string, error) {
	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privateKeyBytes,
	})

	return string(privateKeyPEM), nil
}

// ToJWK converts the key pair's public key to a JWK carrying kid, alg and use.
func (kp *KeyPair) ToJWK() (jwk.Key, error) {
	key, err := jwk.Import(kp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK from public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kp.KeyID); err != nil {
		return nil, fmt.Errorf("failed to set key ID: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, kp.Algorithm); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set key usage: %w", err)
	}
	return key, nil
}
