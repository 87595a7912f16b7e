package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/jrsteele09/go-smart-auth/oauthmodel"
	"golang.org/x/oauth2"
)

// verifierEntropyBytes gives 256 bits of entropy and a 43 character verifier.
const verifierEntropyBytes = 32

// randReader is swapped in tests to simulate a failing random source.
var randReader io.Reader = rand.Reader

// PKCEPair is the proof key for one connect attempt. The verifier is kept until the code
// exchange; the challenge is only needed for the authorization redirect.
type PKCEPair struct {
	Verifier  string
	Challenge string
	Method    oauthmodel.CodeMethodType
}

// GeneratePKCE creates a new S256 verifier/challenge pair. A failing random source is returned
// as an error; there is no fallback to a weaker source.
func GeneratePKCE() (*PKCEPair, error) {
	verifier, err := randomToken(verifierEntropyBytes)
	if err != nil {
		return nil, fmt.Errorf("[auth.GeneratePKCE] %w", err)
	}
	return &PKCEPair{
		Verifier:  verifier,
		Challenge: ComputeChallenge(verifier),
		Method:    oauthmodel.CodeMethodTypeS256,
	}, nil
}

// ComputeChallenge returns BASE64URL(SHA256(verifier)) without padding.
func ComputeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// randomToken returns n random bytes as unpadded base64url.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", fmt.Errorf("reading random source: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
