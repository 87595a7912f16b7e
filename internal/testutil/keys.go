// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-smart-auth/internal/config"
)

// RSAKey generates an RSA key of the given size.
func RSAKey(t testing.TB, bits int) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)
	return key
}

// PKCS1PEM encodes key as an "RSA PRIVATE KEY" block.
func PKCS1PEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

// PKCS8PEM encodes key as a "PRIVATE KEY" block.
func PKCS8PEM(t testing.TB, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

// EscapeNewlines renders pem the way it usually appears in a single-line environment variable.
func EscapeNewlines(pem string) string {
	return strings.ReplaceAll(strings.TrimSpace(pem), "\n", `\n`)
}

// Config builds a Config from explicit values with the usual defaults applied.
func Config(values map[string]any) config.Config {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return config.FromViper(v)
}
