package keys

import (
	"fmt"

	"github.com/jrsteele09/go-smart-auth/internal/config"
	autherrors "github.com/jrsteele09/go-smart-auth/internal/errors"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// KeyRing is an ordered, immutable list of valid signing keys: the primary key first,
// followed by any staged rotation keys. Signing always uses an explicitly selected entry.
type KeyRing struct {
	entries []*KeyPair
}

// NewKeyRing builds a key ring. Key IDs must be distinct.
func NewKeyRing(primary *KeyPair, rotation ...*KeyPair) (*KeyRing, error) {
	if primary == nil {
		return nil, autherrors.New(autherrors.ErrConfiguration, "keys.NewKeyRing", "a primary signing key is required")
	}

	seen := map[string]bool{primary.KeyID: true}
	entries := []*KeyPair{primary}
	for _, kp := range rotation {
		if kp == nil {
			continue
		}
		if seen[kp.KeyID] {
			return nil, autherrors.Newf(autherrors.ErrKeyMaterial, "keys.NewKeyRing",
				"key ID %q is used by more than one key; rotation keys need a distinct kid", kp.KeyID)
		}
		seen[kp.KeyID] = true
		entries = append(entries, kp)
	}
	return &KeyRing{entries: entries}, nil
}

// LoadKeyRing reads the primary and optional rotation key from configuration.
// The ring is built fresh on each call; callers that sign should load it per operation.
func LoadKeyRing(cfg config.KeyConfig) (*KeyRing, error) {
	const op = "keys.LoadKeyRing"

	if !cfg.HasBackendCredentials() {
		return nil, autherrors.New(autherrors.ErrConfiguration, op, "SMART_PRIVATE_KEY is not set")
	}

	primary, err := LoadKeyPair(cfg.GetKeyID(), cfg.GetPrivateKeyPEM())
	if err != nil {
		return nil, fmt.Errorf("[%s] primary key: %w", op, err)
	}

	var rotation *KeyPair
	if cfg.GetRotationPrivateKeyPEM() != "" {
		rotation, err = LoadKeyPair(cfg.GetRotationKeyID(), cfg.GetRotationPrivateKeyPEM())
		if err != nil {
			return nil, fmt.Errorf("[%s] rotation key: %w", op, err)
		}
	}
	return NewKeyRing(primary, rotation)
}

// Primary returns the first key in the ring.
func (r *KeyRing) Primary() *KeyPair {
	return r.entries[0]
}

// Rotation returns the staged rotation key, if any.
func (r *KeyRing) Rotation() (*KeyPair, bool) {
	if len(r.entries) < 2 {
		return nil, false
	}
	return r.entries[1], true
}

// Keys returns a copy of the ring entries in order.
func (r *KeyRing) Keys() []*KeyPair {
	return append([]*KeyPair(nil), r.entries...)
}

// Select returns the entry with the given key ID. An empty ID selects the primary key.
func (r *KeyRing) Select(keyID string) (*KeyPair, error) {
	if keyID == "" {
		return r.Primary(), nil
	}
	for _, kp := range r.entries {
		if kp.KeyID == keyID {
			return kp, nil
		}
	}
	return nil, autherrors.Newf(autherrors.ErrConfiguration, "KeyRing.Select",
		"signing key %q is not in the key ring", keyID)
}

// JWKS returns the public half of every key in the ring as a JSON Web Key Set.
func (r *KeyRing) JWKS() (jwk.Set, error) {
	set := jwk.NewSet()
	for _, kp := range r.entries {
		key, err := kp.ToJWK()
		if err != nil {
			return nil, fmt.Errorf("[KeyRing.JWKS] %s: %w", kp.KeyID, err)
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("[KeyRing.JWKS] failed to add key %s: %w", kp.KeyID, err)
		}
	}
	return set, nil
}
