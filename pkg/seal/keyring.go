package seal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	fingerprintInfo   = "sealpack/key-fingerprint/v1"
	fingerprintPrefix = "kf1-"
	fingerprintBytes  = 16

	orgKeyInfoPrefix = "sealpack/org-key/v1/"
	orgKeyBytes      = 32
)

// Key is an HMAC signing secret plus the identifier recorded in seals.
// The identifier never reveals the secret.
type Key struct {
	ID     string
	Secret []byte
}

// NewKey returns a key for secret. An empty id is replaced by the key's fingerprint.
func NewKey(id string, secret []byte) (Key, error) {
	if len(secret) == 0 {
		return Key{}, ErrMissingKey
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	k := Key{ID: id, Secret: s}
	if k.ID == "" {
		k.ID = Fingerprint(s)
	}
	return k, nil
}

// Empty reports whether the key carries no secret.
func (k Key) Empty() bool {
	return len(k.Secret) == 0
}

// KeyID returns the caller-supplied identifier or, if none, the fingerprint.
func (k Key) KeyID() string {
	if k.ID != "" {
		return k.ID
	}
	if k.Empty() {
		return ""
	}
	return Fingerprint(k.Secret)
}

// Fingerprint derives a non-reversible identifier for secret using
// HKDF-SHA256, so key IDs can be published without leaking key material.
func Fingerprint(secret []byte) string {
	r := hkdf.New(sha256.New, secret, nil, []byte(fingerprintInfo))
	out := make([]byte, fingerprintBytes)
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF-SHA256 only fails past 255*32 bytes of output.
		panic(fmt.Sprintf("seal: fingerprint derivation failed: %v", err))
	}
	return fingerprintPrefix + hex.EncodeToString(out)
}

// DeriveOrgKey derives an organisation-specific key from a master key with
// HKDF-SHA256. The master secret is the IKM and the orgID is bound into the
// info parameter, so each organisation gets a distinct, deterministic key.
func DeriveOrgKey(master Key, orgID string) (Key, error) {
	if master.Empty() {
		return Key{}, ErrMissingKey
	}
	if orgID == "" {
		return Key{}, fmt.Errorf("seal: orgID must not be empty")
	}

	r := hkdf.New(sha256.New, master.Secret, nil, []byte(orgKeyInfoPrefix+orgID))
	secret := make([]byte, orgKeyBytes)
	if _, err := io.ReadFull(r, secret); err != nil {
		return Key{}, fmt.Errorf("seal: org key derivation failed: %w", err)
	}
	return NewKey("", secret)
}

// Keyring holds verification keys by ID with an optional default signing key.
type Keyring struct {
	mu        sync.RWMutex
	keys      map[string]Key
	defaultID string
}

func NewKeyring(keys ...Key) (*Keyring, error) {
	kr := &Keyring{keys: make(map[string]Key, len(keys))}
	for _, k := range keys {
		if err := kr.Add(k); err != nil {
			return nil, err
		}
	}
	return kr, nil
}

// Add registers k. IDs must be unique within the ring.
func (r *Keyring) Add(k Key) error {
	if k.Empty() {
		return ErrMissingKey
	}
	id := k.KeyID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.keys[id]; exists {
		return fmt.Errorf("seal: duplicate key id %q", id)
	}
	k.ID = id
	r.keys[id] = k
	return nil
}

// SetDefault marks the key used for signing when no key is named explicitly.
func (r *Keyring) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		return fmt.Errorf("seal: unknown key id %q", id)
	}
	r.defaultID = id
	return nil
}

// Lookup returns the key registered under id.
func (r *Keyring) Lookup(id string) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[id]
	return k, ok
}

// Default returns the default signing key, or ErrMissingKey if none is set.
func (r *Keyring) Default() (Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultID == "" {
		return Key{}, ErrMissingKey
	}
	return r.keys[r.defaultID], nil
}

// IDs lists registered key IDs in sorted order.
func (r *Keyring) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
