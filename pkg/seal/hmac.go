// Package seal provides the keyed-MAC primitives behind evidence pack seals.
//
// The algorithm set is closed: a seal naming any other algorithm is rejected,
// never verified on a best-effort basis. Keys are opaque secrets supplied by
// the caller; there is no built-in or default key.
package seal

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// Algorithm identifies a seal MAC scheme.
type Algorithm string

const (
	HMACSHA256 Algorithm = "HMAC-SHA256"
	HMACSHA512 Algorithm = "HMAC-SHA512"
)

// DefaultAlgorithm is used when a caller does not pick one.
const DefaultAlgorithm = HMACSHA256

var (
	// ErrMissingKey is returned when sealing or signing is attempted without key material.
	ErrMissingKey = errors.New("seal: no signing key supplied")
	// ErrUnsupportedAlgorithm is returned for algorithm names outside the closed set.
	ErrUnsupportedAlgorithm = errors.New("seal: unsupported algorithm")
)

var algorithms = map[Algorithm]func() hash.Hash{
	HMACSHA256: sha256.New,
	HMACSHA512: sha512.New,
}

// ParseAlgorithm maps a wire name onto a supported algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(name)
	if !a.Supported() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return a, nil
}

// Supported reports whether a is in the closed algorithm set.
func (a Algorithm) Supported() bool {
	_, ok := algorithms[a]
	return ok
}

func (a Algorithm) String() string { return string(a) }

// Sign returns the lowercase hex MAC of msg under key.
func Sign(alg Algorithm, key Key, msg []byte) (string, error) {
	tag, err := mac(alg, key, msg)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(tag), nil
}

// Verify recomputes the MAC of msg and compares it with signature in
// constant time. A malformed signature is reported as a mismatch.
func Verify(alg Algorithm, key Key, msg []byte, signature string) (bool, error) {
	expected, err := mac(alg, key, msg)
	if err != nil {
		return false, err
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	return hmac.Equal(expected, got), nil
}

func mac(alg Algorithm, key Key, msg []byte) ([]byte, error) {
	newHash, ok := algorithms[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if key.Empty() {
		return nil, ErrMissingKey
	}
	m := hmac.New(newHash, key.Secret)
	m.Write(msg)
	return m.Sum(nil), nil
}
