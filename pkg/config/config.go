// Package config loads sealpack configuration from SEALPACK_* environment
// variables and an optional YAML keyring file.
package config

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/sealpack/pkg/observability"
	"github.com/Mindburn-Labs/sealpack/pkg/seal"
)

// ErrKeyConflict reports SEALPACK_SEAL_KEY reusing a keyring file key ID
// with a different secret.
var ErrKeyConflict = errors.New("config: seal key conflicts with keyring")

// Config holds process configuration.
type Config struct {
	LogLevel  string `env:"SEALPACK_LOG_LEVEL"  envDefault:"INFO"`
	LogFormat string `env:"SEALPACK_LOG_FORMAT" envDefault:"text"`

	// SealKey is the hex-encoded signing secret. SealKeyID names it; when
	// empty the key fingerprint is used.
	SealKey   string `env:"SEALPACK_SEAL_KEY"`
	SealKeyID string `env:"SEALPACK_SEAL_KEY_ID"`
	Algorithm string `env:"SEALPACK_SEAL_ALGORITHM" envDefault:"HMAC-SHA256"`
	OrgKeys   bool   `env:"SEALPACK_ORG_KEYS"`

	KeyringFile string `env:"SEALPACK_KEYRING_FILE"`

	VerifyWorkers int `env:"SEALPACK_VERIFY_WORKERS" envDefault:"4"`

	TelemetryEnabled  bool          `env:"SEALPACK_OTEL_ENABLED"`
	OTLPEndpoint      string        `env:"SEALPACK_OTEL_ENDPOINT"       envDefault:"localhost:4317"`
	OTLPInsecure      bool          `env:"SEALPACK_OTEL_INSECURE"`
	TraceSampleRate   float64       `env:"SEALPACK_OTEL_SAMPLE_RATE"    envDefault:"1.0"`
	TraceBatchTimeout time.Duration `env:"SEALPACK_OTEL_BATCH_TIMEOUT"  envDefault:"5s"`
	Environment       string        `env:"SEALPACK_ENVIRONMENT"         envDefault:"development"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if _, err := seal.ParseAlgorithm(cfg.Algorithm); err != nil {
		return nil, fmt.Errorf("config: SEALPACK_SEAL_ALGORITHM: %w", err)
	}
	if cfg.VerifyWorkers < 1 {
		return nil, fmt.Errorf("config: SEALPACK_VERIFY_WORKERS must be positive, got %d", cfg.VerifyWorkers)
	}
	return &cfg, nil
}

// SealAlgorithm returns the configured seal algorithm.
func (c *Config) SealAlgorithm() seal.Algorithm {
	alg, err := seal.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return seal.DefaultAlgorithm
	}
	return alg
}

// SigningKey returns the key used to seal packs: SEALPACK_SEAL_KEY if set,
// otherwise the keyring default. There is no built-in fallback.
func (c *Config) SigningKey() (seal.Key, error) {
	if c.SealKey != "" {
		secret, err := hex.DecodeString(c.SealKey)
		if err != nil {
			return seal.Key{}, fmt.Errorf("config: SEALPACK_SEAL_KEY is not hex: %w", err)
		}
		if c.KeyringFile != "" {
			if _, err := c.Keyring(); err != nil {
				return seal.Key{}, err
			}
		}
		return seal.NewKey(c.SealKeyID, secret)
	}
	if c.KeyringFile == "" {
		return seal.Key{}, fmt.Errorf("config: %w: set SEALPACK_SEAL_KEY or SEALPACK_KEYRING_FILE", seal.ErrMissingKey)
	}
	kr, err := c.Keyring()
	if err != nil {
		return seal.Key{}, err
	}
	return kr.Default()
}

// Keyring returns the verification keyring: the keyring file's keys plus
// SEALPACK_SEAL_KEY when set. An empty keyring is not an error.
func (c *Config) Keyring() (*seal.Keyring, error) {
	var kr *seal.Keyring
	var err error
	if c.KeyringFile != "" {
		kr, err = LoadKeyringFile(c.KeyringFile)
	} else {
		kr, err = seal.NewKeyring()
	}
	if err != nil {
		return nil, err
	}
	if c.SealKey != "" {
		secret, err := hex.DecodeString(c.SealKey)
		if err != nil {
			return nil, fmt.Errorf("config: SEALPACK_SEAL_KEY is not hex: %w", err)
		}
		k, err := seal.NewKey(c.SealKeyID, secret)
		if err != nil {
			return nil, err
		}
		if existing, exists := kr.Lookup(k.ID); exists {
			if subtle.ConstantTimeCompare(existing.Secret, k.Secret) != 1 {
				return nil, fmt.Errorf("%w: key id %q has a different secret in %s", ErrKeyConflict, k.ID, c.KeyringFile)
			}
		} else if err := kr.Add(k); err != nil {
			return nil, err
		}
		if _, err := kr.Default(); errors.Is(err, seal.ErrMissingKey) {
			if err := kr.SetDefault(k.ID); err != nil {
				return nil, err
			}
		}
	}
	return kr, nil
}

// Observability returns the telemetry configuration.
func (c *Config) Observability() *observability.Config {
	oc := observability.DefaultConfig()
	oc.Enabled = c.TelemetryEnabled
	oc.OTLPEndpoint = c.OTLPEndpoint
	oc.Insecure = c.OTLPInsecure
	oc.SampleRate = c.TraceSampleRate
	oc.BatchTimeout = c.TraceBatchTimeout
	oc.Environment = c.Environment
	return oc
}

// Logger builds a slog logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// keyringFile is the on-disk keyring layout:
//
//	default: k-2025
//	keys:
//	  - id: k-2025
//	    secret: 6b6579...   # hex
type keyringFile struct {
	Default string `yaml:"default"`
	Keys    []struct {
		ID     string `yaml:"id"`
		Secret string `yaml:"secret"`
	} `yaml:"keys"`
}

// LoadKeyringFile reads a YAML keyring. Unknown fields are rejected.
func LoadKeyringFile(path string) (*seal.Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open keyring: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseKeyring(f)
}

// ParseKeyring decodes a YAML keyring from r.
func ParseKeyring(r io.Reader) (*seal.Keyring, error) {
	var kf keyringFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&kf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode keyring: %w", err)
	}

	kr, err := seal.NewKeyring()
	if err != nil {
		return nil, err
	}
	for i, entry := range kf.Keys {
		secret, err := hex.DecodeString(entry.Secret)
		if err != nil {
			return nil, fmt.Errorf("config: keyring entry %d: secret is not hex: %w", i, err)
		}
		k, err := seal.NewKey(entry.ID, secret)
		if err != nil {
			return nil, fmt.Errorf("config: keyring entry %d: %w", i, err)
		}
		if err := kr.Add(k); err != nil {
			return nil, fmt.Errorf("config: keyring entry %d: %w", i, err)
		}
	}
	if kf.Default != "" {
		if err := kr.SetDefault(kf.Default); err != nil {
			return nil, fmt.Errorf("config: keyring default: %w", err)
		}
	}
	return kr, nil
}
