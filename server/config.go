package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddress  = ":8080"
	defaultDataDir        = "/var/lib/apksignd"
	defaultMaxUploadBytes = 100 * 1024 * 1024
	defaultRetention      = 24 * time.Hour
	defaultMaxEntries     = 1000
	defaultSignTimeout    = 2 * time.Minute
	defaultSignerTool     = "jarsigner"
	defaultMetricsPort    = 9090
	defaultRatePerMinute  = 60
	defaultRateBurst      = 10

	envListenAddress  = "APKSIGND_LISTEN_ADDRESS"
	envDataDir        = "APKSIGND_DATA_DIR"
	envAuthToken      = "APKSIGND_AUTH_TOKEN"
	envMaxUploadBytes = "APKSIGND_MAX_UPLOAD_BYTES"
	envRetentionHours = "APKSIGND_RETENTION_HOURS"
	envMaxEntries     = "APKSIGND_STORE_MAX_ENTRIES"
	envSignTimeout    = "APKSIGND_SIGN_TIMEOUT"
	envSignerTool     = "APKSIGND_SIGNER_TOOL"
	envKeystorePath   = "APKSIGND_KEYSTORE_PATH"
	envKeystorePass   = "APKSIGND_KEYSTORE_PASSPHRASE"
	envKeyAlias       = "APKSIGND_KEY_ALIAS"
	envKeyPass        = "APKSIGND_KEY_PASSPHRASE"
	envMetricsPort    = "APKSIGND_METRICS_PORT"
	envRatePerMinute  = "APKSIGND_RATE_LIMIT_PER_MINUTE"
	envRateBurst      = "APKSIGND_RATE_LIMIT_BURST"
)

// Config of the signing service. It is captured once at startup and passed
// explicitly to every component; nothing reads the environment after LoadConfig.
type Config struct {
	// ListenAddress is the HTTP API bind address
	ListenAddress string
	// DataDir is the root under which the incoming and signed stores live
	DataDir string
	// AuthToken is the static bearer credential required on API requests
	AuthToken string
	// MaxUploadBytes is the hard per-upload size ceiling
	MaxUploadBytes int64
	// Retention bounds the lifetime of every artifact in both stores
	Retention time.Duration
	// StoreMaxEntries caps the number of entries per managed store directory
	StoreMaxEntries int
	// SignTimeout bounds a single external signer invocation
	SignTimeout time.Duration
	// MetricsPort is the port the prometheus endpoint is exposed on
	MetricsPort int
	// RateLimitPerMinute is the per-client request budget of the HTTP API
	RateLimitPerMinute int
	// RateLimitBurst is the per-client burst allowance
	RateLimitBurst int

	Keystore KeystoreConfig
}

// KeystoreConfig holds the external signing tool parameters. Passphrases are
// handed to the child process environment and must never be logged.
type KeystoreConfig struct {
	// Tool is the signing executable, looked up on PATH when not absolute
	Tool string
	// Path is the keystore file location
	Path string
	// Passphrase unlocks the keystore
	Passphrase string
	// KeyAlias selects the signing key inside the keystore
	KeyAlias string
	// KeyPassphrase unlocks the selected key
	KeyPassphrase string
}

// IncomingDir returns the directory of the incoming store.
func (c *Config) IncomingDir() string {
	return filepath.Join(c.DataDir, "incoming")
}

// SignedDir returns the directory of the signed store.
func (c *Config) SignedDir() string {
	return filepath.Join(c.DataDir, "signed")
}

// LoadConfig builds a Config from environment variables. It fails when any of
// the keystore credentials or the auth token are absent or malformed, so a
// misconfigured deployment refuses to start instead of failing per request.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddress:      envOrDefault(envListenAddress, defaultListenAddress),
		DataDir:            envOrDefault(envDataDir, defaultDataDir),
		MaxUploadBytes:     defaultMaxUploadBytes,
		Retention:          defaultRetention,
		StoreMaxEntries:    defaultMaxEntries,
		SignTimeout:        defaultSignTimeout,
		MetricsPort:        defaultMetricsPort,
		RateLimitPerMinute: defaultRatePerMinute,
		RateLimitBurst:     defaultRateBurst,
		Keystore: KeystoreConfig{
			Tool: envOrDefault(envSignerTool, defaultSignerTool),
		},
	}

	if !filepath.IsAbs(cfg.DataDir) {
		return nil, fmt.Errorf("%s should point to an absolute path, e.g. /var/lib/apksignd", envDataDir)
	}

	token, ok := os.LookupEnv(envAuthToken)
	if !ok || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%s environment variable is required", envAuthToken)
	}
	cfg.AuthToken = token

	if err := loadKeystoreConfig(&cfg.Keystore); err != nil {
		return nil, err
	}

	if raw, ok := os.LookupEnv(envMaxUploadBytes); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%s environment variable is invalid: %q", envMaxUploadBytes, raw)
		}
		cfg.MaxUploadBytes = v
	}

	if raw, ok := os.LookupEnv(envRetentionHours); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%s environment variable is invalid: %q", envRetentionHours, raw)
		}
		cfg.Retention = time.Duration(v) * time.Hour
	}

	if raw, ok := os.LookupEnv(envMaxEntries); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%s environment variable is invalid: %q", envMaxEntries, raw)
		}
		cfg.StoreMaxEntries = v
	}

	if raw, ok := os.LookupEnv(envSignTimeout); ok {
		v, err := time.ParseDuration(raw)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%s environment variable is invalid: %q", envSignTimeout, raw)
		}
		cfg.SignTimeout = v
	}

	if raw, ok := os.LookupEnv(envMetricsPort); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 65535 {
			return nil, fmt.Errorf("%s environment variable is invalid: %q", envMetricsPort, raw)
		}
		cfg.MetricsPort = v
	}

	if raw, ok := os.LookupEnv(envRatePerMinute); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%s environment variable is invalid: %q", envRatePerMinute, raw)
		}
		cfg.RateLimitPerMinute = v
	}

	if raw, ok := os.LookupEnv(envRateBurst); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%s environment variable is invalid: %q", envRateBurst, raw)
		}
		cfg.RateLimitBurst = v
	}

	return cfg, nil
}

func loadKeystoreConfig(ks *KeystoreConfig) error {
	required := []struct {
		env    string
		target *string
	}{
		{envKeystorePath, &ks.Path},
		{envKeystorePass, &ks.Passphrase},
		{envKeyAlias, &ks.KeyAlias},
		{envKeyPass, &ks.KeyPassphrase},
	}
	for _, r := range required {
		v, ok := os.LookupEnv(r.env)
		if !ok || strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s environment variable is required", r.env)
		}
		*r.target = v
	}

	info, err := os.Stat(ks.Path)
	if err != nil {
		return fmt.Errorf("keystore not accessible at %s: %w", ks.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("keystore path %s is a directory", ks.Path)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
