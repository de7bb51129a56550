// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends selectable through CACHE_BACKEND.
const (
	BackendAuto   = "auto"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendSQLite = "sqlite"
	BackendGCS    = "gcs"
)

// Defaults for unset or unusable values.
const (
	DefaultPostLimit    = 4
	DefaultCacheTTL     = 900000 * time.Millisecond
	DefaultAPIBaseURL   = "https://graph.facebook.com"
	DefaultAPIVersion   = "v21.0"
	DefaultLocalStorage = "./data"
	DefaultPort         = "8080"
)

// MinSessionSecret is the shortest accepted DEV_SESSION_SECRET.
const MinSessionSecret = 32

// Config validation errors.
var (
	ErrUnknownBackend    = errors.New("unknown CACHE_BACKEND")
	ErrMissingBucket     = errors.New("STORAGE_BUCKET is required for the gcs backend")
	ErrMissingDBPath     = errors.New("CACHE_DB_PATH is required for the sqlite backend")
	ErrMissingLocalPath  = errors.New("LOCAL_STORAGE is required for the local backend")
	ErrShortSecret       = fmt.Errorf("DEV_SESSION_SECRET must be at least %d bytes", MinSessionSecret)
	ErrInvalidPort       = errors.New("PORT must be a TCP port number")
	ErrInvalidPostLimit  = errors.New("post limit must be positive")
	ErrInvalidCacheTTL   = errors.New("cache duration must be positive")
	ErrMissingAPIBaseURL = errors.New("FACEBOOK_API_BASE_URL must not be empty")
)

// Config holds the service configuration.
type Config struct {
	// PageID and AccessToken are checked when posts are fetched, not here,
	// so the site still serves fallback content without them.
	PageID      string
	AccessToken string
	APIBaseURL  string
	APIVersion  string

	// Backend is one of the Backend* constants. Auto picks gcs when a bucket is
	// set, sqlite when a database path is set, and local otherwise.
	Backend         string
	LocalStorage    string
	CacheDBPath     string
	Bucket          string
	CredentialsJSON string

	Port string

	// DevPasswordHash enables the /dev preview gate when set.
	DevPasswordHash  string
	DevSessionSecret string

	PostLimit      int
	CacheTTL       time.Duration
	LogLevel       slog.Level
	CookieInsecure bool
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		APIBaseURL:   DefaultAPIBaseURL,
		APIVersion:   DefaultAPIVersion,
		Backend:      BackendAuto,
		LocalStorage: DefaultLocalStorage,
		Port:         DefaultPort,
		PostLimit:    DefaultPostLimit,
		CacheTTL:     DefaultCacheTTL,
		LogLevel:     slog.LevelInfo,
	}
}

// LoadFromEnv builds a Config from environment variables and validates it.
//
// Numeric options that do not parse to a positive number fall back to their defaults.
func LoadFromEnv() (Config, error) {
	cfg := Default()

	cfg.PageID = strings.TrimSpace(os.Getenv("FACEBOOK_PAGE_ID"))
	cfg.AccessToken = strings.TrimSpace(os.Getenv("FACEBOOK_ACCESS_TOKEN"))
	cfg.PostLimit = positiveInt("FACEBOOK_POST_LIMIT", DefaultPostLimit)
	cfg.CacheTTL = cacheTTL()

	if v := os.Getenv("FACEBOOK_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("FACEBOOK_API_VERSION"); v != "" {
		cfg.APIVersion = v
	}

	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("LOCAL_STORAGE"); v != "" {
		cfg.LocalStorage = v
	}
	cfg.CacheDBPath = os.Getenv("CACHE_DB_PATH")
	cfg.Bucket = os.Getenv("STORAGE_BUCKET")
	cfg.CredentialsJSON = os.Getenv("GOOGLE_CREDENTIALS_JSON")

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}

	cfg.DevPasswordHash = os.Getenv("DEV_PASSWORD_HASH")
	cfg.DevSessionSecret = os.Getenv("DEV_SESSION_SECRET")

	if v := os.Getenv("COOKIE_INSECURE"); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse COOKIE_INSECURE: %w", err)
		}
		cfg.CookieInsecure = insecure
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func positiveInt(name string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// maxCacheTTLMillis is the largest millisecond count a time.Duration can hold.
const maxCacheTTLMillis = math.MaxInt64 / int64(time.Millisecond)

// cacheTTL reads FACEBOOK_CACHE_DURATION in milliseconds. Values a Duration
// cannot hold fall back to the default like any other unusable number.
func cacheTTL() time.Duration {
	ms := positiveInt("FACEBOOK_CACHE_DURATION", int(DefaultCacheTTL.Milliseconds()))
	if int64(ms) > maxCacheTTLMillis {
		return DefaultCacheTTL
	}
	return time.Duration(ms) * time.Millisecond
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.PostLimit <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPostLimit, c.PostLimit)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidCacheTTL, c.CacheTTL)
	}
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}

	switch c.StorageBackend() {
	case BackendMemory:
	case BackendLocal:
		if c.LocalStorage == "" {
			return ErrMissingLocalPath
		}
	case BackendSQLite:
		if c.CacheDBPath == "" {
			return ErrMissingDBPath
		}
	case BackendGCS:
		if c.Bucket == "" {
			return ErrMissingBucket
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: got %q", ErrInvalidPort, c.Port)
	}

	if c.DevGateEnabled() && len(c.DevSessionSecret) < MinSessionSecret {
		return ErrShortSecret
	}
	return nil
}

// StorageBackend resolves BackendAuto to a concrete backend.
func (c Config) StorageBackend() string {
	if c.Backend != BackendAuto && c.Backend != "" {
		return c.Backend
	}
	switch {
	case c.Bucket != "":
		return BackendGCS
	case c.CacheDBPath != "":
		return BackendSQLite
	default:
		return BackendLocal
	}
}

// DevGateEnabled reports whether the /dev preview area is configured.
func (c Config) DevGateEnabled() bool {
	return c.DevPasswordHash != ""
}

// HasCredentials reports whether both Graph API credentials are present.
func (c Config) HasCredentials() bool {
	return c.PageID != "" && c.AccessToken != ""
}
