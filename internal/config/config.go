// Package config loads the gateway configuration from the process environment.
// A .env file, when present, is applied first without overriding variables that
// are already set. Values are fixed for the lifetime of the process.
package config

import (
	"errors"
	"fmt"
	"os"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultUpstreamURL     = "https://generativelanguage.googleapis.com/v1beta/openai/images/generations"
	DefaultInvalidKeysFile = "invalid_keys.json"
)

// LogLevel controls the minimum severity for structured log output.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// Config represents the full gateway configuration surface.
type Config struct {
	Credentials []string `env:"GOOGLE_API_KEYS" envSeparator:","`
	AuthTokens  []string `env:"AUTH_TOKENS" envSeparator:","`
	UpstreamURL string   `env:"GOOGLE_API_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai/images/generations"`
	Port        int      `env:"PORT" envDefault:"8000"`

	MaxRetries             int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryDelayMS           int           `env:"RETRY_DELAY" envDefault:"1000"`
	MaxConcurrent          int           `env:"MAX_CONCURRENT_REQUESTS" envDefault:"10"`
	RequestTimeout         time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`
	InvalidConsumesAttempt bool          `env:"INVALID_KEY_CONSUMES_RETRY" envDefault:"true"`

	InvalidKeysFile  string `env:"INVALID_KEYS_FILE" envDefault:"invalid_keys.json"`
	WatchInvalidFile bool   `env:"WATCH_INVALID_KEYS_FILE" envDefault:"true"`
	ModelMapFile     string `env:"MODEL_MAP_FILE"`

	AdminToken string   `env:"ADMIN_TOKEN"`
	LogLevel   LogLevel `env:"LOG_LEVEL" envDefault:"info"`
}

// Options controls where Load reads its values from.
type Options struct {
	// EnvFile is loaded with godotenv before parsing. Empty means ".env";
	// a missing file is not an error.
	EnvFile string
	// Environment replaces the process environment when non-nil. The env
	// file is skipped in that case.
	Environment map[string]string
}

// Load returns the validated configuration.
func Load(opts Options) (*Config, error) {
	if opts.Environment == nil {
		envFile := opts.EnvFile
		if envFile == "" {
			envFile = ".env"
		}
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrEnvFile, envFile, err)
		}
	}

	var cfg Config
	envOpts := env.Options{}
	if opts.Environment != nil {
		envOpts.Environment = opts.Environment
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Credentials = cleanList(c.Credentials)
	c.AuthTokens = cleanList(c.AuthTokens)
	c.UpstreamURL = strings.TrimSpace(c.UpstreamURL)
	if c.UpstreamURL == "" {
		c.UpstreamURL = DefaultUpstreamURL
	}
	c.InvalidKeysFile = strings.TrimSpace(c.InvalidKeysFile)
	if c.InvalidKeysFile == "" {
		c.InvalidKeysFile = DefaultInvalidKeysFile
	}
	c.LogLevel = LogLevel(strings.ToLower(strings.TrimSpace(string(c.LogLevel))))
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}
}

// Validate checks the invariants the rest of the gateway relies on.
func (c *Config) Validate() error {
	if len(c.Credentials) == 0 {
		return ErrNoCredentials
	}
	target, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpstreamURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return fmt.Errorf("%w: missing scheme or host", ErrInvalidUpstreamURL)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidLimit, c.Port)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("%w: MAX_RETRIES must be positive", ErrInvalidLimit)
	}
	if c.RetryDelayMS < 0 {
		return fmt.Errorf("%w: RETRY_DELAY must not be negative", ErrInvalidLimit)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: MAX_CONCURRENT_REQUESTS must be positive", ErrInvalidLimit)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: REQUEST_TIMEOUT must not be negative", ErrInvalidLimit)
	}
	if !c.LogLevel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

// AuthEnabled reports whether inbound bearer tokens are checked.
func (c *Config) AuthEnabled() bool {
	return len(c.AuthTokens) > 0
}

// RetryDelay is RetryDelayMS as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
