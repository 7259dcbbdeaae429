// Package config loads service settings from the environment (prefix POLLHUB_)
// and an optional .env file.
package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/hkdf"
)

const envPrefix = "POLLHUB"

// Config is the resolved runtime configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	// DBDriver is "memory", "pgx" or "sqlite".
	DBDriver    string
	DBDSN       string
	AutoMigrate bool

	RedisURL string

	SessionSecret string
	CSRFSecret    string
	SecureCookies bool

	RateLimitAttempts int
	RateLimitWindow   time.Duration
	FloodBurst        int
	FloodPerSecond    int
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	TrustProxy bool

	StoreTimeout   time.Duration
	AllowedOrigins []string
	LogLevel       string
}

func defaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("db_driver", "memory")
	v.SetDefault("db_dsn", "")
	v.SetDefault("auto_migrate", true)
	v.SetDefault("redis_url", "")
	v.SetDefault("session_secret", "")
	v.SetDefault("csrf_secret", "")
	v.SetDefault("secure_cookies", true)
	v.SetDefault("rate_limit_attempts", 5)
	v.SetDefault("rate_limit_window", 15*time.Minute)
	v.SetDefault("flood_burst", 60)
	v.SetDefault("flood_per_second", 30)
	v.SetDefault("trust_proxy", false)
	v.SetDefault("store_timeout", 5*time.Second)
	v.SetDefault("allowed_origins", "")
	v.SetDefault("log_level", "info")
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	cfg := &Config{
		HTTPAddr:          v.GetString("http_addr"),
		GRPCAddr:          v.GetString("grpc_addr"),
		DBDriver:          strings.ToLower(strings.TrimSpace(v.GetString("db_driver"))),
		DBDSN:             v.GetString("db_dsn"),
		AutoMigrate:       v.GetBool("auto_migrate"),
		RedisURL:          v.GetString("redis_url"),
		SessionSecret:     v.GetString("session_secret"),
		CSRFSecret:        v.GetString("csrf_secret"),
		SecureCookies:     v.GetBool("secure_cookies"),
		RateLimitAttempts: v.GetInt("rate_limit_attempts"),
		RateLimitWindow:   v.GetDuration("rate_limit_window"),
		FloodBurst:        v.GetInt("flood_burst"),
		FloodPerSecond:    v.GetInt("flood_per_second"),
		TrustProxy:        v.GetBool("trust_proxy"),
		StoreTimeout:      v.GetDuration("store_timeout"),
		AllowedOrigins:    splitList(v.GetString("allowed_origins")),
		LogLevel:          v.GetString("log_level"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "memory":
	case "pgx", "sqlite":
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("%s_DB_DSN is required for driver %q", envPrefix, c.DBDriver)
		}
	default:
		return fmt.Errorf("unsupported %s_DB_DRIVER %q", envPrefix, c.DBDriver)
	}
	if len(c.SessionSecret) < 16 {
		return fmt.Errorf("%s_SESSION_SECRET must be at least 16 bytes", envPrefix)
	}
	if c.RateLimitAttempts <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("rate limit attempts and window must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	return nil
}

// CSRFKey returns the key that signs CSRF cookies: CSRFSecret verbatim when set,
// otherwise 32 bytes derived from the session secret with HKDF-SHA256.
func (c *Config) CSRFKey() ([]byte, error) {
	if c.CSRFSecret != "" {
		return []byte(c.CSRFSecret), nil
	}
	if c.SessionSecret == "" {
		return nil, errors.New("no secret to derive the csrf key from")
	}
	r := hkdf.New(sha256.New, []byte(c.SessionSecret), nil, []byte("pollhub csrf cookie v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive csrf key: %w", err)
	}
	return key, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
