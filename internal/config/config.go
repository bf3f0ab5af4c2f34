// Package config loads the portfolio service configuration.
//
// Values are layered with koanf: struct defaults, then an optional YAML file,
// then environment variables. Later layers win.
//
// Environment variables use the ADMITKIT_ prefix and map onto config paths:
//
//	ADMITKIT_SERVER_ADDR                  -> server.addr
//	ADMITKIT_RATELIMIT_BACKEND            -> ratelimit.backend
//	ADMITKIT_RATELIMIT_EMAIL_MAX_REQUESTS -> ratelimit.email.max_requests
//	ADMITKIT_AUTH_ADMIN_TOKENS            -> auth.admin_tokens (comma-separated)
//	ADMITKIT_AUTH_JWT_SECRET              -> auth.jwt_secret
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nhalm/admitkit"
)

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Admin session verifiers.
const (
	VerifierStatic = "static"
	VerifierJWT    = "jwt"
)

// MinJWTSecretBytes is the shortest accepted auth.jwt_secret.
const MinJWTSecretBytes = 32

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Redis     RedisConfig     `koanf:"redis"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

// RateLimitConfig selects the counter backend and the limiter policies.
type RateLimitConfig struct {
	Backend       string        `koanf:"backend"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	API           PolicyConfig  `koanf:"api"`
	Email         PolicyConfig  `koanf:"email"`
	Visitor       PolicyConfig  `koanf:"visitor"`
}

// PolicyConfig is one fixed-window policy.
type PolicyConfig struct {
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
}

// Policy converts the config to an admitkit.Policy.
func (p PolicyConfig) Policy() admitkit.Policy {
	return admitkit.Policy{MaxRequests: p.MaxRequests, Window: p.Window}
}

// RedisConfig configures the shared counter store used by the redis backend.
type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// AuthConfig configures admin authentication. Verifier selects how admin
// sessions are checked: "static" looks tokens up in AdminTokens, "jwt" verifies
// HS256 tokens signed with JWTSecret.
type AuthConfig struct {
	Verifier string `koanf:"verifier"`
	// AdminTokens lists "subject:token" pairs. An entry without a colon is a token
	// for the subject "admin".
	AdminTokens   []string      `koanf:"admin_tokens"`
	SessionCookie string        `koanf:"session_cookie"`
	JWTSecret     string        `koanf:"jwt_secret"`
	JWTIssuer     string        `koanf:"jwt_issuer"`
	JWTAudience   string        `koanf:"jwt_audience"`
	JWTLeeway     time.Duration `koanf:"jwt_leeway"`
}

// TokenTable returns AdminTokens as a token -> subject map.
func (a AuthConfig) TokenTable() map[string]string {
	table := make(map[string]string, len(a.AdminTokens))
	for _, entry := range a.AdminTokens {
		subject, token, ok := strings.Cut(entry, ":")
		if !ok {
			subject, token = "admin", entry
		}
		if token = strings.TrimSpace(token); token != "" {
			table[token] = strings.TrimSpace(subject)
		}
	}
	return table
}

// LogConfig configures process logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SlogLevel parses Level. Validate rejects values this cannot parse.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			MaxBodyBytes:    64 << 10,
		},
		RateLimit: RateLimitConfig{
			Backend:       BackendMemory,
			SweepInterval: 5 * time.Minute,
			API:           policyConfig(admitkit.DefaultAPIPolicy),
			Email:         policyConfig(admitkit.DefaultEmailPolicy),
			Visitor:       policyConfig(admitkit.DefaultVisitorPolicy),
		},
		Redis: RedisConfig{
			URL:    "localhost:6379",
			Prefix: "admitkit:",
		},
		Auth: AuthConfig{
			Verifier:      VerifierStatic,
			SessionCookie: "session",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func policyConfig(p admitkit.Policy) PolicyConfig {
	return PolicyConfig{MaxRequests: p.MaxRequests, Window: p.Window}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
		if c.RateLimit.SweepInterval <= 0 {
			return fmt.Errorf("ratelimit.sweep_interval must be positive for the memory backend, got %s", c.RateLimit.SweepInterval)
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("ratelimit.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.RateLimit.Backend)
	}

	for name, p := range map[string]PolicyConfig{
		admitkit.LimiterAPI:     c.RateLimit.API,
		admitkit.LimiterEmail:   c.RateLimit.Email,
		admitkit.LimiterVisitor: c.RateLimit.Visitor,
	} {
		if p.MaxRequests <= 0 || p.Window <= 0 {
			return fmt.Errorf("ratelimit.%s needs positive max_requests and window, got %d per %s", name, p.MaxRequests, p.Window)
		}
	}

	switch c.Auth.Verifier {
	case VerifierStatic:
	case VerifierJWT:
		if len(c.Auth.JWTSecret) < MinJWTSecretBytes {
			return fmt.Errorf("auth.jwt_secret must be at least %d bytes for the jwt verifier", MinJWTSecretBytes)
		}
		if c.Auth.JWTLeeway < 0 {
			return fmt.Errorf("auth.jwt_leeway must not be negative, got %s", c.Auth.JWTLeeway)
		}
	default:
		return fmt.Errorf("auth.verifier must be %q or %q, got %q", VerifierStatic, VerifierJWT, c.Auth.Verifier)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}
