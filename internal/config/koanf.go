package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable the loader reads.
const EnvPrefix = "ADMITKIT_"

// ConfigPathEnvVar selects the YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"admitkit.yaml",
	"admitkit.yml",
	"/etc/admitkit/config.yaml",
}

// envMappings maps lowercased variable names, without EnvPrefix, to config paths.
// Underscores inside key names make a generic split ambiguous.
var envMappings = map[string]string{
	"server_addr":             "server.addr",
	"server_shutdown_timeout": "server.shutdown_timeout",
	"server_read_timeout":     "server.read_timeout",
	"server_write_timeout":    "server.write_timeout",
	"server_max_body_bytes":   "server.max_body_bytes",

	"ratelimit_backend":              "ratelimit.backend",
	"ratelimit_sweep_interval":       "ratelimit.sweep_interval",
	"ratelimit_api_max_requests":     "ratelimit.api.max_requests",
	"ratelimit_api_window":           "ratelimit.api.window",
	"ratelimit_email_max_requests":   "ratelimit.email.max_requests",
	"ratelimit_email_window":         "ratelimit.email.window",
	"ratelimit_visitor_max_requests": "ratelimit.visitor.max_requests",
	"ratelimit_visitor_window":       "ratelimit.visitor.window",

	"redis_url":      "redis.url",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",
	"redis_prefix":   "redis.prefix",

	"auth_verifier":       "auth.verifier",
	"auth_admin_tokens":   "auth.admin_tokens",
	"auth_session_cookie": "auth.session_cookie",
	"auth_jwt_secret":     "auth.jwt_secret",
	"auth_jwt_issuer":     "auth.jwt_issuer",
	"auth_jwt_audience":   "auth.jwt_audience",
	"auth_jwt_leeway":     "auth.jwt_leeway",

	"log_level":  "log.level",
	"log_format": "log.format",
}

// sliceConfigPaths arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{
	"auth.admin_tokens",
}

// Load builds the configuration from defaults, the config file named by
// CONFIG_PATH (or the first of DefaultConfigPaths that exists) and the
// environment, then validates it.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file. An empty path skips the file
// layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps ADMITKIT_SERVER_ADDR to server.addr. Unknown variables
// map to "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
