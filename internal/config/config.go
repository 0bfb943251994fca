package config

// Package config loads the service configuration with viper.
// Every key has a default, so the YAML file is optional; AIGEN_* env vars
// override both.

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const (
	// EnvPrefix namespaces environment overrides, e.g. AIGEN_SERVER_PORT
	EnvPrefix = "AIGEN"

	// DevJWTSecret is used when no secret is configured anywhere
	DevJWTSecret = "dev-secret-change-me"
)

// SetDefaults registers the default of every configuration key
func SetDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.body_limit", 1024*1024)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})

	// Auth
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("auth.bcrypt_cost", 10)

	// Providers
	v.SetDefault("providers.search.transport", "http")
	v.SetDefault("providers.search.url", "http://localhost:8001/mcp")
	v.SetDefault("providers.search.command", "")
	v.SetDefault("providers.search.tool", "duckduckgo_search")
	v.SetDefault("providers.search.timeout", "30s")
	v.SetDefault("providers.image.transport", "http")
	v.SetDefault("providers.image.url", "http://localhost:8002/mcp")
	v.SetDefault("providers.image.command", "")
	v.SetDefault("providers.image.tool", "flux_imagegen")
	v.SetDefault("providers.image.timeout", "30s")

	// Fallback
	v.SetDefault("fallback.duckduckgo_url", "https://api.duckduckgo.com/")
	v.SetDefault("fallback.pollinations_url", "https://image.pollinations.ai")
	v.SetDefault("fallback.timeout", "15s")
	v.SetDefault("fallback.max_retries", 3)

	// History
	v.SetDefault("history.confirm_timeout", "2s")
	v.SetDefault("history.write_timeout", "10s")

	// Storage
	v.SetDefault("storage.driver", "badger")
	v.SetDefault("storage.badger.path", "./data/badger")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.sqlite.path", "./data/aigen.db")
	v.SetDefault("storage.search.provider", "")
	v.SetDefault("storage.search.typesense.enabled", false)
	v.SetDefault("storage.search.typesense.nodes", []string{"http://localhost:8108"})
	v.SetDefault("storage.search.typesense.api_key", "")
	v.SetDefault("storage.search.typesense.collection", "history")
	v.SetDefault("storage.search.typesense.num_typos", 2)
	v.SetDefault("storage.search.typesense.timeout", "5s")
	v.SetDefault("storage.search.meilisearch.enabled", false)
	v.SetDefault("storage.search.meilisearch.host", "http://localhost:7700")
	v.SetDefault("storage.search.meilisearch.api_key", "")
	v.SetDefault("storage.search.meilisearch.index_name", "history")

	// Analytics & observability
	v.SetDefault("analytics.enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "console")
}

// Load reads configuration from path, or from aigen.yaml in the usual
// locations when path is empty
func Load(path string) (*types.Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aigen")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/aigen")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Warn().Str("path", path).Msg("Config file not found, using defaults")
	} else {
		log.Info().Str("config", v.ConfigFileUsed()).Msg("Configuration loaded")
	}

	var config types.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveSecret(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// resolveSecret applies the JWT_SECRET fallback and the development default
func resolveSecret(config *types.Config) {
	if config.Auth.JWTSecret != "" {
		return
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
		return
	}
	config.Auth.JWTSecret = DevJWTSecret
	log.Warn().Msg("JWT secret not configured, using insecure development default")
}

// Validate rejects configurations the service cannot start with
func Validate(config *types.Config) error {
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Storage.Driver {
	case "badger", "sqlite":
	case "postgres":
		if config.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", config.Storage.Driver)
	}

	for name, p := range map[string]types.MCPEndpointConfig{
		"search": config.Providers.Search,
		"image":  config.Providers.Image,
	} {
		switch p.Transport {
		case "", "http":
		case "stdio":
			if p.Command == "" {
				return fmt.Errorf("providers.%s.command is required for the stdio transport", name)
			}
		default:
			return fmt.Errorf("providers.%s: unknown transport %q", name, p.Transport)
		}
	}

	return nil
}

// Redacted returns a copy of config safe to print
func Redacted(config *types.Config) types.Config {
	out := *config
	out.Auth.JWTSecret = mask(out.Auth.JWTSecret)
	out.Storage.Postgres.DSN = mask(out.Storage.Postgres.DSN)
	out.Storage.Search.Typesense.APIKey = mask(out.Storage.Search.Typesense.APIKey)
	out.Storage.Search.Meilisearch.APIKey = mask(out.Storage.Search.Meilisearch.APIKey)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
