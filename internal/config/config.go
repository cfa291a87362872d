package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings for the BioHub API.
type Config struct {
	// HTTP listen address.
	Addr string `validate:"required"`

	// PostgreSQL DSN. cmd/api refuses to start without one.
	DatabaseURL string

	// Shared HS256 secret for locally signed tokens. Mutually exclusive with OIDC.
	TokenSecret string `validate:"required_without=OIDCIssuer,excluded_with=OIDCIssuer"`
	TokenIssuer string

	// Keycloak realm issuer URL and client id used to verify access tokens.
	OIDCIssuer   string `validate:"omitempty,url"`
	OIDCClientID string

	// Browser origins allowed by CORS; empty allows localhost only.
	AllowedOrigins []string `validate:"dive,url"`

	LogLevel string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`

	RateBurst     int   `validate:"gte=1"`
	RatePerSecond int   `validate:"gte=1"`
	MaxBodyBytes  int64 `validate:"gte=1024"`

	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Load reads BIOHUB_* environment variables and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:            getEnv("BIOHUB_HTTP_ADDR", ":8080"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("BIOHUB_PG_DSN")),
		TokenSecret:     strings.TrimSpace(os.Getenv("BIOHUB_AUTH_SECRET")),
		TokenIssuer:     getEnv("BIOHUB_AUTH_ISSUER", "biohub"),
		OIDCIssuer:      strings.TrimSpace(os.Getenv("BIOHUB_OIDC_ISSUER")),
		OIDCClientID:    strings.TrimSpace(os.Getenv("BIOHUB_OIDC_CLIENT_ID")),
		AllowedOrigins:  splitList(os.Getenv("BIOHUB_CORS_ORIGINS")),
		LogLevel:        strings.ToLower(getEnv("BIOHUB_LOG_LEVEL", "info")),
		RateBurst:       getEnvInt("BIOHUB_RATE_BURST", 50),
		RatePerSecond:   getEnvInt("BIOHUB_RATE_PER_SEC", 25),
		MaxBodyBytes:    int64(getEnvInt("BIOHUB_MAX_BODY_BYTES", 1<<20)),
		ReadTimeout:     getEnvDuration("BIOHUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BIOHUB_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout: getEnvDuration("BIOHUB_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and reports the first offending field.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: invalid %s (%s)", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// UsesOIDC reports whether tokens are verified against an external issuer.
func (c *Config) UsesOIDC() bool {
	return c.OIDCIssuer != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// getEnvDuration accepts either Go durations ("10s") or plain seconds ("10").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
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
