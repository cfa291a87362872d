package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BIOHUB_AUTH_SECRET", "dev-secret")
	t.Setenv("BIOHUB_OIDC_ISSUER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "biohub", cfg.TokenIssuer)
	assert.Equal(t, 50, cfg.RateBurst)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.False(t, cfg.UsesOIDC())
}

func TestLoadRequiresTokenSource(t *testing.T) {
	t.Setenv("BIOHUB_AUTH_SECRET", "")
	t.Setenv("BIOHUB_OIDC_ISSUER", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TokenSecret")
}

func TestLoadRejectsBothTokenSources(t *testing.T) {
	t.Setenv("BIOHUB_AUTH_SECRET", "dev-secret")
	t.Setenv("BIOHUB_OIDC_ISSUER", "https://sso.example.com/auth/realms/biohub")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadOIDC(t *testing.T) {
	t.Setenv("BIOHUB_AUTH_SECRET", "")
	t.Setenv("BIOHUB_OIDC_ISSUER", "https://sso.example.com/auth/realms/biohub")
	t.Setenv("BIOHUB_OIDC_CLIENT_ID", "biohub-api")
	t.Setenv("BIOHUB_WRITE_TIMEOUT", "30")
	t.Setenv("BIOHUB_READ_TIMEOUT", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UsesOIDC())
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 2*time.Minute, cfg.ReadTimeout)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("BIOHUB_AUTH_SECRET", "dev-secret")
	t.Setenv("BIOHUB_OIDC_ISSUER", "")
	t.Setenv("BIOHUB_LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogLevel")
}

func TestLoadCORSOrigins(t *testing.T) {
	t.Setenv("BIOHUB_AUTH_SECRET", "dev-secret")
	t.Setenv("BIOHUB_OIDC_ISSUER", "")
	t.Setenv("BIOHUB_CORS_ORIGINS", " https://biohub.example.com , ,http://localhost:3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://biohub.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)

	t.Setenv("BIOHUB_CORS_ORIGINS", "not a url")
	_, err = Load()
	require.Error(t, err)
}
