package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 30*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, 15*time.Minute, cfg.Email.VerificationTTL)
	assert.Equal(t, "argon2id", cfg.Hash.Scheme)
	assert.Equal(t, 100, cfg.Cleanup.BatchSize)
	assert.Equal(t, 48*time.Hour, cfg.Cleanup.UnverifiedMaxAge)
	assert.Equal(t, 3, cfg.Cleanup.MaxRetries)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("JWT_SECRET_KEY", "access-secret")
	t.Setenv("JWT_REFRESH_SECRET_KEY", "refresh-secret")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example.com, http://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, "access-secret", cfg.JWT.Secret)
	assert.Equal(t, "refresh-secret", cfg.JWT.RefreshSecret)
	assert.Equal(t, []string{"http://a.example.com", "http://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestRefreshSecretFallsBackToAccessSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "only-secret")
	t.Setenv("JWT_REFRESH_SECRET_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "only-secret", cfg.JWT.RefreshSecret)
}

func TestParseDurationFallsBackOnGarbage(t *testing.T) {
	assert.Equal(t, time.Hour, parseDuration("not-a-duration", time.Hour))
	assert.Equal(t, time.Hour, parseDuration("-5m", time.Hour))
	assert.Equal(t, 2*time.Minute, parseDuration("2m", time.Hour))
}
