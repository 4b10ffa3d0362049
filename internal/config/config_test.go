// README: Config loader tests.
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsInDev(t *testing.T) {
	t.Setenv("DISPATCH_ENV", "dev")
	t.Setenv("DISPATCH_JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, devSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, 15, cfg.Dispatch.DefaultETA)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Dispatch.ClockSkew)
	assert.Equal(t, 256, cfg.Dispatch.EventQueue)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.PublishTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.HTTP.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DISPATCH_ENV", "production")
	t.Setenv("DISPATCH_JWT_SECRET", "s3cret")
	t.Setenv("DISPATCH_STORE", "memory")
	t.Setenv("DISPATCH_MAX_ATTEMPTS", "5")
	t.Setenv("DISPATCH_CLOCK_SKEW", "30s")
	t.Setenv("DISPATCH_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DISPATCH_DEFAULT_ETA", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.ClockSkew)
	assert.Equal(t, 15, cfg.Dispatch.DefaultETA)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
}

func TestLoadRequiresSecretOutsideDev(t *testing.T) {
	t.Setenv("DISPATCH_ENV", "production")
	t.Setenv("DISPATCH_JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DISPATCH_ENV", "dev")
	t.Setenv("DISPATCH_STORE", "sqlite")
	_, err = Load()
	assert.Error(t, err)
}
