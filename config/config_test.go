package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "experiment-engine", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	// No DATABASE_URL means the in-memory store.
	assert.True(t, cfg.Database.Disabled)

	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 60*time.Second, cfg.Monitor.CheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.RefreshInterval)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/experiments")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("MONITOR_CHECK_INTERVAL", "30s")
	t.Setenv("REDIS_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.False(t, cfg.Database.Disabled)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Monitor.CheckInterval)
	assert.True(t, cfg.Redis.Disabled)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("MONITOR_CHECK_INTERVAL", "soon")
	t.Setenv("APP_DEBUG", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 60*time.Second, cfg.Monitor.CheckInterval)
}

func TestValidate_ProductionRequiresDatabase(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")

	t.Setenv("DATABASE_URL", "postgres://db:5432/experiments")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("MONITOR_CHECK_INTERVAL", "500ms")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "HTTP_PORT must be 1-65535")
	assert.Contains(t, err.Error(), "MONITOR_CHECK_INTERVAL must be at least 1s")
}
