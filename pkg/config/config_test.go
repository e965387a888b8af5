package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 3, cfg.WhatsApp.MaxAttempts)
	assert.Equal(t, 800*time.Millisecond, cfg.WhatsApp.RetryBackoff)
	assert.Equal(t, 1200*time.Millisecond, cfg.WhatsApp.TextDelay)
	assert.Equal(t, "91", cfg.WhatsApp.DefaultCountryCode)
	assert.Equal(t, 90*time.Second, cfg.HTTP.WriteTimeout)
	assert.False(t, cfg.Push.Enabled)
	assert.Equal(t, "Asia/Kolkata", cfg.Location.String())
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENABLE_WHATSAPP", "true")
	t.Setenv("WHATSAPP_BASE_URL", "https://gateway.example.com/")
	t.Setenv("WHATSAPP_TEXT_DELAY", "0s")
	t.Setenv("ALLOWED_ORIGINS", "https://portal.example.edu, ,https://admin.example.edu")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.WhatsApp.Enabled)
	assert.Equal(t, "https://gateway.example.com", cfg.WhatsApp.BaseURL)
	assert.Equal(t, time.Duration(0), cfg.WhatsApp.TextDelay)
	assert.Equal(t, []string{"https://portal.example.edu", "https://admin.example.edu"}, cfg.CORS.AllowedOrigins)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")

	_, err := Load()
	assert.ErrorContains(t, err, "TIMEZONE")
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
