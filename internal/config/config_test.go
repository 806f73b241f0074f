package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"QR_TOKEN_TTL", "PUNCH_RETRIES", "DEFAULT_TOLERANCE_MINUTES", "APP_ENV"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, 2*time.Minute, cfg.QRTokenTTL)
	assert.Equal(t, 1, cfg.PunchRetries)
	assert.Equal(t, 15, cfg.DefaultToleranceMinutes)
	assert.Equal(t, 5*time.Second, cfg.PunchQueryTimeout)
	assert.False(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QR_TOKEN_TTL", "90s")
	t.Setenv("RECONCILE_WORKERS", "3")
	t.Setenv("PUNCH_QUERY_TIMEOUT", "soon")
	t.Setenv("APP_ENV", "prod")
	cfg := Load()
	assert.Equal(t, 90*time.Second, cfg.QRTokenTTL)
	assert.Equal(t, 3, cfg.ReconcileWorkers)
	assert.Equal(t, 5*time.Second, cfg.PunchQueryTimeout)
	assert.True(t, cfg.Production())
}

func TestLocation(t *testing.T) {
	loc, err := App{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = App{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := App{LogLevel: "warn"}.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
}
