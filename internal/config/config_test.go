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

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2, cfg.MaxConcurrentRuns)
	assert.Equal(t, 2*time.Minute, cfg.VerifyTimeout)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "tagsentry.db", cfg.DatabasePath)
	assert.Equal(t, 30*24*time.Hour, cfg.ReportRetention)
	assert.Empty(t, cfg.OTELEndpoint)
	assert.Nil(t, cfg.CORSAllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TAGSENTRY_PORT", "9090")
	t.Setenv("TAGSENTRY_HEADLESS", "false")
	t.Setenv("TAGSENTRY_VERIFY_TIMEOUT", "45s")
	t.Setenv("TAGSENTRY_DB_PATH", "/var/lib/tagsentry/reports.db")
	t.Setenv("TAGSENTRY_CORS_ALLOWED_ORIGINS", "https://ops.example.com, https://dash.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 45*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, "/var/lib/tagsentry/reports.db", cfg.DatabasePath)
	assert.Equal(t, []string{"https://ops.example.com", "https://dash.example.com"}, cfg.CORSAllowedOrigins)
}

// Unparseable values fall back to defaults rather than failing the load;
// Validate catches only values that are genuinely unusable.
func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TAGSENTRY_PORT", "not-a-port")
	t.Setenv("TAGSENTRY_HEADLESS", "maybe")
	t.Setenv("TAGSENTRY_SETTLE_WAIT", "five seconds")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 5*time.Second, cfg.SettleWait)
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	bad := base
	bad.Port = 0
	assert.ErrorContains(t, bad.Validate(), "TAGSENTRY_PORT")

	bad = base
	bad.MaxConcurrentRuns = 0
	assert.ErrorContains(t, bad.Validate(), "TAGSENTRY_MAX_CONCURRENT_RUNS")

	bad = base
	bad.DatabasePath = ""
	assert.ErrorContains(t, bad.Validate(), "TAGSENTRY_DB_PATH")
}
