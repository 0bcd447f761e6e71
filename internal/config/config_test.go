package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/helpdesk_test")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("MASTER_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.AI.WindowSeconds)
	assert.Equal(t, 2, cfg.AI.MaxPerWindow)
	assert.True(t, cfg.Email.PollingEnabled)
	assert.Equal(t, 60, cfg.Email.PollingIntervalSeconds)
	assert.False(t, cfg.Email.MLClassifierEnabled)
	assert.False(t, cfg.Email.LogFiltered)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Store())
	assert.False(t, cfg.AI.Enabled(), "AI disabled without LLM_API_KEY")
	assert.False(t, cfg.Blob.Enabled(), "blob disabled without bucket credentials")
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("AI_REPLY_MAX_PER_WINDOW", "5")
	t.Setenv("EMAIL_POLLING_ENABLED", "false")
	t.Setenv("EMAIL_POLLING_INTERVAL", "15")
	t.Setenv("RETENTION_DAYS", "7")
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.AI.MaxPerWindow)
	assert.False(t, cfg.Email.PollingEnabled)
	assert.Equal(t, 15*time.Second, cfg.Email.PollInterval())
	assert.Equal(t, 7, cfg.Retention.Days)
	assert.True(t, cfg.AI.Enabled())
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("MASTER_ENCRYPTION_KEY", "x")

	_, err := Load()
	require.Error(t, err, "DATABASE_URL is required")
}

func TestLoadBadIntFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("AI_REPLY_WINDOW_SECONDS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.AI.WindowSeconds, "bad int falls back to default")
}
