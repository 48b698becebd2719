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

	assert.Equal(t, 30*time.Minute, cfg.CooldownWindow)
	assert.Equal(t, 30*time.Second, cfg.InFlightTTL)
	assert.Equal(t, 8*time.Second, cfg.PresenceMinInterval)
	assert.Equal(t, 12*time.Second, cfg.PresenceMaxInterval)
	assert.Equal(t, 120*time.Second, cfg.HealthInterval)
	assert.Equal(t, "persistent", cfg.LifecyclePolicy)
	assert.False(t, cfg.SlackEnabled())
	assert.True(t, cfg.MgmtEnabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REPLYD_COOLDOWN_WINDOW", "10m")
	t.Setenv("REPLYD_LIFECYCLE_POLICY", "polling")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.CooldownWindow)
	assert.Equal(t, "polling", cfg.LifecyclePolicy)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.PresenceMaxInterval = cfg.PresenceMinInterval - time.Second
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.LifecyclePolicy = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.AccountsBackend = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.CooldownWindow = 0
	assert.Error(t, cfg.Validate())
}
