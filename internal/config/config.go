// Package config loads daemon configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment
// variables with the REPLYD prefix.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`

	// Accounts source: "sqlite" or "file"
	AccountsBackend string `envconfig:"ACCOUNTS_BACKEND" default:"sqlite"`
	DBPath          string `envconfig:"DB_PATH" default:"replyd.db"`
	AccountsFile    string `envconfig:"ACCOUNTS_FILE" default:"accounts.yaml"`

	// Chat gateway
	GatewayURL         string `envconfig:"GATEWAY_URL" default:"http://localhost:9480"`
	GatewayPollTimeout int    `envconfig:"GATEWAY_POLL_TIMEOUT" default:"25"`

	// Session lifecycle: "persistent" or "polling"
	LifecyclePolicy string `envconfig:"LIFECYCLE_POLICY" default:"persistent"`

	// Supervisor timings
	CooldownWindow      time.Duration `envconfig:"COOLDOWN_WINDOW" default:"30m"`
	InFlightTTL         time.Duration `envconfig:"INFLIGHT_TTL" default:"30s"`
	PresenceMinInterval time.Duration `envconfig:"PRESENCE_MIN_INTERVAL" default:"8s"`
	PresenceMaxInterval time.Duration `envconfig:"PRESENCE_MAX_INTERVAL" default:"12s"`
	HealthInterval      time.Duration `envconfig:"HEALTH_INTERVAL" default:"120s"`

	// Operator notifications (optional)
	SlackWebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`

	// Management API
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAPIKey         string `envconfig:"MGMT_API_KEY"`
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"50"`
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"100"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`
}

// SlackEnabled returns true if operator Slack notifications are configured.
func (c *Config) SlackEnabled() bool { return c.SlackWebhookURL != "" }

// MgmtEnabled returns true if the management API should be served.
func (c *Config) MgmtEnabled() bool { return c.MgmtListenAddr != "" }

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.PresenceMinInterval <= 0 || c.PresenceMaxInterval < c.PresenceMinInterval {
		return fmt.Errorf("presence interval bounds invalid: min=%s max=%s",
			c.PresenceMinInterval, c.PresenceMaxInterval)
	}
	if c.CooldownWindow <= 0 {
		return fmt.Errorf("cooldown window must be positive, got %s", c.CooldownWindow)
	}
	if c.InFlightTTL <= 0 {
		return fmt.Errorf("in-flight ttl must be positive, got %s", c.InFlightTTL)
	}
	switch c.LifecyclePolicy {
	case "persistent", "polling":
	default:
		return fmt.Errorf("unknown lifecycle policy %q", c.LifecyclePolicy)
	}
	switch c.AccountsBackend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("unknown accounts backend %q", c.AccountsBackend)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("REPLYD", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
