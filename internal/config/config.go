// Package config handles relay configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level relay configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Engine    EngineConfig    `json:"engine"`
	UserStore UserStoreConfig `json:"userstore"`
	Quota     QuotaConfig     `json:"quota,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Billing   BillingConfig   `json:"billing,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the relay's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":8080"
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
}

// EngineConfig defines how the relay reaches the assistant engine.
type EngineConfig struct {
	APIKey       string   `json:"api_key"`
	AssistantID  string   `json:"assistant_id"`
	BaseURL      string   `json:"base_url,omitempty"`      // default https://api.openai.com/v1
	PollInterval Duration `json:"poll_interval,omitempty"` // run status poll cadence; default 1s
	MaxWait      Duration `json:"max_wait,omitempty"`      // upper bound on a single run; default 2m
}

// UserStoreConfig defines where per-user records live.
type UserStoreConfig struct {
	Driver  string `json:"driver"`             // "backendless" (default), "sqlite" or "postgres"
	BaseURL string `json:"base_url,omitempty"` // backendless API base, e.g. https://x.backendless.app/api
	DSN     string `json:"dsn,omitempty"`      // for sqlite/postgres drivers
}

// QuotaConfig defines the per-user question quota.
type QuotaConfig struct {
	DailyLimit    int    `json:"daily_limit,omitempty"`    // default 100
	ResetSchedule string `json:"reset_schedule,omitempty"` // cron expression; empty disables the sweep
}

// DeliveryConfig selects how POST /ask carries run progress to the caller.
type DeliveryConfig struct {
	Mode string `json:"mode,omitempty"` // "blocking" (default), "heartbeat", "stream" or "poll"
}

// BillingConfig defines Stripe billing settings. Disabled by default.
type BillingConfig struct {
	Enabled             bool   `json:"enabled,omitempty"`
	StripeSecretKey     string `json:"stripe_secret_key,omitempty"`
	StripeWebhookSecret string `json:"stripe_webhook_secret,omitempty"`
	PriceMonthly        string `json:"price_monthly,omitempty"` // Stripe price ID for the monthly plan
	PriceAnnual         string `json:"price_annual,omitempty"`  // Stripe price ID for the annual plan
	SuccessURL          string `json:"success_url,omitempty"`
	CancelURL           string `json:"cancel_url,omitempty"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines per-IP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Engine.APIKey == "" {
		return fmt.Errorf("engine.api_key is required")
	}
	if c.Engine.AssistantID == "" {
		return fmt.Errorf("engine.assistant_id is required")
	}
	switch c.UserStore.Driver {
	case "", "backendless":
		if c.UserStore.BaseURL == "" {
			return fmt.Errorf("userstore.base_url is required for the backendless driver")
		}
	case "sqlite", "postgres":
		if c.UserStore.DSN == "" {
			return fmt.Errorf("userstore.dsn is required for the %s driver", c.UserStore.Driver)
		}
	default:
		return fmt.Errorf("unsupported userstore driver: %q", c.UserStore.Driver)
	}
	switch c.Delivery.Mode {
	case "", "blocking", "heartbeat", "stream", "poll":
	default:
		return fmt.Errorf("unsupported delivery mode: %q", c.Delivery.Mode)
	}
	if c.Billing.Enabled {
		if c.Billing.StripeSecretKey == "" {
			return fmt.Errorf("billing.stripe_secret_key is required when billing is enabled")
		}
		if c.Billing.PriceMonthly == "" || c.Billing.PriceAnnual == "" {
			return fmt.Errorf("billing.price_monthly and billing.price_annual are required when billing is enabled")
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024
	}
	if c.Engine.BaseURL == "" {
		c.Engine.BaseURL = "https://api.openai.com/v1"
	}
	if c.Engine.PollInterval.Duration == 0 {
		c.Engine.PollInterval.Duration = time.Second
	}
	if c.Engine.MaxWait.Duration == 0 {
		c.Engine.MaxWait.Duration = 2 * time.Minute
	}
	if c.UserStore.Driver == "" {
		c.UserStore.Driver = "backendless"
	}
	if c.Quota.DailyLimit == 0 {
		c.Quota.DailyLimit = 100
	}
	if c.Delivery.Mode == "" {
		c.Delivery.Mode = "blocking"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}
