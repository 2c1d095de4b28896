package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

const (
	BackendDatabase = "database"
	BackendRedis    = "redis"

	DefaultRetention    = 30 * 24 * time.Hour
	DefaultLease        = 2 * time.Minute
	DefaultInFlightWait = 3 * time.Second
	// MinRetention is the shortest window for which a completed event id
	// is remembered. PayMongo retries for days, not weeks.
	MinRetention = 7 * 24 * time.Hour
)

// Config holds webhook ingestion settings
type Config struct {
	WebhookSecret  string
	CheckoutSecret string
	MaxClockSkew   time.Duration
	Retention      time.Duration
	Lease          time.Duration
	InFlightWait   time.Duration
	Backend        string
	PaymentMethod  string
}

// LoadConfig loads payment configuration from environment variables. A
// missing webhook secret is not an error here; every delivery is then
// rejected with ErrMisconfigured so the problem shows up on each request.
func LoadConfig() (*Config, error) {
	config := &Config{
		WebhookSecret:  strings.TrimSpace(env.GetEnv("PAYMONGO_WEBHOOK_SECRET", "")),
		CheckoutSecret: strings.TrimSpace(env.GetEnv("PAYMONGO_SECRET", "")),
		MaxClockSkew:   env.GetEnvDuration("WEBHOOK_MAX_CLOCK_SKEW", DefaultMaxClockSkew),
		Retention:      env.GetEnvDuration("IDEMPOTENCY_RETENTION", DefaultRetention),
		Lease:          env.GetEnvDuration("IDEMPOTENCY_LEASE", DefaultLease),
		InFlightWait:   env.GetEnvDuration("IDEMPOTENCY_INFLIGHT_WAIT", DefaultInFlightWait),
		Backend:        strings.ToLower(env.GetEnv("IDEMPOTENCY_BACKEND", BackendDatabase)),
		PaymentMethod:  env.GetEnv("PAYMENT_METHOD", "paymongo"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDatabase, BackendRedis:
	default:
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be %q or %q, got %q", BackendDatabase, BackendRedis, c.Backend)
	}
	if c.Retention < MinRetention {
		return fmt.Errorf("IDEMPOTENCY_RETENTION must be at least %s, got %s", MinRetention, c.Retention)
	}
	if c.Lease <= 0 {
		return fmt.Errorf("IDEMPOTENCY_LEASE must be positive, got %s", c.Lease)
	}
	if c.InFlightWait < 0 {
		return fmt.Errorf("IDEMPOTENCY_INFLIGHT_WAIT must not be negative, got %s", c.InFlightWait)
	}
	if c.MaxClockSkew < 0 {
		return fmt.Errorf("WEBHOOK_MAX_CLOCK_SKEW must not be negative, got %s", c.MaxClockSkew)
	}
	return nil
}

// HasWebhookSecret reports whether deliveries can be verified at all.
func (c *Config) HasWebhookSecret() bool {
	return c.WebhookSecret != ""
}
