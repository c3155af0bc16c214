package config

import (
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Skotchmaster/keyshop/pkg/config"
)

type Config struct {
	pkgconfig.Config

	GatewayURL     string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	SuccessURL     string
	CancelURL      string

	WebhookSecret     []byte
	IdempotencyDBPath string

	OrderTTL           time.Duration
	OrderSweepInterval time.Duration
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Info("env_file_not_found", "reason", "using system environment variables")
	}

	cfg := &Config{
		Config: pkgconfig.Load(),

		GatewayURL:     pkgconfig.EnvDefault("GATEWAY_URL", ""),
		GatewayAPIKey:  pkgconfig.EnvDefault("GATEWAY_API_KEY", ""),
		GatewayTimeout: pkgconfig.EnvDurationDefault("GATEWAY_TIMEOUT", 10*time.Second),
		SuccessURL:     pkgconfig.EnvDefault("CHECKOUT_SUCCESS_URL", "http://localhost:8080/checkout/success"),
		CancelURL:      pkgconfig.EnvDefault("CHECKOUT_CANCEL_URL", "http://localhost:8080/checkout/cancel"),

		WebhookSecret:     []byte(pkgconfig.EnvDefault("WEBHOOK_SECRET", "")),
		IdempotencyDBPath: pkgconfig.EnvDefault("IDEMPOTENCY_DB_PATH", "keyshop-webhooks.db"),

		OrderTTL:           pkgconfig.EnvDurationDefault("ORDER_TTL", 30*time.Minute),
		OrderSweepInterval: pkgconfig.EnvDurationDefault("ORDER_SWEEP_INTERVAL", time.Minute),
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	return pkgconfig.Require(map[string]string{
		"DATABASE_URL": c.DatabaseURL,
		"JWT_SECRET":   string(c.JWTAccessSecret),
		"GATEWAY_URL":  c.GatewayURL,
	})
}
