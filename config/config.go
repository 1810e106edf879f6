package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries process-level settings resolved from the environment.
type Config struct {
	DatabaseURL   string
	Port          string
	JWTSecret     string
	VaultKey      string
	FeeRate       float64
	DisputeWindow time.Duration
	EscrowWindow  time.Duration
}

// Load reads configuration from environment variables, applying defaults for
// everything except the database URL.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:   dsn,
		Port:          envOr("SERVER_PORT", "8080"),
		JWTSecret:     envOr("JWT_SECRET", "dev-secret-change-me"),
		VaultKey:      envOr("VAULT_KEY", "marketflow-vault"),
		FeeRate:       0.05,
		DisputeWindow: 24 * time.Hour,
		EscrowWindow:  24 * time.Hour,
	}

	if raw := os.Getenv("PLATFORM_FEE_RATE"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate < 0 || rate >= 1 {
			return nil, fmt.Errorf("config: invalid PLATFORM_FEE_RATE %q", raw)
		}
		cfg.FeeRate = rate
	}

	if raw := os.Getenv("DISPUTE_WINDOW"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("config: invalid DISPUTE_WINDOW %q", raw)
		}
		cfg.DisputeWindow = d
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
