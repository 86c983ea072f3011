// Package config defines the top-level configuration for the wallet monitor
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by WALLETMON_* environment
// variables.
type Config struct {
	Moralis  MoralisConfig  `toml:"moralis"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Alerts   AlertsConfig   `toml:"alerts"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MoralisConfig holds the data-provider endpoint and credentials.
type MoralisConfig struct {
	APIKey  string   `toml:"api_key"`
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
	// RequestsPerSecond bounds outgoing API calls via the shared rate limiter.
	RequestsPerSecond int `toml:"requests_per_second"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the cold
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MonitorConfig holds polling cadence and failure-handling parameters.
type MonitorConfig struct {
	// Networks lists the networks every tracked wallet is polled on.
	Networks []string `toml:"networks"`
	// PollingInterval is the per wallet×network transfer poll cadence.
	PollingInterval duration `toml:"polling_interval"`
	// GasInterval is the per-network gas sampling cadence.
	GasInterval duration `toml:"gas_interval"`
	// ProviderTimeout bounds each provider call within a poll cycle.
	ProviderTimeout duration `toml:"provider_timeout"`
	// MaxBackoff caps the exponential backoff applied after failures.
	MaxBackoff duration `toml:"max_backoff"`
	// DegradedAfter is the consecutive-failure ceiling beyond which a
	// SourceDegraded advisory is emitted.
	DegradedAfter int `toml:"degraded_after"`
	// SnapshotInterval is the portfolio snapshot/delta cadence.
	SnapshotInterval duration `toml:"snapshot_interval"`
	// ArchiveRetentionDays controls how long ledger events and transactions
	// stay in Postgres before moving to S3.
	ArchiveRetentionDays int `toml:"archive_retention_days"`
	// ArchiveCron schedules archive runs ("0 3 1 * *" = 03:00 on the 1st).
	ArchiveCron string `toml:"archive_cron"`
}

// GasBandTOML is the TOML shape of one network's gas band boundaries.
type GasBandTOML struct {
	LowMaxGwei  float64 `toml:"low_max_gwei"`
	HighMinGwei float64 `toml:"high_min_gwei"`
}

// AlertsConfig holds the threshold rule parameters.
type AlertsConfig struct {
	MinTransactionUSD     float64                `toml:"min_transaction_usd"`
	BalanceChangePct      float64                `toml:"balance_change_pct"`
	PriceBackfillAttempts int                    `toml:"price_backfill_attempts"`
	GasBands              map[string]GasBandTOML `toml:"gas_bands"`
	// Routers adds known swap-router addresses per network on top of the
	// built-in defaults.
	Routers map[string][]string `toml:"routers"`
}

// Thresholds converts the TOML alert section into the domain rule set.
func (a AlertsConfig) Thresholds() (domain.ThresholdConfig, error) {
	bands := make(map[domain.Network]domain.GasBandConfig, len(a.GasBands))
	for name, b := range a.GasBands {
		n, err := domain.ParseNetwork(name)
		if err != nil {
			return domain.ThresholdConfig{}, fmt.Errorf("gas band %q: %w", name, err)
		}
		bands[n] = domain.GasBandConfig{LowMaxGwei: b.LowMaxGwei, HighMinGwei: b.HighMinGwei}
	}
	return domain.ThresholdConfig{
		MinTransactionUSD: a.MinTransactionUSD,
		BalanceChangePct:  a.BalanceChangePct,
		GasBands:          bands,
	}, nil
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP query API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimitRPM bounds each client IP to this many requests per minute;
	// 0 disables API rate limiting.
	RateLimitRPM int `toml:"rate_limit_rpm"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Moralis: MoralisConfig{
			BaseURL:           "https://deep-index.moralis.io/api/v2",
			Timeout:           duration{30 * time.Second},
			RequestsPerSecond: 20,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "walletmon",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "walletmon-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Monitor: MonitorConfig{
			Networks:             []string{"ETH"},
			PollingInterval:      duration{60 * time.Second},
			GasInterval:          duration{5 * time.Minute},
			ProviderTimeout:      duration{30 * time.Second},
			MaxBackoff:           duration{15 * time.Minute},
			DegradedAfter:        5,
			SnapshotInterval:     duration{5 * time.Minute},
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Alerts: AlertsConfig{
			MinTransactionUSD:     100,
			BalanceChangePct:      0.05,
			PriceBackfillAttempts: 3,
			GasBands: map[string]GasBandTOML{
				"ETH":   {LowMaxGwei: 20, HighMinGwei: 60},
				"BSC":   {LowMaxGwei: 3, HighMinGwei: 8},
				"MATIC": {LowMaxGwei: 50, HighMinGwei: 200},
				"ARB":   {LowMaxGwei: 0.05, HighMinGwei: 0.5},
				"AVAX":  {LowMaxGwei: 25, HighMinGwei: 60},
			},
		},
		Notify: NotifyConfig{
			Events: []string{"transaction", "balance_change", "gas_band", "source_degraded"},
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimitRPM: 300,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsProvider := c.Mode == "monitor" || c.Mode == "full"
	if needsProvider && c.Moralis.APIKey == "" {
		errs = append(errs, "moralis: api_key must be set for mode "+c.Mode)
	}
	if c.Moralis.BaseURL == "" {
		errs = append(errs, "moralis: base_url must not be empty")
	}
	if c.Moralis.RequestsPerSecond < 1 {
		errs = append(errs, "moralis: requests_per_second must be >= 1")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if len(c.Monitor.Networks) == 0 {
		errs = append(errs, "monitor: at least one network must be configured")
	}
	for _, n := range c.Monitor.Networks {
		if _, err := domain.ParseNetwork(n); err != nil {
			errs = append(errs, fmt.Sprintf("monitor: unsupported network %q", n))
		}
	}
	if c.Monitor.PollingInterval.Duration <= 0 {
		errs = append(errs, "monitor: polling_interval must be positive")
	}
	if c.Monitor.GasInterval.Duration <= 0 {
		errs = append(errs, "monitor: gas_interval must be positive")
	}
	if c.Monitor.MaxBackoff.Duration < c.Monitor.PollingInterval.Duration {
		errs = append(errs, "monitor: max_backoff must be >= polling_interval")
	}
	if c.Monitor.DegradedAfter < 1 {
		errs = append(errs, "monitor: degraded_after must be >= 1")
	}

	if c.Alerts.MinTransactionUSD < 0 {
		errs = append(errs, "alerts: min_transaction_usd must be >= 0")
	}
	if c.Alerts.BalanceChangePct <= 0 {
		errs = append(errs, "alerts: balance_change_pct must be > 0")
	}
	if c.Alerts.PriceBackfillAttempts < 0 {
		errs = append(errs, "alerts: price_backfill_attempts must be >= 0")
	}
	for name, b := range c.Alerts.GasBands {
		if _, err := domain.ParseNetwork(name); err != nil {
			errs = append(errs, fmt.Sprintf("alerts: gas band for unsupported network %q", name))
		}
		if b.LowMaxGwei < 0 || b.HighMinGwei < b.LowMaxGwei {
			errs = append(errs, fmt.Sprintf("alerts: gas band for %s must satisfy 0 <= low_max <= high_min", name))
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPM < 0 {
			errs = append(errs, "server: rate_limit_rpm must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
