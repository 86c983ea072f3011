package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WALLETMON_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WALLETMON_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Moralis.APIKey, "WALLETMON_MORALIS_API_KEY")
	setStr(&cfg.Moralis.APIKey, "MORALIS_API_KEY") // compatibility alias
	setStr(&cfg.Moralis.BaseURL, "WALLETMON_MORALIS_BASE_URL")
	setInt(&cfg.Moralis.RequestsPerSecond, "WALLETMON_MORALIS_REQUESTS_PER_SECOND")

	setStr(&cfg.Postgres.DSN, "WALLETMON_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WALLETMON_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WALLETMON_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WALLETMON_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WALLETMON_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WALLETMON_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WALLETMON_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "WALLETMON_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "WALLETMON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WALLETMON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WALLETMON_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "WALLETMON_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "WALLETMON_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WALLETMON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALLETMON_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALLETMON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WALLETMON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALLETMON_S3_SECRET_KEY")

	setDuration(&cfg.Monitor.PollingInterval, "WALLETMON_POLLING_INTERVAL")
	setDuration(&cfg.Monitor.GasInterval, "WALLETMON_MONITORING_INTERVAL")
	setDuration(&cfg.Monitor.MaxBackoff, "WALLETMON_MAX_BACKOFF")
	setInt(&cfg.Monitor.DegradedAfter, "WALLETMON_DEGRADED_AFTER")

	setFloat64(&cfg.Alerts.MinTransactionUSD, "WALLETMON_MIN_TRANSACTION_VALUE_USD")
	setFloat64(&cfg.Alerts.BalanceChangePct, "WALLETMON_SIGNIFICANT_CHANGE_THRESHOLD")

	setStr(&cfg.Notify.TelegramToken, "WALLETMON_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN") // compatibility alias
	setStr(&cfg.Notify.TelegramChatID, "WALLETMON_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID") // compatibility alias
	setStr(&cfg.Notify.DiscordWebhookURL, "WALLETMON_DISCORD_WEBHOOK_URL")

	setBool(&cfg.Server.Enabled, "WALLETMON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WALLETMON_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "WALLETMON_SERVER_API_KEY")

	setStr(&cfg.Mode, "WALLETMON_MODE")
	setStr(&cfg.LogLevel, "WALLETMON_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
