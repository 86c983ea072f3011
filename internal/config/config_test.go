package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	cfg.Moralis.APIKey = "key" // the only required secret
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults().Validate() = %v, want nil", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"
log_level = "debug"

[moralis]
api_key = "from-file"

[monitor]
networks = ["ETH", "BSC"]
polling_interval = "30s"

[alerts]
min_transaction_usd = 250.0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "monitor" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Moralis.APIKey != "from-file" {
		t.Errorf("api_key = %q", cfg.Moralis.APIKey)
	}
	if cfg.Monitor.PollingInterval.Duration != 30*time.Second {
		t.Errorf("polling_interval = %v, want 30s", cfg.Monitor.PollingInterval.Duration)
	}
	if cfg.Alerts.MinTransactionUSD != 250 {
		t.Errorf("min_transaction_usd = %v, want 250", cfg.Alerts.MinTransactionUSD)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}
	if len(cfg.Monitor.Networks) != 2 {
		t.Errorf("networks = %v", cfg.Monitor.Networks)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
[moralis]
api_key = "from-file"

[postgres]
password = "from-file"
`)

	t.Setenv("WALLETMON_MORALIS_API_KEY", "from-env")
	t.Setenv("WALLETMON_POSTGRES_PASSWORD", "secret")
	t.Setenv("WALLETMON_POLLING_INTERVAL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Moralis.APIKey != "from-env" {
		t.Errorf("api_key = %q, want env value", cfg.Moralis.APIKey)
	}
	if cfg.Postgres.Password != "secret" {
		t.Errorf("password = %q, want env value", cfg.Postgres.Password)
	}
	if cfg.Monitor.PollingInterval.Duration != 90*time.Second {
		t.Errorf("polling_interval = %v, want 90s", cfg.Monitor.PollingInterval.Duration)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown mode":        func(c *Config) { c.Mode = "batch" },
		"unknown log level":   func(c *Config) { c.LogLevel = "verbose" },
		"missing api key":     func(c *Config) { c.Moralis.APIKey = "" },
		"no networks":         func(c *Config) { c.Monitor.Networks = nil },
		"unsupported network": func(c *Config) { c.Monitor.Networks = []string{"SOL"} },
		"zero poll interval":  func(c *Config) { c.Monitor.PollingInterval = duration{0} },
		"backoff below poll":  func(c *Config) { c.Monitor.MaxBackoff = duration{time.Second} },
		"bad server port":     func(c *Config) { c.Server.Port = 0 },
		"negative rate limit": func(c *Config) { c.Server.RateLimitRPM = -1 },
		"bad gas band": func(c *Config) {
			c.Alerts.GasBands = map[string]GasBandTOML{"ETH": {LowMaxGwei: 60, HighMinGwei: 20}}
		},
	}

	for name, mutate := range cases {
		cfg := Defaults()
		cfg.Moralis.APIKey = "key"
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", name)
		}
	}
}

func TestValidateCombinesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Moralis.APIKey = "key"
	cfg.Mode = "batch"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "mode") || !strings.Contains(msg, "redis") {
		t.Errorf("error should name every problem, got: %v", msg)
	}
}

func TestThresholds(t *testing.T) {
	a := AlertsConfig{
		MinTransactionUSD: 500,
		BalanceChangePct:  0.1,
		GasBands: map[string]GasBandTOML{
			"eth": {LowMaxGwei: 20, HighMinGwei: 60},
		},
	}

	th, err := a.Thresholds()
	if err != nil {
		t.Fatalf("Thresholds: %v", err)
	}
	if th.MinTransactionUSD != 500 {
		t.Errorf("min = %v, want 500", th.MinTransactionUSD)
	}
	band, ok := th.GasBands[domain.NetworkETH]
	if !ok {
		t.Fatal("lowercase network name not normalized")
	}
	if band.LowMaxGwei != 20 || band.HighMinGwei != 60 {
		t.Errorf("band = %+v", band)
	}

	a.GasBands = map[string]GasBandTOML{"SOL": {}}
	if _, err := a.Thresholds(); err == nil {
		t.Error("Thresholds() accepted an unsupported network")
	}
}
