package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VaultConfig describes one vault and its settlement parameters.
type VaultConfig struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"` // INSTITUTIONAL or YIELD
	Asset          string `yaml:"asset"`
	AdapterAccount string `yaml:"adapter_account"`
	Decimals       int32  `yaml:"decimals"`

	ManagementFeeBps  int64 `yaml:"management_fee_bps"`
	PerformanceFeeBps int64 `yaml:"performance_fee_bps"`
	HurdleRateBps     int64 `yaml:"hurdle_rate_bps"`
	IsHardHurdle      bool  `yaml:"is_hard_hurdle"`

	ProfitShareBps   int64  `yaml:"profit_share_bps"`
	InsuranceAccount string `yaml:"insurance_account"`
	InsuranceBps     int64  `yaml:"insurance_bps"`
	TreasuryBps      int64  `yaml:"treasury_bps"`
}

// AssetConfig binds an asset symbol to its ledger-side venue account.
type AssetConfig struct {
	Symbol        string `yaml:"symbol"`
	LedgerAccount string `yaml:"ledger_account"`
}

// APIKeyConfig maps an inbound API key to an actor and its roles.
type APIKeyConfig struct {
	Key   string   `yaml:"key"`
	Actor string   `yaml:"actor"`
	Roles []string `yaml:"roles"`
}

// Config holds the full application configuration. Sensitive values are
// overridden from the environment after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Settlement struct {
		CooldownSec     int    `yaml:"cooldown_sec"`
		TreasuryAccount string `yaml:"treasury_account"`
	} `yaml:"settlement"`

	Assets []AssetConfig `yaml:"assets"`
	Vaults []VaultConfig `yaml:"vaults"`

	Venue struct {
		WSURL     string `yaml:"ws_url"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"venue"`

	Server struct {
		Addr           string         `yaml:"addr"`
		RateLimitRPS   float64        `yaml:"rate_limit_rps"`
		RateLimitBurst int            `yaml:"rate_limit_burst"`
		APIKeys        []APIKeyConfig `yaml:"api_keys"`
	} `yaml:"server"`

	Schedule struct {
		SettleSpec  string `yaml:"settle_spec"`  // cron spec for batch settlement
		ExecuteSpec string `yaml:"execute_spec"` // cron spec for matured proposal execution
	} `yaml:"schedule"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Cooldown returns the proposal cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Settlement.CooldownSec) * time.Second
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Settlement.CooldownSec < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	if c.Settlement.TreasuryAccount == "" {
		return fmt.Errorf("treasury account is required")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	assets := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if a.Symbol == "" || a.LedgerAccount == "" {
			return fmt.Errorf("asset %q: symbol and ledger_account are required", a.Symbol)
		}
		assets[a.Symbol] = true
	}
	if len(c.Vaults) == 0 {
		return fmt.Errorf("at least one vault is required")
	}
	for _, v := range c.Vaults {
		if v.Name == "" || v.AdapterAccount == "" {
			return fmt.Errorf("vault %q: name and adapter_account are required", v.Name)
		}
		if v.Type != "INSTITUTIONAL" && v.Type != "YIELD" {
			return fmt.Errorf("vault %q: unknown type %q", v.Name, v.Type)
		}
		if !assets[v.Asset] {
			return fmt.Errorf("vault %q: unknown asset %q", v.Name, v.Asset)
		}
		for _, bps := range []int64{v.ManagementFeeBps, v.PerformanceFeeBps, v.HurdleRateBps, v.ProfitShareBps, v.InsuranceBps, v.TreasuryBps} {
			if bps < 0 || bps > 10000 {
				return fmt.Errorf("vault %q: basis point value out of range", v.Name)
			}
		}
		if v.InsuranceBps > 0 && v.InsuranceAccount == "" {
			return fmt.Errorf("vault %q: insurance_account required with insurance_bps", v.Name)
		}
	}
	if c.Venue.WSURL != "" && !hasPrefix(c.Venue.WSURL, "ws://") && !hasPrefix(c.Venue.WSURL, "wss://") {
		return fmt.Errorf("invalid venue WS URL: %s", c.Venue.WSURL)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces sensitive values from the environment when set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("SETTLE_VENUE_KEY"); key != "" {
		cfg.Venue.AccessKey = key
	}
	if secret := os.Getenv("SETTLE_VENUE_SECRET"); secret != "" {
		cfg.Venue.SecretKey = secret
	}
	if addr := os.Getenv("SETTLE_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}
