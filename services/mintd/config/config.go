package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rikitrader/secure-mint-engine-sub001/observability/logging"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Amount wraps big.Int amounts given as decimal strings in YAML.
type Amount struct {
	*big.Int
}

// UnmarshalYAML parses decimal integer strings into big.Int values.
func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount must be a decimal string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		a.Int = nil
		return nil
	}
	parsed, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("parse amount %q", raw)
	}
	a.Int = parsed
	return nil
}

// Config captures runtime configuration for mintd.
type Config struct {
	ListenAddress  string             `yaml:"listen"`
	Environment    string             `yaml:"env"`
	DatabasePath   string             `yaml:"database"`
	GuardrailsPath string             `yaml:"guardrails"`
	LogFile        logging.FileConfig `yaml:"log_file"`
	Oracle         OracleConfig       `yaml:"oracle"`
	Policy         PolicyConfig       `yaml:"policy"`
	Treasury       TreasuryConfig     `yaml:"treasury"`
	Redemption     RedemptionConfig   `yaml:"redemption"`
	Pause          PauseConfig        `yaml:"pause"`
	Auth           AuthConfig         `yaml:"auth"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	Telemetry      TelemetryConfig    `yaml:"telemetry"`
	Archive        ArchiveConfig      `yaml:"archive"`
}

// OracleConfig tunes attestation consensus.
type OracleConfig struct {
	MinAttestors    int      `yaml:"min_attestors"`
	MaxAge          Duration `yaml:"max_age"`
	BackingRatioBps uint64   `yaml:"backing_ratio_bps"`
}

// PolicyConfig bounds issuance.
type PolicyConfig struct {
	GlobalSupplyCap Amount   `yaml:"global_supply_cap"`
	EpochMintCap    Amount   `yaml:"epoch_mint_cap"`
	EpochDuration   Duration `yaml:"epoch_duration"`
	TimelockDelay   Duration `yaml:"timelock_delay"`
}

// TreasuryConfig shapes the reserve ledger.
type TreasuryConfig struct {
	AllocationBps         []uint64 `yaml:"allocation_bps"`
	RebalanceThresholdBps uint64   `yaml:"rebalance_threshold_bps"`
	TimelockDelay         Duration `yaml:"timelock_delay"`
}

// RedemptionConfig shapes the redemption queue.
type RedemptionConfig struct {
	MinRedemption    Amount   `yaml:"min_redemption"`
	DailyLimit       Amount   `yaml:"daily_limit"`
	Delay            Duration `yaml:"delay"`
	FeeBps           uint64   `yaml:"fee_bps"`
	SurchargeCapBps  uint64   `yaml:"surcharge_cap_bps"`
	SurchargeEnabled bool     `yaml:"surcharge_enabled"`
}

// PauseConfig shapes the emergency controller.
type PauseConfig struct {
	GuardianCeiling int `yaml:"guardian_ceiling"`
	AutoPauseLevel  int `yaml:"auto_pause_level"`
}

// AuthConfig configures bearer token verification for admin routes.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Audience  string `yaml:"audience"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ArchiveConfig enables the optional Postgres event archive.
type ArchiveConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/mintd.sqlite"
	}
	if cfg.Oracle.MinAttestors <= 0 {
		cfg.Oracle.MinAttestors = 1
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = time.Hour
	}
	if cfg.Oracle.BackingRatioBps == 0 {
		cfg.Oracle.BackingRatioBps = 10_000
	}
	if cfg.Policy.EpochDuration.Duration == 0 {
		cfg.Policy.EpochDuration.Duration = 24 * time.Hour
	}
	if cfg.Policy.TimelockDelay.Duration == 0 {
		cfg.Policy.TimelockDelay.Duration = 48 * time.Hour
	}
	if len(cfg.Treasury.AllocationBps) == 0 {
		cfg.Treasury.AllocationBps = []uint64{2_000, 3_000, 4_000, 1_000}
	}
	if cfg.Treasury.RebalanceThresholdBps == 0 {
		cfg.Treasury.RebalanceThresholdBps = 500
	}
	if cfg.Treasury.TimelockDelay.Duration == 0 {
		cfg.Treasury.TimelockDelay.Duration = cfg.Policy.TimelockDelay.Duration
	}
	if cfg.Redemption.Delay.Duration == 0 {
		cfg.Redemption.Delay.Duration = 72 * time.Hour
	}
	if cfg.Pause.GuardianCeiling == 0 {
		cfg.Pause.GuardianCeiling = 3
	}
	if cfg.Pause.AutoPauseLevel == 0 {
		cfg.Pause.AutoPauseLevel = 2
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

func validate(cfg Config) error {
	if cfg.Policy.GlobalSupplyCap.Int == nil || cfg.Policy.GlobalSupplyCap.Sign() <= 0 {
		return fmt.Errorf("policy global supply cap must be configured")
	}
	if cfg.Policy.EpochMintCap.Int == nil || cfg.Policy.EpochMintCap.Sign() <= 0 {
		return fmt.Errorf("policy epoch mint cap must be configured")
	}
	if cfg.Redemption.MinRedemption.Int == nil || cfg.Redemption.MinRedemption.Sign() <= 0 {
		return fmt.Errorf("redemption minimum must be configured")
	}
	if cfg.Redemption.DailyLimit.Int == nil || cfg.Redemption.DailyLimit.Sign() <= 0 {
		return fmt.Errorf("redemption daily limit must be configured")
	}
	if len(cfg.Treasury.AllocationBps) != 4 {
		return fmt.Errorf("treasury allocation must name exactly four tiers")
	}
	var sum uint64
	for _, bps := range cfg.Treasury.AllocationBps {
		sum += bps
	}
	if sum != 10_000 {
		return fmt.Errorf("treasury allocation must sum to 10000 bps, got %d", sum)
	}
	if cfg.Oracle.BackingRatioBps < 10_000 {
		return fmt.Errorf("oracle backing ratio must be at least 10000 bps")
	}
	if cfg.Pause.GuardianCeiling < 1 || cfg.Pause.GuardianCeiling > 5 {
		return fmt.Errorf("pause guardian ceiling must be within 1..5")
	}
	if cfg.Pause.AutoPauseLevel < 1 || cfg.Pause.AutoPauseLevel > 5 {
		return fmt.Errorf("pause auto level must be within 1..5")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth jwt secret must be configured")
	}
	return nil
}
