package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// OracleConfig selects and configures the settlement price feed source.
// Mode "static" serves a fixed price (local and test deployments); mode
// "feed" polls an external HTTP price feed.
type OracleConfig struct {
	Mode           string        `mapstructure:"mode"` // "static" or "feed"
	StaticPrice    int64         `mapstructure:"static_price"`
	StaticDecimals int           `mapstructure:"static_decimals"`
	FeedURL        string        `mapstructure:"feed_url"`
	FeedTimeout    time.Duration `mapstructure:"feed_timeout"`
	FeedMinGap     time.Duration `mapstructure:"feed_min_gap"` // min spacing between feed requests
}

// PricingConfig holds the per-unit USD rates and settlement currency scale.
// Rates are deployment constants, in cents per unit-hour.
type PricingConfig struct {
	CPUCentsHour       int64 `mapstructure:"cpu_cents_hour"`
	GPUCentsHour       int64 `mapstructure:"gpu_cents_hour"`
	DiskCentsHourPerGB int64 `mapstructure:"disk_cents_hour_per_gb"`
	RAMCentsHourPerGB  int64 `mapstructure:"ram_cents_hour_per_gb"`
	SettlementDecimals int   `mapstructure:"settlement_decimals"`
}

// RegistryConfig holds provider admission policy.
type RegistryConfig struct {
	MinLeadTime time.Duration `mapstructure:"min_lead_time"`
}

// MarketplaceConfig identifies the marketplace's own principal, used for
// restricted session reads.
type MarketplaceConfig struct {
	Account string `mapstructure:"account"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration primarily from environment variables
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from .env file if it exists
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.path", "./data/torpedo.db")

	// Oracle defaults: a fixed local price matching the dev aggregator
	// ($2000 per settlement unit at 8 decimals)
	v.SetDefault("oracle.mode", "static")
	v.SetDefault("oracle.static_price", int64(200000000000))
	v.SetDefault("oracle.static_decimals", 8)
	v.SetDefault("oracle.feed_timeout", 10*time.Second)
	v.SetDefault("oracle.feed_min_gap", time.Second)

	// Pricing defaults, cents per unit-hour
	v.SetDefault("pricing.cpu_cents_hour", int64(100))
	v.SetDefault("pricing.gpu_cents_hour", int64(1000))
	v.SetDefault("pricing.disk_cents_hour_per_gb", int64(50))
	v.SetDefault("pricing.ram_cents_hour_per_gb", int64(150))
	v.SetDefault("pricing.settlement_decimals", 18)

	// Registry admission defaults
	v.SetDefault("registry.min_lead_time", 4*time.Hour)

	// Marketplace principal
	v.SetDefault("marketplace.account", "torpedo-marketplace")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("database.path", "DATABASE_PATH")

	bindEnv("server.host", "SERVER_HOST")
	bindEnv("server.port", "SERVER_PORT")

	bindEnv("oracle.mode", "ORACLE_MODE")
	bindEnv("oracle.feed_url", "ORACLE_FEED_URL")

	bindEnv("marketplace.account", "MARKETPLACE_ACCOUNT")

	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Oracle.Mode {
	case "static":
		if c.Oracle.StaticPrice <= 0 {
			return fmt.Errorf("oracle.static_price must be positive in static mode")
		}
	case "feed":
		if c.Oracle.FeedURL == "" {
			return fmt.Errorf("ORACLE_FEED_URL is required when oracle mode is feed")
		}
	default:
		return fmt.Errorf("unknown oracle mode %q", c.Oracle.Mode)
	}

	if c.Pricing.CPUCentsHour < 0 || c.Pricing.GPUCentsHour < 0 ||
		c.Pricing.DiskCentsHourPerGB < 0 || c.Pricing.RAMCentsHourPerGB < 0 {
		return fmt.Errorf("pricing rates must be non-negative")
	}
	if c.Pricing.SettlementDecimals < 0 || c.Pricing.SettlementDecimals > 30 {
		return fmt.Errorf("pricing.settlement_decimals out of range: %d", c.Pricing.SettlementDecimals)
	}

	if c.Registry.MinLeadTime < 0 {
		return fmt.Errorf("registry.min_lead_time must be non-negative")
	}

	if c.Marketplace.Account == "" {
		return fmt.Errorf("marketplace.account must be set")
	}

	return nil
}
