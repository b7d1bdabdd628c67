package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	USGS      USGSConfig      `mapstructure:"usgs"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// USGSConfig holds USGS FDSN event feed configuration
type USGSConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Lookback     time.Duration `mapstructure:"lookback"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	PollMin      time.Duration `mapstructure:"poll_min"`
	PollMax      time.Duration `mapstructure:"poll_max"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Limit        int           `mapstructure:"limit"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// RulesConfig holds the market rule definitions.
// Window bounds are "2006-01-02 15:04:05" strings interpreted in Timezone.
type RulesConfig struct {
	Timezone string       `mapstructure:"timezone"`
	Markets  []RuleConfig `mapstructure:"markets"`
}

// RuleConfig defines one market rule
type RuleConfig struct {
	Label        string  `mapstructure:"label"`
	MinMagnitude float64 `mapstructure:"min_magnitude"`
	WindowStart  string  `mapstructure:"window_start"`
	WindowEnd    string  `mapstructure:"window_end"`
	CenterLat    float64 `mapstructure:"center_lat"`
	CenterLon    float64 `mapstructure:"center_lon"`
	RadiusKm     float64 `mapstructure:"radius_km"` // 0 = no geofence
}

// MonitorConfig holds monitoring behavior configuration
type MonitorConfig struct {
	CriticalMagnitude float64       `mapstructure:"critical_magnitude"`
	PendingWindow     time.Duration `mapstructure:"pending_window"`
	SeenRetention     time.Duration `mapstructure:"seen_retention"`
}

// HeartbeatConfig holds the daily heartbeat configuration
type HeartbeatConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Timezone     string `mapstructure:"timezone"`
	Hour         int    `mapstructure:"hour"`
	ArmingWindow int    `mapstructure:"arming_window"` // minutes past the hour
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// TradingConfig holds Polymarket order preparation configuration
type TradingConfig struct {
	Enabled     bool                     `mapstructure:"enabled"`
	GammaAPIURL string                   `mapstructure:"gamma_api_url"`
	ClobAPIURL  string                   `mapstructure:"clob_api_url"`
	AmountUSD   float64                  `mapstructure:"amount_usd"`
	Timeout     time.Duration            `mapstructure:"timeout"`
	Markets     map[string]MarketMapping `mapstructure:"markets"`
}

// MarketMapping maps a rule label to a Polymarket market
type MarketMapping struct {
	Slug         string `mapstructure:"slug"`
	OutcomeIndex int    `mapstructure:"outcome_index"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath  string `mapstructure:"db_path"`
	MaxSeen int    `mapstructure:"max_seen"`
}

// MetricsConfig holds the Prometheus exporter configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("QUAKE_ORACLE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// USGS defaults
	v.SetDefault("usgs.endpoint", "https://earthquake.usgs.gov/fdsnws/event/1/query")
	v.SetDefault("usgs.lookback", "2h")
	v.SetDefault("usgs.safety_margin", "2m")
	v.SetDefault("usgs.poll_min", "5s")
	v.SetDefault("usgs.poll_max", "10s")
	v.SetDefault("usgs.timeout", "20s")
	v.SetDefault("usgs.limit", 200)
	v.SetDefault("usgs.max_retries", 3)

	// Rules defaults
	v.SetDefault("rules.timezone", "America/New_York")

	// Monitor defaults
	v.SetDefault("monitor.critical_magnitude", 6.4)
	v.SetDefault("monitor.pending_window", "24h")
	v.SetDefault("monitor.seen_retention", "72h")

	// Heartbeat defaults
	v.SetDefault("heartbeat.enabled", true)
	v.SetDefault("heartbeat.timezone", "Asia/Jerusalem")
	v.SetDefault("heartbeat.hour", 16)
	v.SetDefault("heartbeat.arming_window", 5)

	// Telegram defaults
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Trading defaults
	v.SetDefault("trading.enabled", false)
	v.SetDefault("trading.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("trading.clob_api_url", "https://clob.polymarket.com")
	v.SetDefault("trading.amount_usd", 10.0)
	v.SetDefault("trading.timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/quake-oracle.db")
	v.SetDefault("storage.max_seen", 100000)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9108")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate USGS config
	if c.USGS.Endpoint == "" {
		return fmt.Errorf("usgs.endpoint is required")
	}
	if c.USGS.Lookback < time.Minute {
		return fmt.Errorf("usgs.lookback must be at least 1 minute")
	}
	if c.USGS.SafetyMargin <= 0 {
		return fmt.Errorf("usgs.safety_margin must be positive")
	}
	if c.USGS.PollMin <= 0 || c.USGS.PollMax < c.USGS.PollMin {
		return fmt.Errorf("usgs poll interval requires 0 < poll_min <= poll_max")
	}
	if c.USGS.Limit < 1 || c.USGS.Limit > 20000 {
		return fmt.Errorf("usgs.limit must be between 1 and 20000")
	}

	// Validate Rules config
	if c.Rules.Timezone == "" {
		return fmt.Errorf("rules.timezone is required")
	}
	seen := make(map[string]bool)
	for i, r := range c.Rules.Markets {
		if r.Label == "" {
			return fmt.Errorf("rules.markets[%d].label is required", i)
		}
		if seen[r.Label] {
			return fmt.Errorf("rules.markets[%d]: duplicate label %q", i, r.Label)
		}
		seen[r.Label] = true
		if r.WindowStart == "" || r.WindowEnd == "" {
			return fmt.Errorf("rules.markets[%d]: window_start and window_end are required", i)
		}
		if r.RadiusKm < 0 {
			return fmt.Errorf("rules.markets[%d]: radius_km must not be negative", i)
		}
	}

	// Validate Monitor config
	if c.Monitor.CriticalMagnitude < 0 {
		return fmt.Errorf("monitor.critical_magnitude must not be negative")
	}
	if c.Monitor.PendingWindow < time.Hour {
		return fmt.Errorf("monitor.pending_window must be at least 1 hour")
	}
	if c.Monitor.SeenRetention < c.USGS.Lookback {
		return fmt.Errorf("monitor.seen_retention must be at least usgs.lookback")
	}

	// Validate Heartbeat config
	if c.Heartbeat.Enabled {
		if c.Heartbeat.Timezone == "" {
			return fmt.Errorf("heartbeat.timezone is required when heartbeat is enabled")
		}
		if c.Heartbeat.Hour < 0 || c.Heartbeat.Hour > 23 {
			return fmt.Errorf("heartbeat.hour must be between 0 and 23")
		}
		if c.Heartbeat.ArmingWindow < 1 || c.Heartbeat.ArmingWindow > 59 {
			return fmt.Errorf("heartbeat.arming_window must be between 1 and 59 minutes")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Trading config
	if c.Trading.Enabled {
		if c.Trading.GammaAPIURL == "" {
			return fmt.Errorf("trading.gamma_api_url is required when trading is enabled")
		}
		if c.Trading.ClobAPIURL == "" {
			return fmt.Errorf("trading.clob_api_url is required when trading is enabled")
		}
		if c.Trading.AmountUSD <= 0 {
			return fmt.Errorf("trading.amount_usd must be positive")
		}
		for label, m := range c.Trading.Markets {
			if m.Slug == "" {
				return fmt.Errorf("trading.markets[%q].slug is required", label)
			}
			if m.OutcomeIndex < 0 {
				return fmt.Errorf("trading.markets[%q].outcome_index must not be negative", label)
			}
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxSeen < 1 {
		return fmt.Errorf("storage.max_seen must be at least 1")
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
