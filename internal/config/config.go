package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL         string        `mapstructure:"gamma_api_url"`
	DataAPIURL          string        `mapstructure:"data_api_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MinRequestInterval  time.Duration `mapstructure:"min_request_interval"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	PageRetries         uint64        `mapstructure:"page_retries"`
	PageBackoffBase     time.Duration `mapstructure:"page_backoff_base"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// CollectorConfig holds market selection and trade sampling configuration
type CollectorConfig struct {
	Strategy           string        `mapstructure:"strategy"` // volume | windowed
	NumMarkets         int           `mapstructure:"num_markets"`
	WeeksBack          int           `mapstructure:"weeks_back"`
	Window             time.Duration `mapstructure:"window"`
	MarketsPerWindow   int           `mapstructure:"markets_per_window"`
	MaxPagesPerWindow  int           `mapstructure:"max_pages_per_window"`
	MaxTradesPerMarket int           `mapstructure:"max_trades_per_market"`
	SampleThreshold    int           `mapstructure:"sample_threshold"`
	TradePageSize      int           `mapstructure:"trade_page_size"`
	MarketPageSize     int           `mapstructure:"market_page_size"`
	Category           string        `mapstructure:"category"`
}

// AnalysisConfig holds calibration analysis configuration
type AnalysisConfig struct {
	BucketWidth      float64   `mapstructure:"bucket_width"`
	BucketMode       string    `mapstructure:"bucket_mode"` // fixed | cent
	MinSamples       int       `mapstructure:"min_samples"`
	Confidence       float64   `mapstructure:"confidence"`
	Weighting        string    `mapstructure:"weighting"` // unweighted | weighted | both
	MarketCap        int       `mapstructure:"market_cap"`
	Stratify         string    `mapstructure:"stratify"`
	Side             string    `mapstructure:"side"` // empty = all sides
	TimeBucketsHours []float64 `mapstructure:"time_buckets_hours"`
	LiquidityTiers   []float64 `mapstructure:"liquidity_tiers"`
}

// StorageConfig holds output and persistence configuration
type StorageConfig struct {
	OutputDir       string      `mapstructure:"output_dir"`
	SaveRaw         bool        `mapstructure:"save_raw"`
	Resume          bool        `mapstructure:"resume"`
	SQLitePath      string      `mapstructure:"sqlite_path"` // empty disables the SQLite sink
	FilePermissions os.FileMode `mapstructure:"file_permissions"`
	DirPermissions  os.FileMode `mapstructure:"dir_permissions"`
}

// ArchiveConfig holds S3-compatible archive configuration
type ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	Prefix     string `mapstructure:"prefix"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	PartSizeMB int64  `mapstructure:"part_size_mb"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, a .env file and environment variables.
// An empty path means defaults plus environment only.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	// Enable environment variable override, e.g. POLYCALIB_COLLECTOR_NUM_MARKETS
	v.SetEnvPrefix("POLYCALIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.data_api_url", "https://data-api.polymarket.com")
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.min_request_interval", "100ms")
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")
	v.SetDefault("polymarket.page_retries", 3)
	v.SetDefault("polymarket.page_backoff_base", "2s")
	v.SetDefault("polymarket.max_idle_conns", 10)
	v.SetDefault("polymarket.max_idle_conns_per_host", 5)
	v.SetDefault("polymarket.idle_conn_timeout", "90s")

	// Collector defaults
	v.SetDefault("collector.strategy", "volume")
	v.SetDefault("collector.num_markets", 500)
	v.SetDefault("collector.weeks_back", 8)
	v.SetDefault("collector.window", "168h")
	v.SetDefault("collector.markets_per_window", 100)
	v.SetDefault("collector.max_pages_per_window", 20)
	v.SetDefault("collector.max_trades_per_market", 10000)
	v.SetDefault("collector.sample_threshold", 2000)
	v.SetDefault("collector.trade_page_size", 500)
	v.SetDefault("collector.market_page_size", 100)
	v.SetDefault("collector.category", "")

	// Analysis defaults
	v.SetDefault("analysis.bucket_width", 0.05)
	v.SetDefault("analysis.bucket_mode", "fixed")
	v.SetDefault("analysis.min_samples", 30)
	v.SetDefault("analysis.confidence", 0.95)
	v.SetDefault("analysis.weighting", "both")
	v.SetDefault("analysis.market_cap", 100)
	v.SetDefault("analysis.stratify", "none")
	v.SetDefault("analysis.side", "")
	v.SetDefault("analysis.time_buckets_hours", []float64{24, 168, 720, 2160})
	v.SetDefault("analysis.liquidity_tiers", []float64{1000, 10000, 100000})

	// Storage defaults
	v.SetDefault("storage.output_dir", "./data")
	v.SetDefault("storage.save_raw", false)
	v.SetDefault("storage.resume", true)
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.file_permissions", 0644)
	v.SetDefault("storage.dir_permissions", 0755)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.prefix", "polycalib")
	v.SetDefault("archive.part_size_mb", 8)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.DataAPIURL == "" {
		return fmt.Errorf("polymarket.data_api_url is required")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.MinRequestInterval < 0 {
		return fmt.Errorf("polymarket.min_request_interval must not be negative")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}

	// Validate Collector config
	switch c.Collector.Strategy {
	case "volume":
		if c.Collector.NumMarkets < 1 {
			return fmt.Errorf("collector.num_markets must be at least 1")
		}
	case "windowed":
		if c.Collector.WeeksBack < 1 {
			return fmt.Errorf("collector.weeks_back must be at least 1")
		}
		if c.Collector.Window < time.Hour {
			return fmt.Errorf("collector.window must be at least 1 hour")
		}
		if c.Collector.MarketsPerWindow < 1 {
			return fmt.Errorf("collector.markets_per_window must be at least 1")
		}
		if c.Collector.MaxPagesPerWindow < 1 {
			return fmt.Errorf("collector.max_pages_per_window must be at least 1")
		}
	default:
		return fmt.Errorf("collector.strategy must be one of: volume, windowed")
	}
	if c.Collector.MaxTradesPerMarket < 0 {
		return fmt.Errorf("collector.max_trades_per_market must not be negative")
	}
	if c.Collector.SampleThreshold < 1 {
		return fmt.Errorf("collector.sample_threshold must be at least 1")
	}
	if c.Collector.TradePageSize < 1 || c.Collector.TradePageSize > 500 {
		return fmt.Errorf("collector.trade_page_size must be between 1 and 500")
	}
	if c.Collector.MarketPageSize < 1 || c.Collector.MarketPageSize > 500 {
		return fmt.Errorf("collector.market_page_size must be between 1 and 500")
	}

	// Validate Analysis config
	if c.Analysis.BucketMode != "fixed" && c.Analysis.BucketMode != "cent" {
		return fmt.Errorf("analysis.bucket_mode must be one of: fixed, cent")
	}
	if c.Analysis.BucketMode == "fixed" && (c.Analysis.BucketWidth <= 0 || c.Analysis.BucketWidth > 0.5) {
		return fmt.Errorf("analysis.bucket_width must be in (0, 0.5]")
	}
	if c.Analysis.MinSamples < 1 {
		return fmt.Errorf("analysis.min_samples must be at least 1")
	}
	if c.Analysis.Confidence <= 0 || c.Analysis.Confidence >= 1 {
		return fmt.Errorf("analysis.confidence must be between 0 and 1 (exclusive)")
	}
	validWeighting := map[string]bool{"unweighted": true, "weighted": true, "both": true}
	if !validWeighting[c.Analysis.Weighting] {
		return fmt.Errorf("analysis.weighting must be one of: unweighted, weighted, both")
	}
	if c.Analysis.MarketCap < 1 {
		return fmt.Errorf("analysis.market_cap must be at least 1")
	}
	validStrata := map[string]bool{"none": true, "side": true, "outcome": true, "time_to_resolution": true, "category": true, "liquidity": true}
	if !validStrata[c.Analysis.Stratify] {
		return fmt.Errorf("analysis.stratify must be one of: none, side, outcome, time_to_resolution, category, liquidity")
	}
	if s := strings.ToUpper(c.Analysis.Side); s != "" && s != "BUY" && s != "SELL" {
		return fmt.Errorf("analysis.side must be empty, BUY or SELL")
	}

	// Validate Storage config
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}

	// Validate Archive config
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive is enabled")
		}
		if c.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when archive is enabled")
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
