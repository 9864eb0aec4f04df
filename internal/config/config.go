package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"StockOracle/internal/logger"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DataSource DataSourceConfig `yaml:"data_source"`
	Symbols    []string         `yaml:"symbols"`
	Sync       SyncConfig       `yaml:"sync"`
	Prediction PredictionConfig `yaml:"prediction"`
	Cache      CacheConfig      `yaml:"cache"`
	Schedule   struct {
		RefreshCron string `yaml:"refresh_cron"`
		ReportCron  string `yaml:"report_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Log   logger.Config `yaml:"log"`
	Proxy string        `yaml:"proxy"`
}

// DataSourceConfig configures the upstream market-data provider.
type DataSourceConfig struct {
	Provider        string        `yaml:"provider"` // twelvedata, yahoo, mock
	BaseURL         string        `yaml:"base_url"`
	SymbolsURL      string        `yaml:"symbols_url"`
	APIKey          string        `yaml:"api_key"`
	Interval        string        `yaml:"interval"` // 1day, 1week, 1month, 1h, 5min ...
	Timeout         time.Duration `yaml:"timeout"`
	MinInterval     time.Duration `yaml:"min_interval"` // minimum gap between provider calls
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// SyncConfig controls the fetch window of the ingestion coordinator.
type SyncConfig struct {
	Overlap     time.Duration `yaml:"overlap"`      // re-fetch this far behind the latest stored bar
	HistoryDays int           `yaml:"history_days"` // initial backfill for an empty symbol
	Workers     int           `yaml:"workers"`      // parallel symbols in SyncAll
}

// PredictionConfig controls the regression.
type PredictionConfig struct {
	Window         int           `yaml:"window"`
	MinPoints      int           `yaml:"min_points"`
	DefaultHorizon int           `yaml:"default_horizon"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	CacheSize      int           `yaml:"cache_size"`
}

// CacheConfig optionally moves the prediction cache to Redis.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	// defaults whose zero value is meaningful are set before decoding
	cfg := &Config{Prediction: PredictionConfig{DefaultHorizon: 1}}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATA_PROVIDER"); v != "" {
		c.DataSource.Provider = v
	}
	if v := os.Getenv("DATA_BASE_URL"); v != "" {
		c.DataSource.BaseURL = v
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		c.DataSource.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("CRON_REFRESH"); v != "" {
		c.Schedule.RefreshCron = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c *Config) applyDefaults() {
	ds := &c.DataSource
	if ds.Provider == "" {
		ds.Provider = "twelvedata"
	}
	if ds.BaseURL == "" {
		switch ds.Provider {
		case "twelvedata":
			ds.BaseURL = "https://api.twelvedata.com/time_series"
		case "yahoo":
			ds.BaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"
		}
	}
	if ds.SymbolsURL == "" && ds.Provider == "twelvedata" {
		ds.SymbolsURL = "https://api.twelvedata.com/stocks"
	}
	if ds.Interval == "" {
		ds.Interval = "1day"
	}
	if ds.Timeout == 0 {
		ds.Timeout = 30 * time.Second
	}
	if ds.MinInterval == 0 {
		ds.MinInterval = 8 * time.Second // free tier: 8 calls per minute
	}
	if ds.MaxAttempts == 0 {
		ds.MaxAttempts = 3
	}
	if ds.BackoffBase == 0 {
		ds.BackoffBase = time.Second
	}
	if ds.BackoffMax == 0 {
		ds.BackoffMax = 30 * time.Second
	}
	if ds.BreakerFailures == 0 {
		ds.BreakerFailures = 5
	}
	if ds.BreakerCooldown == 0 {
		ds.BreakerCooldown = time.Minute
	}

	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"AAPL"}
	}

	if c.Sync.Overlap == 0 {
		c.Sync.Overlap = 5 * 24 * time.Hour
	}
	if c.Sync.HistoryDays == 0 {
		c.Sync.HistoryDays = 365
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 2
	}

	p := &c.Prediction
	if p.Window == 0 {
		p.Window = 90
	}
	if p.MinPoints == 0 {
		p.MinPoints = 2
	}
	if p.CacheTTL == 0 {
		p.CacheTTL = 5 * time.Minute
	}
	if p.CacheSize == 0 {
		p.CacheSize = 256
	}

	if c.Schedule.RefreshCron == "" {
		c.Schedule.RefreshCron = "0 30 22 * * 1-5"
	}
	if c.Schedule.ReportCron == "" {
		c.Schedule.ReportCron = "0 0 23 * * 1-5"
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.DataSource.Provider {
	case "twelvedata":
		if c.DataSource.APIKey == "" {
			return fmt.Errorf("data_source.api_key is required for twelvedata")
		}
	case "yahoo", "mock":
	default:
		return fmt.Errorf("data_source.provider %q is not supported", c.DataSource.Provider)
	}
	if c.DataSource.MaxAttempts < 1 {
		return fmt.Errorf("data_source.max_attempts must be at least 1")
	}
	if c.DataSource.MinInterval < 0 {
		return fmt.Errorf("data_source.min_interval cannot be negative")
	}
	for _, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("symbols must not contain empty entries")
		}
	}
	if c.Sync.Overlap < 0 {
		return fmt.Errorf("sync.overlap cannot be negative")
	}
	if c.Sync.HistoryDays < 1 {
		return fmt.Errorf("sync.history_days must be positive")
	}
	if c.Prediction.MinPoints < 2 {
		return fmt.Errorf("prediction.min_points must be at least 2")
	}
	if c.Prediction.DefaultHorizon < 0 {
		return fmt.Errorf("prediction.default_horizon cannot be negative")
	}
	if c.Prediction.Window < c.Prediction.MinPoints {
		return fmt.Errorf("prediction.window must be >= prediction.min_points")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}
