// Package config provides configuration management for the Forward Factor scanner.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

// Defaults applied by normalize when a field is unset
const (
	defaultRequestsPerMinute = 5
	defaultProviderTimeout   = "15s"
	defaultMaxRetries        = 3
	defaultConcurrency       = 4
	defaultScanTimeout       = "2m"
	defaultTopN              = 20
	defaultStartingCash      = 100000.0
	defaultStopLossPct       = 50.0
	defaultTakeProfitPct     = 25.0
	defaultRefreshInterval   = "15m"
	defaultRefreshWorkers    = 4
	defaultEarningsTTL       = "12h"
	defaultStoragePath       = "ff_data.json"
	defaultDashboardPort     = 8080
	defaultPolygonBaseURL    = "https://api.polygon.io"
	defaultFinnhubBaseURL    = "https://finnhub.io/api/v1"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Provider    ProviderConfig    `yaml:"provider"`
	Scan        ScanConfig        `yaml:"scan"`
	Paper       PaperConfig       `yaml:"paper"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	DataSource string `yaml:"data_source"` // live | mock
	LogLevel   string `yaml:"log_level"`   // debug | info | warn | error
	LogFormat  string `yaml:"log_format"`  // text | json
}

// ProviderConfig defines market data API settings.
type ProviderConfig struct {
	PolygonAPIKey     string `yaml:"polygon_api_key"`
	PolygonBaseURL    string `yaml:"polygon_base_url"`
	FinnhubAPIKey     string `yaml:"finnhub_api_key"`
	FinnhubBaseURL    string `yaml:"finnhub_base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Timeout           string `yaml:"timeout"`
	MaxRetries        int    `yaml:"max_retries"`
}

// ScanConfig defines scan defaults; request fields override them.
type ScanConfig struct {
	Tickers            []string `yaml:"tickers"`
	Concurrency        int      `yaml:"concurrency"`
	Timeout            string   `yaml:"timeout"`
	TopN               int      `yaml:"top_n"`
	MinOpenInterest    int64    `yaml:"min_open_interest"`
	StrategyFilterMode string   `yaml:"strategy_filter_mode"`
	DTEStrategy        string   `yaml:"dte_strategy"`
	FFCalculationMode  string   `yaml:"ff_calculation_mode"`
	EarningsIVPremium  float64  `yaml:"earnings_iv_premium"`
	MinFF              *float64 `yaml:"min_ff"`
	MaxFF              *float64 `yaml:"max_ff"`
}

// PaperConfig defines paper trading parameters.
type PaperConfig struct {
	StartingCash       float64 `yaml:"starting_cash"`
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TakeProfitPct      float64 `yaml:"take_profit_pct"`
	RefreshInterval    string  `yaml:"refresh_interval"`
	RefreshConcurrency int     `yaml:"refresh_concurrency"`
}

// StorageConfig defines where scans and paper trades are persisted.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // json | postgres
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// CacheConfig defines the optional Redis cache. Empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	EarningsTTL   string `yaml:"earnings_ttl"`
}

// DashboardConfig defines the JSON API server.
type DashboardConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
// A .env file next to the working directory is loaded first, if present.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML config bytes, expanding environment variables first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
// It fills defaults for unset fields before checking.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.DataSource != "live" && c.Environment.DataSource != "mock" {
		return fmt.Errorf("environment.data_source must be 'live' or 'mock'")
	}
	if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
		return fmt.Errorf("environment.log_level invalid: %w", err)
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	// Provider validation
	if c.IsLive() && c.Provider.PolygonAPIKey == "" {
		return fmt.Errorf("provider.polygon_api_key is required when environment.data_source is 'live'")
	}
	if c.Provider.RequestsPerMinute <= 0 {
		return fmt.Errorf("provider.requests_per_minute must be > 0")
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider.max_retries must be >= 0")
	}
	if _, err := time.ParseDuration(c.Provider.Timeout); err != nil {
		return fmt.Errorf("provider.timeout invalid: %w", err)
	}

	// Scan validation
	if len(c.Scan.Tickers) > 100 {
		return fmt.Errorf("scan.tickers must list at most 100 symbols (got %d)", len(c.Scan.Tickers))
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan.concurrency must be > 0")
	}
	if _, err := time.ParseDuration(c.Scan.Timeout); err != nil {
		return fmt.Errorf("scan.timeout invalid: %w", err)
	}
	if c.Scan.TopN < 1 || c.Scan.TopN > 100 {
		return fmt.Errorf("scan.top_n must be between 1 and 100")
	}
	if c.Scan.MinOpenInterest < 0 {
		return fmt.Errorf("scan.min_open_interest must be >= 0")
	}
	if !models.StrategyFilterMode(c.Scan.StrategyFilterMode).Valid() {
		return fmt.Errorf("scan.strategy_filter_mode %q is not one of aggressive|moderate|balanced|minimal|none",
			c.Scan.StrategyFilterMode)
	}
	if !models.DTEStrategy(c.Scan.DTEStrategy).Valid() {
		return fmt.Errorf("scan.dte_strategy %q is not one of 30-90|30-60|60-90|all", c.Scan.DTEStrategy)
	}
	if !models.FFCalculationMode(c.Scan.FFCalculationMode).Valid() {
		return fmt.Errorf("scan.ff_calculation_mode %q is not one of raw|ex-earnings", c.Scan.FFCalculationMode)
	}
	if c.Scan.EarningsIVPremium < 0 || c.Scan.EarningsIVPremium >= 1 {
		return fmt.Errorf("scan.earnings_iv_premium must be in [0,1)")
	}
	if c.Scan.MinFF != nil && c.Scan.MaxFF != nil && *c.Scan.MinFF > *c.Scan.MaxFF {
		return fmt.Errorf("scan.min_ff (%.2f) must be <= scan.max_ff (%.2f)", *c.Scan.MinFF, *c.Scan.MaxFF)
	}

	// Paper trading validation
	if c.Paper.StartingCash <= 0 {
		return fmt.Errorf("paper.starting_cash must be > 0")
	}
	if c.Paper.StopLossPct <= 0 || c.Paper.StopLossPct > 100 {
		return fmt.Errorf("paper.stop_loss_pct must be in (0,100]")
	}
	if c.Paper.TakeProfitPct <= 0 {
		return fmt.Errorf("paper.take_profit_pct must be > 0")
	}
	if _, err := time.ParseDuration(c.Paper.RefreshInterval); err != nil {
		return fmt.Errorf("paper.refresh_interval invalid: %w", err)
	}
	if c.Paper.RefreshConcurrency <= 0 {
		return fmt.Errorf("paper.refresh_concurrency must be > 0")
	}

	// Storage validation
	switch c.Storage.Backend {
	case "json":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the json backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'json' or 'postgres'")
	}

	// Cache validation
	if _, err := time.ParseDuration(c.Cache.EarningsTTL); err != nil {
		return fmt.Errorf("cache.earnings_ttl invalid: %w", err)
	}

	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	if c.Environment.DataSource == "" {
		c.Environment.DataSource = "mock"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	if c.Provider.PolygonBaseURL == "" {
		c.Provider.PolygonBaseURL = defaultPolygonBaseURL
	}
	if c.Provider.FinnhubBaseURL == "" {
		c.Provider.FinnhubBaseURL = defaultFinnhubBaseURL
	}
	if c.Provider.RequestsPerMinute == 0 {
		c.Provider.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.Provider.Timeout == "" {
		c.Provider.Timeout = defaultProviderTimeout
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = defaultMaxRetries
	}
	if c.Scan.Concurrency == 0 {
		c.Scan.Concurrency = defaultConcurrency
	}
	if c.Scan.Timeout == "" {
		c.Scan.Timeout = defaultScanTimeout
	}
	if c.Scan.TopN == 0 {
		c.Scan.TopN = defaultTopN
	}
	if c.Scan.StrategyFilterMode == "" {
		c.Scan.StrategyFilterMode = string(models.FilterBalanced)
	}
	if c.Scan.DTEStrategy == "" {
		c.Scan.DTEStrategy = string(models.DTE30to90)
	}
	if c.Scan.FFCalculationMode == "" {
		c.Scan.FFCalculationMode = string(models.FFModeRaw)
	}
	if c.Scan.EarningsIVPremium == 0 {
		c.Scan.EarningsIVPremium = models.DefaultEarningsIVPremium
	}
	for i, t := range c.Scan.Tickers {
		c.Scan.Tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	if c.Paper.StartingCash == 0 {
		c.Paper.StartingCash = defaultStartingCash
	}
	if c.Paper.StopLossPct == 0 {
		c.Paper.StopLossPct = defaultStopLossPct
	}
	if c.Paper.TakeProfitPct == 0 {
		c.Paper.TakeProfitPct = defaultTakeProfitPct
	}
	if c.Paper.RefreshInterval == "" {
		c.Paper.RefreshInterval = defaultRefreshInterval
	}
	if c.Paper.RefreshConcurrency == 0 {
		c.Paper.RefreshConcurrency = defaultRefreshWorkers
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "json"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Cache.EarningsTTL == "" {
		c.Cache.EarningsTTL = defaultEarningsTTL
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}

// IsLive returns true if market data comes from the real providers.
func (c *Config) IsLive() bool {
	return c.Environment.DataSource == "live"
}

// ScanTimeout returns the overall scan deadline.
func (c *Config) ScanTimeout() time.Duration {
	return parseDurationOr(c.Scan.Timeout, 2*time.Minute)
}

// ProviderTimeout returns the per-request HTTP timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return parseDurationOr(c.Provider.Timeout, 15*time.Second)
}

// RefreshInterval returns the paper-trade refresh period.
func (c *Config) RefreshInterval() time.Duration {
	return parseDurationOr(c.Paper.RefreshInterval, 15*time.Minute)
}

// EarningsTTL returns how long cached earnings dates stay valid.
func (c *Config) EarningsTTL() time.Duration {
	return parseDurationOr(c.Cache.EarningsTTL, 12*time.Hour)
}

// DefaultScanRequest builds a scan request from the scan section.
func (c *Config) DefaultScanRequest() models.ScanRequest {
	premium := c.Scan.EarningsIVPremium
	minOI := c.Scan.MinOpenInterest
	return models.ScanRequest{
		Tickers:            append([]string(nil), c.Scan.Tickers...),
		MinFF:              c.Scan.MinFF,
		MaxFF:              c.Scan.MaxFF,
		TopN:               c.Scan.TopN,
		MinOpenInterest:    &minOI,
		StrategyFilterMode: models.StrategyFilterMode(c.Scan.StrategyFilterMode),
		DTEStrategy:        models.DTEStrategy(c.Scan.DTEStrategy),
		FFCalculationMode:  models.FFCalculationMode(c.Scan.FFCalculationMode),
		EarningsIVPremium:  &premium,
	}
}

// NewLogger builds the process logger from the environment section.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.Environment.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.Environment.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
