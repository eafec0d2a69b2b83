// Package config manages application configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsh04/ai-trader-sub000/internal/filter"
	"github.com/zsh04/ai-trader-sub000/internal/regime"
)

// DatabaseConfig sizes the shared pgx connection pool.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	PoolSize        int           `yaml:"poolSize"`
	MaxOverflow     int           `yaml:"maxOverflow"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// HTTPConfig controls vendor HTTP behaviour: per-request timeout and the
// transient-failure retry loop.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

// VendorCredentials carries API credentials for one upstream vendor.
type VendorCredentials struct {
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
}

// Configured reports whether any credential material is present.
func (c VendorCredentials) Configured() bool {
	return strings.TrimSpace(c.Key) != "" || strings.TrimSpace(c.Secret) != ""
}

// VendorsConfig holds per-vendor credentials and base URLs.
type VendorsConfig struct {
	Alpaca       VendorCredentials `yaml:"alpaca"`
	AlpacaFeed   string            `yaml:"alpacaFeed"`
	AlphaVantage VendorCredentials `yaml:"alphavantage"`
	Finnhub      VendorCredentials `yaml:"finnhub"`
	TwelveData   VendorCredentials `yaml:"twelvedata"`
	Marketstack  VendorCredentials `yaml:"marketstack"`
}

// ArtifactsConfig names the on-disk artifact roots.
type ArtifactsConfig struct {
	CacheDir  string `yaml:"cacheDir"`
	FramesDir string `yaml:"framesDir"`
	SweepDir  string `yaml:"sweepDir"`
	NoSave    bool   `yaml:"noSave"`
}

// StreamingConfig sizes the bounded live-event queue and the gap detector.
type StreamingConfig struct {
	MaxQueue      int     `yaml:"maxQueue"`
	GapMultiplier float64 `yaml:"gapMultiplier"`
}

// RouterConfig bounds the order-sizing stage of the orchestration pipeline.
type RouterConfig struct {
	KillSwitchNotional float64 `yaml:"killSwitchNotional"`
	MinNotional        float64 `yaml:"minNotional"`
	MaxNotional        float64 `yaml:"maxNotional"`
	KellyFraction      float64 `yaml:"kellyFraction"`
	PublishOrders      bool    `yaml:"publishOrders"`
	ExecuteOrders      bool    `yaml:"executeOrders"`
	OfflineMode        bool    `yaml:"offlineMode"`
}

// TelemetryConfig selects the OTLP metric export target; empty means noop.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// RegimeConfig couples the classifier window with its thresholds.
type RegimeConfig struct {
	Window     int               `yaml:"window"`
	Thresholds regime.Thresholds `yaml:"thresholds"`
}

// AppConfig is the root application configuration.
type AppConfig struct {
	Environment string          `yaml:"environment"`
	Database    DatabaseConfig  `yaml:"database"`
	HTTP        HTTPConfig      `yaml:"http"`
	Vendors     VendorsConfig   `yaml:"vendors"`
	Artifacts   ArtifactsConfig `yaml:"artifacts"`
	Streaming   StreamingConfig `yaml:"streaming"`
	Router      RouterConfig    `yaml:"router"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Filter      filter.Config   `yaml:"filter"`
	Regime      RegimeConfig    `yaml:"regime"`
	Watchlist   []string        `yaml:"watchlist"`
}

// Default returns the configuration used when no file is present.
func Default() AppConfig {
	cfg := AppConfig{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults, normalises and validates the YAML file at path.
// Environment variables override file values after defaults are applied.
func Load(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnvironment()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults
// (still honoring environment overrides) when it does not.
func LoadOrDefault(path string) (AppConfig, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.applyEnvironment()
			cfg.normalise()
			if verr := cfg.Validate(); verr != nil {
				return AppConfig{}, false, verr
			}
			return cfg, false, nil
		}
		return AppConfig{}, false, fmt.Errorf("stat config %s: %w", path, err)
	}
	cfg, err := Load(path)
	if err != nil {
		return AppConfig{}, false, err
	}
	return cfg, true, nil
}

func (c *AppConfig) applyDefaults() {
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "development"
	}
	if c.Database.PoolSize <= 0 {
		c.Database.PoolSize = 5
	}
	if c.Database.MaxOverflow < 0 {
		c.Database.MaxOverflow = 0
	}
	if c.Database.MaxOverflow == 0 {
		c.Database.MaxOverflow = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 1800 * time.Second
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 15 * time.Second
	}
	if c.HTTP.Retries <= 0 {
		c.HTTP.Retries = 3
	}
	if c.HTTP.Backoff <= 0 {
		c.HTTP.Backoff = 500 * time.Millisecond
	}
	if strings.TrimSpace(c.Vendors.AlpacaFeed) == "" {
		c.Vendors.AlpacaFeed = "iex"
	}
	if strings.TrimSpace(c.Artifacts.CacheDir) == "" {
		c.Artifacts.CacheDir = "artifacts/marketdata/cache"
	}
	if strings.TrimSpace(c.Artifacts.FramesDir) == "" {
		c.Artifacts.FramesDir = "artifacts/probabilistic/frames"
	}
	if strings.TrimSpace(c.Artifacts.SweepDir) == "" {
		c.Artifacts.SweepDir = "artifacts/backtests/sweeps"
	}
	if c.Streaming.MaxQueue <= 0 {
		c.Streaming.MaxQueue = 1024
	}
	if c.Streaming.GapMultiplier <= 0 {
		c.Streaming.GapMultiplier = 3
	}
	if c.Router.KillSwitchNotional <= 0 {
		c.Router.KillSwitchNotional = 25_000
	}
	if c.Router.MinNotional <= 0 {
		c.Router.MinNotional = 100
	}
	if c.Router.MaxNotional <= 0 {
		c.Router.MaxNotional = 10_000
	}
	if c.Router.KellyFraction <= 0 {
		c.Router.KellyFraction = 0.5
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = "ai-trader"
	}
	if c.Regime.Window < 2 {
		c.Regime.Window = regime.DefaultWindow
	}
}

// applyEnvironment folds the documented environment variables over the file
// values. Unset variables leave the file values untouched.
func (c *AppConfig) applyEnvironment() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := envSeconds("HTTP_TIMEOUT"); v > 0 {
		c.HTTP.Timeout = v
	}
	if v := envInt("HTTP_RETRIES"); v > 0 {
		c.HTTP.Retries = v
	}
	if v := envSeconds("HTTP_BACKOFF"); v > 0 {
		c.HTTP.Backoff = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Vendors.Alpaca.Key = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		c.Vendors.Alpaca.Secret = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		c.Vendors.AlpacaFeed = v
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		c.Vendors.AlphaVantage.Key = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Vendors.Finnhub.Key = v
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		c.Vendors.TwelveData.Key = v
	}
	if v := os.Getenv("MARKETSTACK_API_KEY"); v != "" {
		c.Vendors.Marketstack.Key = v
	}
	if v := os.Getenv("BACKTEST_OUT_DIR"); v != "" {
		c.Artifacts.SweepDir = v
	}
	if v := os.Getenv("BACKTEST_PROB_FRAME_DIR"); v != "" {
		c.Artifacts.FramesDir = v
	}
	if v := os.Getenv("BACKTEST_NO_SAVE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			c.Artifacts.NoSave = parsed
		}
	}
	if v := os.Getenv("WATCHLIST_SOURCE"); v != "" {
		c.Watchlist = splitList(v)
	}
}

func (c *AppConfig) normalise() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.Vendors.AlpacaFeed = strings.ToLower(strings.TrimSpace(c.Vendors.AlpacaFeed))
	cleaned := make([]string, 0, len(c.Watchlist))
	seen := make(map[string]struct{}, len(c.Watchlist))
	for _, symbol := range c.Watchlist {
		upper := strings.ToUpper(strings.TrimSpace(symbol))
		if upper == "" {
			continue
		}
		if _, dup := seen[upper]; dup {
			continue
		}
		seen[upper] = struct{}{}
		cleaned = append(cleaned, upper)
	}
	c.Watchlist = cleaned
}

// Validate rejects configurations the runtime cannot operate under.
func (c AppConfig) Validate() error {
	if c.HTTP.Retries > 10 {
		return fmt.Errorf("config: http retries %d exceeds sane bound 10", c.HTTP.Retries)
	}
	if c.Streaming.MaxQueue < 16 {
		return fmt.Errorf("config: streaming maxQueue %d below minimum 16", c.Streaming.MaxQueue)
	}
	if c.Router.MinNotional > c.Router.MaxNotional {
		return fmt.Errorf("config: router minNotional %.2f exceeds maxNotional %.2f",
			c.Router.MinNotional, c.Router.MaxNotional)
	}
	if c.Router.MaxNotional > c.Router.KillSwitchNotional {
		return fmt.Errorf("config: router maxNotional %.2f exceeds killSwitchNotional %.2f",
			c.Router.MaxNotional, c.Router.KillSwitchNotional)
	}
	if c.Router.KellyFraction > 1 {
		return fmt.Errorf("config: router kellyFraction %.2f exceeds 1", c.Router.KellyFraction)
	}
	return nil
}

func envInt(name string) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

// envSeconds parses a numeric "seconds" variable, tolerating fractional values.
func envSeconds(name string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
