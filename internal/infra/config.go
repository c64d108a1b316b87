package infra

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"orderfeed/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFeedURL is the public book feed endpoint.
	DefaultFeedURL = "wss://www.cryptofacilities.com/ws/v1"
	// DefaultChannel carries incremental book updates; it also delivers the initial snapshot.
	DefaultChannel = "book_ui_1"
)

// ErrEmptyConfig rejects a file with no content, which editors leave behind
// between truncating and rewriting it.
var ErrEmptyConfig = errors.New("config file is empty")

// Config holds every application setting.
// After LoadConfig reads the file, environment variables override the feed endpoint,
// product and log level.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL     string `yaml:"ws_url"`
		Channel   string `yaml:"channel"`
		Product   string `yaml:"product"`
		Reconnect bool   `yaml:"reconnect"`
	} `yaml:"feed"`

	Engine struct {
		FlushIntervalMS int    `yaml:"flush_interval_ms"`
		EagerSnapshot   bool   `yaml:"eager_snapshot"`
		Grouping        string `yaml:"grouping"` // empty selects the product default
		DepthLimit      int    `yaml:"depth_limit"`
		Truncate        string `yaml:"truncate"` // low | high
	} `yaml:"engine"`

	Storage struct {
		Path string `yaml:"path"` // empty disables persistence
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the exporter
	} `yaml:"metrics"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"` // empty logs to stdout only
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used for keys missing from the file.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "orderfeed"
	cfg.Feed.WSURL = DefaultFeedURL
	cfg.Feed.Channel = DefaultChannel
	cfg.Feed.Product = string(domain.DefaultProduct)
	cfg.Feed.Reconnect = true
	cfg.Engine.FlushIntervalMS = 250
	cfg.Engine.EagerSnapshot = true
	cfg.Engine.DepthLimit = 17
	cfg.Engine.Truncate = "low"
	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	return &cfg
}

// LoadConfig reads and parses the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig, applies env overrides and validates.
func ParseConfig(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{Field: "file", Err: ErrEmptyConfig}
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return &ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("invalid websocket URL: %q", c.Feed.WSURL)}
	}
	if c.Feed.Channel == "" {
		return &ConfigError{Field: "feed.channel", Err: errors.New("must not be empty")}
	}
	if _, err := domain.ParseProduct(c.Feed.Product); err != nil {
		return &ConfigError{Field: "feed.product", Err: err}
	}
	if c.Engine.FlushIntervalMS <= 0 {
		return &ConfigError{Field: "engine.flush_interval_ms", Err: errors.New("must be positive")}
	}
	if c.Engine.Grouping != "" {
		if _, err := domain.ParseDenomination(c.Engine.Grouping); err != nil {
			return &ConfigError{Field: "engine.grouping", Err: err}
		}
	}
	if c.Engine.DepthLimit < 0 {
		return &ConfigError{Field: "engine.depth_limit", Err: errors.New("must not be negative")}
	}
	switch c.Engine.Truncate {
	case "", "low", "high":
	default:
		return &ConfigError{Field: "engine.truncate", Err: fmt.Errorf("unknown policy %q", c.Engine.Truncate)}
	}
	return nil
}

// Product returns the configured product. Only valid after Validate.
func (c *Config) Product() domain.Product {
	return domain.Product(c.Feed.Product)
}

// Grouping returns the configured denomination, or 0 when the product default applies.
func (c *Config) Grouping() domain.Denomination {
	d, err := domain.ParseDenomination(c.Engine.Grouping)
	if err != nil {
		return 0
	}
	return d
}

// FlushInterval returns the scheduler cadence.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Engine.FlushIntervalMS) * time.Millisecond
}

// ConfigError aliases the domain type so callers can match on it from infra.
type ConfigError = domain.ConfigError

// overrideWithEnv overwrites settings when the matching environment variable is set.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("ORDERFEED_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if product := os.Getenv("ORDERFEED_PRODUCT"); product != "" {
		cfg.Feed.Product = product
	}
	if level := os.Getenv("ORDERFEED_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
