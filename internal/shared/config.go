package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// MinRequestDelay is the floor for the pause before each Amazon request.
const MinRequestDelay = 500 * time.Millisecond

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Amazon    AmazonConfig    `toml:"amazon"`
	Matching  MatchingConfig  `toml:"matching"`
	Database  DatabaseConfig  `toml:"database"`
	Settings  SettingsConfig  `toml:"settings"`
	Library   LibraryConfig   `toml:"library"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Delivery  DeliveryConfig  `toml:"delivery"`
	Log       LogConfig       `toml:"log"`
}

// AmazonConfig contains the Manage Your Content endpoint settings.
type AmazonConfig struct {
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	RequestDelayMS int    `toml:"request_delay_ms"`
	BatchSize      int    `toml:"batch_size"`
	MaxOffset      int    `toml:"max_offset"`
	PageTimeoutSec int    `toml:"page_timeout_sec"`
	AjaxTimeoutSec int    `toml:"ajax_timeout_sec"`
}

// RequestDelay returns the configured pre-request pause.
func (a AmazonConfig) RequestDelay() time.Duration {
	return time.Duration(a.RequestDelayMS) * time.Millisecond
}

// PageTimeout returns the deadline for page loads.
func (a AmazonConfig) PageTimeout() time.Duration {
	return time.Duration(a.PageTimeoutSec) * time.Second
}

// AjaxTimeout returns the deadline for ownership queries.
func (a AmazonConfig) AjaxTimeout() time.Duration {
	return time.Duration(a.AjaxTimeoutSec) * time.Second
}

// MatchingConfig holds the fuzzy matching thresholds.
type MatchingConfig struct {
	MinTitleLen             int  `toml:"min_title_len"`
	TitleTokenOverlap       int  `toml:"title_token_overlap"`
	ShortQueryTokens        int  `toml:"short_query_tokens"`
	ShortQueryOverlap       int  `toml:"short_query_overlap"`
	AuthorTokenOverlap      int  `toml:"author_token_overlap"`
	BlankAuthorMinTitleLen  int  `toml:"blank_author_min_title_len"`
	WordBoundaryContainment bool `toml:"word_boundary_containment"`
	FoldDiacritics          bool `toml:"fold_diacritics"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// SettingsConfig selects where session settings are stored.
type SettingsConfig struct {
	Backend  string `toml:"backend"`
	BoltPath string `toml:"bolt_path"`
}

// LibraryConfig points at the local Calibre library.
type LibraryConfig struct {
	MetadataDB string `toml:"metadata_db"`
	UserID     int64  `toml:"user_id"`
}

// HeartbeatConfig controls the session keep-alive schedule.
type HeartbeatConfig struct {
	IntervalMin int `toml:"interval_min"`
}

// Interval returns the heartbeat period.
func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalMin) * time.Minute
}

// DeliveryConfig contains send-to-Kindle mail settings.
type DeliveryConfig struct {
	Address   string   `toml:"address"`
	Command   string   `toml:"command"`
	Args      []string `toml:"args"`
	Formats   []string `toml:"formats"`
	MaxSizeMB int      `toml:"max_size_mb"`
	RateLimit float64  `toml:"rate_limit"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep their embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate clamps the request delay and rejects values the remote will not accept.
func (c *Config) Validate() error {
	if c.Amazon.RequestDelay() < MinRequestDelay {
		c.Amazon.RequestDelayMS = int(MinRequestDelay / time.Millisecond)
	}
	if c.Amazon.BatchSize < 1 || c.Amazon.BatchSize > 100 {
		return fmt.Errorf("%w: amazon.batch_size must be between 1 and 100, got %d", ErrInvalidConfig, c.Amazon.BatchSize)
	}
	if c.Amazon.MaxOffset < c.Amazon.BatchSize {
		return fmt.Errorf("%w: amazon.max_offset must be at least batch_size", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Settings.Backend) {
	case "", "sqlite", "bolt":
	default:
		return fmt.Errorf("%w: settings.backend %q", ErrInvalidConfig, c.Settings.Backend)
	}
	if c.Delivery.RateLimit < 0 {
		return fmt.Errorf("%w: delivery.rate_limit must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ApplyEnv overrides file values with KINDLESYNC_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("KINDLESYNC_DB_PATH"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("KINDLESYNC_METADATA_DB"); ok && v != "" {
		c.Library.MetadataDB = v
	}
	if v, ok := lookup("KINDLESYNC_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("KINDLESYNC_EREADER_ADDRESS"); ok && v != "" {
		c.Delivery.Address = v
	}
}
