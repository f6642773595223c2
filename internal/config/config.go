package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	// Database configuration
	Database DatabaseConfig `toml:"database"`

	// Search configuration
	Search SearchConfig `toml:"search"`

	// Bulk import configuration
	Import ImportConfig `toml:"import"`

	// Remote card API configuration
	API APIConfig `toml:"api"`

	// Application configuration
	App AppConfig `toml:"app"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path        string `toml:"path"`         // Database file path (empty = ~/.cardvault/cardvault.db)
	JournalMode string `toml:"journal_mode"` // SQLite journal mode (e.g., "WAL")
	BusyTimeout string `toml:"busy_timeout"` // Busy timeout (e.g., "5s")
}

// SearchConfig contains the settings the search engine reads.
type SearchConfig struct {
	PreferLocal    bool `toml:"prefer_local"`    // Search the local store instead of the API
	ResultLimit    int  `toml:"result_limit"`    // Max results per search
	HideDuplicates bool `toml:"hide_duplicates"` // Show one printing per card name
	NewestFirst    bool `toml:"newest_first"`    // Results list the newest printing first
	SortByRarity   bool `toml:"sort_by_rarity"`  // Order results from special to mythic rare
}

// ImportConfig contains bulk import settings.
type ImportConfig struct {
	BatchSize int    `toml:"batch_size"` // Cards per insert transaction
	DataDir   string `toml:"data_dir"`   // Where downloaded dumps are kept
	SourceURL string `toml:"source_url"` // Bulk dump URL
}

// APIConfig contains remote card API settings.
type APIConfig struct {
	BaseURL           string  `toml:"base_url"`
	UserAgent         string  `toml:"user_agent"` // Empty sends CardVault/<version>
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Timeout           string  `toml:"timeout"` // Request timeout (e.g., "30s")
}

// AppConfig contains general application settings.
type AppConfig struct {
	DebugMode bool   `toml:"debug_mode"` // Enable debug logging
	LogLevel  string `toml:"log_level"`  // debug, info, warn or error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "",
			JournalMode: "WAL",
			BusyTimeout: "5s",
		},
		Search: SearchConfig{
			PreferLocal:    true,
			ResultLimit:    50,
			HideDuplicates: false,
			NewestFirst:    false,
			SortByRarity:   false,
		},
		Import: ImportConfig{
			BatchSize: 500,
			DataDir:   "",
			SourceURL: "https://mtgjson.com/json/AllSets-x.json",
		},
		API: APIConfig{
			BaseURL:           "https://api.magicthegathering.io/v1",
			UserAgent:         "",
			RequestsPerSecond: 5,
			Timeout:           "30s",
		},
		App: AppConfig{
			DebugMode: false,
			LogLevel:  "info",
		},
	}
}

// Dir returns the application directory, ~/.cardvault, creating it if needed.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".cardvault")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}

	return dir, nil
}

// Path returns the path to the configuration file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load loads the configuration from the default path.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from path. Returns the default config if
// the file doesn't exist. Keys missing from the file keep their defaults.
func LoadFrom(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo saves the configuration to path.
func (c *Config) SaveTo(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Database.BusyTimeout); err != nil {
		return fmt.Errorf("invalid busy timeout %q: %w", c.Database.BusyTimeout, err)
	}

	switch strings.ToUpper(c.Database.JournalMode) {
	case "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
	default:
		return fmt.Errorf("invalid journal mode %q", c.Database.JournalMode)
	}

	if c.Search.ResultLimit <= 0 {
		return fmt.Errorf("result limit must be positive: %d", c.Search.ResultLimit)
	}

	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %d", c.Import.BatchSize)
	}

	if c.API.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive: %v", c.API.RequestsPerSecond)
	}

	if _, err := time.ParseDuration(c.API.Timeout); err != nil {
		return fmt.Errorf("invalid API timeout %q: %w", c.API.Timeout, err)
	}

	switch strings.ToLower(c.App.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.App.LogLevel)
	}

	return nil
}

// DatabasePath returns the configured database path or the default one.
func (c *Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cardvault.db"), nil
}

// GetBusyTimeout returns the busy timeout as a duration.
func (c *Config) GetBusyTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Database.BusyTimeout)
}

// GetAPITimeout returns the API request timeout as a duration.
func (c *Config) GetAPITimeout() (time.Duration, error) {
	return time.ParseDuration(c.API.Timeout)
}
