package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mixmail/mix/helpers"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// PathMeta holds per-search-path mailbox metadata overrides.
type PathMeta struct {
	Shortcut string `toml:"shortcut"` // Single-character shortcut assigned to the mailbox
	Prio     int    `toml:"prio"`     // Display priority, higher sorts first
}

// StorageConfig holds the mailbox search configuration.
type StorageConfig struct {
	Search []string            `toml:"search"` // Directories scanned for mailboxes
	Meta   map[string]PathMeta `toml:"meta"`   // Per-path metadata, keyed by mailbox path
}

// RewriteConfig holds display name rewrite configuration. The defaults
// reproduce the stock behavior: strip a trailing ".gz" in favor of an
// " (Archive)" marker and replace underscores with spaces.
type RewriteConfig struct {
	Enabled            bool   `toml:"enabled"`
	ArchiveSuffix      string `toml:"archive_suffix"`      // Suffix identifying compressed mailboxes (default: ".gz")
	ArchiveMarker      string `toml:"archive_marker"`      // Marker appended in place of the suffix (default: " (Archive)")
	ReplaceUnderscores bool   `toml:"replace_underscores"` // Replace every "_" with a space
}

// IndexConfig holds the local mailbox index configuration.
type IndexConfig struct {
	Path string `toml:"path"` // Path of the sqlite index file
}

// APIConfig holds the local HTTP API configuration.
type APIConfig struct {
	Start  bool   `toml:"start"`
	Socket string `toml:"socket"` // Unix socket path (default: $HOME/mix-socket)
	Addr   string `toml:"addr"`   // Optional TCP address; takes precedence over the socket when set
}

// ArchiveConfig holds the optional S3 archive mirror configuration.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Endpoint      string `toml:"endpoint"`
	DisableTLS    bool   `toml:"disable_tls"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	Debug         bool   `toml:"debug"`          // Enable detailed S3 request/response tracing
	BatchSize     int    `toml:"batch_size"`     // Mailboxes mirrored per wake-up
	Concurrency   int    `toml:"concurrency"`    // Concurrent upload workers
	MaxAttempts   int    `toml:"max_attempts"`   // Attempts before an upload is abandoned
	RetryInterval string `toml:"retry_interval"` // Wait between retries of failed uploads
	MaxObjectSize string `toml:"max_object_size"`
}

// GetRetryInterval parses the retry interval duration
func (a *ArchiveConfig) GetRetryInterval() (time.Duration, error) {
	if a.RetryInterval == "" {
		return time.Minute, nil
	}
	return helpers.ParseDuration(a.RetryInterval)
}

// GetMaxObjectSize parses the maximum object size
func (a *ArchiveConfig) GetMaxObjectSize() (int64, error) {
	if a.MaxObjectSize == "" {
		return 100 << 20, nil // 100mb
	}
	return helpers.ParseSize(a.MaxObjectSize)
}

// ScanConfig holds scanner behavior configuration.
type ScanConfig struct {
	FollowSymlinks bool   `toml:"follow_symlinks"`
	RescanInterval string `toml:"rescan_interval"` // How often registered mailboxes are rescanned; "0" disables
}

// GetRescanInterval parses the rescan interval duration. Zero disables
// periodic rescans.
func (s *ScanConfig) GetRescanInterval() (time.Duration, error) {
	if s.RescanInterval == "" || s.RescanInterval == "0" {
		return 0, nil
	}
	return helpers.ParseDuration(s.RescanInterval)
}

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Storage StorageConfig `toml:"storage"`
	Scan    ScanConfig    `toml:"scan"`
	Rewrite RewriteConfig `toml:"rewrite"`
	Index   IndexConfig   `toml:"index"`
	API     APIConfig     `toml:"api"`
	Archive ArchiveConfig `toml:"archive"`
}

func defaultSocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, "mix-socket")
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Scan: ScanConfig{
			FollowSymlinks: true,
			RescanInterval: "0",
		},
		Rewrite: RewriteConfig{
			Enabled:            true,
			ArchiveSuffix:      ".gz",
			ArchiveMarker:      " (Archive)",
			ReplaceUnderscores: true,
		},
		Index: IndexConfig{
			Path: "mix-index.db",
		},
		API: APIConfig{
			Start:  true,
			Socket: defaultSocket(),
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			BatchSize:     10,
			Concurrency:   4,
			MaxAttempts:   5,
			RetryInterval: "1m",
			MaxObjectSize: "100mb",
		},
	}
}

// Load decodes the TOML file at path over the receiver's current values.
func Load(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for fatal inconsistencies.
func (c *Config) Validate() error {
	if len(c.Storage.Search) == 0 {
		return fmt.Errorf("storage.search must list at least one directory to scan")
	}
	for path, meta := range c.Storage.Meta {
		if len([]rune(meta.Shortcut)) > 1 {
			return fmt.Errorf("storage.meta.%q: shortcut must be a single character, got %q", path, meta.Shortcut)
		}
	}
	if c.Rewrite.Enabled && c.Rewrite.ArchiveSuffix == "" {
		return fmt.Errorf("rewrite.archive_suffix cannot be empty while rewriting is enabled")
	}
	if c.API.Start && c.API.Addr == "" && c.API.Socket == "" {
		return fmt.Errorf("api: either addr or socket is required when the API is enabled")
	}
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			return fmt.Errorf("archive.endpoint is required when the archive mirror is enabled")
		}
		if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" || c.Archive.Bucket == "" {
			return fmt.Errorf("archive: access_key, secret_key and bucket are required when the archive mirror is enabled")
		}
		if _, err := c.Archive.GetRetryInterval(); err != nil {
			return fmt.Errorf("archive.retry_interval: %w", err)
		}
		if _, err := c.Archive.GetMaxObjectSize(); err != nil {
			return fmt.Errorf("archive.max_object_size: %w", err)
		}
	}
	if _, err := c.Scan.GetRescanInterval(); err != nil {
		return fmt.Errorf("scan.rescan_interval: %w", err)
	}
	return nil
}
