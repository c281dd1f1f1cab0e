package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Alanimdeo/conveyor/internal/logger"
)

// StabilityConfig controls how long the engine waits for entries to settle
type StabilityConfig struct {
	// Interval is the time between two size samples
	Interval time.Duration

	// MaxWait abandons a stability wait after this long (0 = never)
	MaxWait time.Duration
}

// PollingConfig holds defaults for directories watched in polling mode
type PollingConfig struct {
	// DefaultInterval is used when a polling directory has no interval of its own
	DefaultInterval time.Duration
}

// AuditConfig controls the audit log sink
type AuditConfig struct {
	// QueueSize is the number of pending log writes buffered before dropping
	QueueSize int

	// RetentionDays prunes audit entries older than this on daemon start (0 = keep forever)
	RetentionDays int
}

// Config represents conveyor configuration options
type Config struct {
	// DBPath is the SQLite database path (empty = <home>/conveyor.db)
	DBPath string

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string

	// LogDir is the directory where daemon log files are written (empty = console only)
	LogDir string

	// ReconcileInterval is how often the daemon re-reads directory configuration (0 = only on SIGHUP)
	ReconcileInterval time.Duration

	Stability StabilityConfig
	Polling   PollingConfig
	Audit     AuditConfig
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		DBPath:            "",
		LogLevel:          "info",
		LogDir:            "",
		ReconcileInterval: 5 * time.Second,
		Stability: StabilityConfig{
			Interval: time.Second,
			MaxWait:  0,
		},
		Polling: PollingConfig{
			DefaultInterval: 100 * time.Millisecond,
		},
		Audit: AuditConfig{
			QueueSize:     256,
			RetentionDays: 0,
		},
	}
}

// yamlConfig mirrors Config with durations as strings and pointers marking presence
type yamlConfig struct {
	DBPath            string `yaml:"db_path"`
	LogLevel          string `yaml:"log_level"`
	LogDir            string `yaml:"log_dir"`
	ReconcileInterval string `yaml:"reconcile_interval"`
	Stability         *struct {
		Interval string `yaml:"interval"`
		MaxWait  string `yaml:"max_wait"`
	} `yaml:"stability"`
	Polling *struct {
		DefaultInterval string `yaml:"default_interval"`
	} `yaml:"polling"`
	Audit *struct {
		QueueSize     *int `yaml:"queue_size"`
		RetentionDays *int `yaml:"retention_days"`
	} `yaml:"audit"`
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if raw.DBPath != "" {
		cfg.DBPath = raw.DBPath
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.LogDir != "" {
		cfg.LogDir = raw.LogDir
	}
	if err := parseDurationInto(&cfg.ReconcileInterval, "reconcile_interval", raw.ReconcileInterval); err != nil {
		return nil, err
	}

	if raw.Stability != nil {
		if err := parseDurationInto(&cfg.Stability.Interval, "stability.interval", raw.Stability.Interval); err != nil {
			return nil, err
		}
		if err := parseDurationInto(&cfg.Stability.MaxWait, "stability.max_wait", raw.Stability.MaxWait); err != nil {
			return nil, err
		}
	}
	if raw.Polling != nil {
		if err := parseDurationInto(&cfg.Polling.DefaultInterval, "polling.default_interval", raw.Polling.DefaultInterval); err != nil {
			return nil, err
		}
	}
	if raw.Audit != nil {
		if raw.Audit.QueueSize != nil {
			cfg.Audit.QueueSize = *raw.Audit.QueueSize
		}
		if raw.Audit.RetentionDays != nil {
			cfg.Audit.RetentionDays = *raw.Audit.RetentionDays
		}
	}

	return cfg, nil
}

// parseDurationInto parses s into dst when s is non-empty
func parseDurationInto(dst *time.Duration, key, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s format %q: %w", key, s, err)
	}
	*dst = d
	return nil
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(dbPath *string, logLevel *string, logDir *string) {
	if dbPath != nil {
		c.DBPath = *dbPath
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
}

// Validate validates the configuration values
func (c *Config) Validate() error {
	if !logger.IsValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile_interval must be >= 0, got %v", c.ReconcileInterval)
	}
	if c.Stability.Interval <= 0 {
		return fmt.Errorf("stability.interval must be > 0, got %v", c.Stability.Interval)
	}
	if c.Stability.MaxWait < 0 {
		return fmt.Errorf("stability.max_wait must be >= 0, got %v", c.Stability.MaxWait)
	}
	if c.Polling.DefaultInterval <= 0 {
		return fmt.Errorf("polling.default_interval must be > 0, got %v", c.Polling.DefaultInterval)
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit.queue_size must be > 0, got %d", c.Audit.QueueSize)
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must be >= 0, got %d", c.Audit.RetentionDays)
	}
	return nil
}

// ResolveDBPath returns DBPath, or the database inside the conveyor home when unset
func (c *Config) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	return GetDBPath()
}
