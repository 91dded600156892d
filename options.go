package spatialindexer

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Mode selects how a build reacts to a record the store rejects.
type Mode string

const (
	// ModeBestEffort skips rejected records, reports them and commits the rest.
	ModeBestEffort Mode = "best-effort"
	// ModeStrict aborts the build on the first rejected record.
	ModeStrict Mode = "strict"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBestEffort, ModeStrict:
		return Mode(s), nil
	case "":
		return ModeBestEffort, nil
	}
	return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeBestEffort, ModeStrict)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Config holds build settings.
type Config struct {
	// Levels is the deepest geohash level indexed, 1..12.
	Levels int `yaml:"levels"`
	// Mode is the add failure policy.
	Mode Mode `yaml:"mode"`
	// BatchSize is the number of records per staging transaction.
	BatchSize int `yaml:"batch_size"`
	// LockTimeout bounds the wait for the destination lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	Logger zerolog.Logger `yaml:"-"`
}

// Option configures a build or a session.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Levels:      DefaultLevels,
		Mode:        ModeBestEffort,
		BatchSize:   5000,
		LockTimeout: 5 * time.Second,
		Logger:      log.Logger,
	}
}

// WithLevels sets the number of geohash levels.
func WithLevels(levels int) Option {
	return func(c *Config) { c.Levels = levels }
}

// WithMode sets the add failure policy.
func WithMode(m Mode) Option {
	return func(c *Config) { c.Mode = m }
}

// WithBatchSize sets how many records are written per staging transaction.
func WithBatchSize(n int) Option {
	return func(c *Config) { c.BatchSize = n }
}

// WithLockTimeout bounds how long Open waits for the destination lock.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Config) { c.LockTimeout = d }
}

// WithLogger sets the logger used for progress and skipped records.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithConfig copies the non-zero settings of cfg, typically one returned by
// LoadConfig.
func WithConfig(cfg *Config) Option {
	return func(c *Config) {
		if cfg == nil {
			return
		}
		if cfg.Levels != 0 {
			c.Levels = cfg.Levels
		}
		if cfg.Mode != "" {
			c.Mode = cfg.Mode
		}
		if cfg.BatchSize != 0 {
			c.BatchSize = cfg.BatchSize
		}
		if cfg.LockTimeout != 0 {
			c.LockTimeout = cfg.LockTimeout
		}
	}
}

func newConfig(opts []Option) (*Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Levels < 1 || c.Levels > MaxLevels {
		return fmt.Errorf("levels must be between 1 and %d, got %d", MaxLevels, c.Levels)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout)
	}
	return nil
}

// LoadConfig reads a YAML config file. Unset keys stay zero and are filled
// from defaults when the config is applied with WithConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}
