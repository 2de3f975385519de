package docdb

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Options configures a database instance.
type Options struct {
	// InMemory keeps documents and index state purely in memory (tests,
	// throwaway databases).
	InMemory bool
	// IsTesting relaxes storage durability for faster test runs.
	IsTesting bool
	// Compression is the blob compression strategy. It is chosen at first
	// startup and must stay stable for the life of the data directory.
	Compression Compression
	// Registry is the codec kind registry (nil = DefaultRegistry).
	Registry *KindRegistry
	// RefreshInterval drives index visibility (0 = 250ms).
	RefreshInterval time.Duration
	// CommitInterval drives index durability (0 = 30s).
	CommitInterval time.Duration
	// Logger receives structured logs (nil = no logging).
	Logger *zap.SugaredLogger
}

func (opt *Options) fillDefaults() {
	if opt.Registry == nil {
		opt.Registry = DefaultRegistry()
	}
	if opt.RefreshInterval <= 0 {
		opt.RefreshInterval = 250 * time.Millisecond
	}
	if opt.CommitInterval <= 0 {
		opt.CommitInterval = 30 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop().Sugar()
	}
}

// Config is the YAML file form of Options.
type Config struct {
	Compression       string `yaml:"compression"`         // none, snappy, deflate
	RefreshIntervalMS int    `yaml:"refresh_interval_ms"` // index visibility cadence
	CommitIntervalSec int    `yaml:"commit_interval_sec"` // index durability cadence
	Logging           struct {
		Level string `yaml:"level"` // debug, info, warn, error; empty disables logging
	} `yaml:"logging"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Options converts the config into runtime options.
func (cfg *Config) Options() (Options, error) {
	var opt Options
	comp, err := ParseCompression(cfg.Compression)
	if err != nil {
		return opt, err
	}
	opt.Compression = comp
	if cfg.RefreshIntervalMS > 0 {
		opt.RefreshInterval = time.Duration(cfg.RefreshIntervalMS) * time.Millisecond
	}
	if cfg.CommitIntervalSec > 0 {
		opt.CommitInterval = time.Duration(cfg.CommitIntervalSec) * time.Second
	}
	if cfg.Logging.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return opt, fmt.Errorf("invalid logging level %q: %w", cfg.Logging.Level, err)
		}
		zcfg := zap.NewProductionConfig()
		zcfg.Level = level
		logger, err := zcfg.Build()
		if err != nil {
			return opt, err
		}
		opt.Logger = logger.Sugar()
	}
	return opt, nil
}
