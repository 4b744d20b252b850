package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	overrides  Overrides
}

// Overrides are explicit values, typically from command-line flags, that win
// over the file and the environment. Empty fields are ignored.
type Overrides struct {
	ListenAddr    string
	StorageDriver string
	DatabaseURL   string
	LogLevel      string
}

// WithConfigPath forces a specific config file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnv replaces the environment lookup, mainly for tests.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader replaces os.ReadFile.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = reader }
}

// WithHomeDir replaces os.UserHomeDir.
func WithHomeDir(homeDir func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = homeDir }
}

// WithOverrides applies explicit values after the environment.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) { o.overrides = overrides }
}

// Load builds the configuration from defaults, then the YAML file, then
// HERALD_* environment overrides, and validates the result.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.envLookup == nil {
		options.envLookup = DefaultEnvLookup
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := Default()

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	applyOverrides(&cfg, &meta, options.overrides)
	normalize(&cfg)

	report := Validate(cfg)
	if report.HasErrors() {
		return Config{}, Metadata{}, report.Err()
	}
	return cfg, meta, nil
}

func applyFile(cfg *Config, meta *Metadata, opts loadOptions) error {
	var data []byte
	for _, candidate := range configCandidates(opts.configPath, opts.envLookup, opts.homeDir) {
		content, err := opts.readFile(candidate.path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read config file %s: %w", candidate.path, err)
		}
		meta.path = candidate.path
		meta.pathSource = candidate.source
		data = content
		break
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(data, &sections); err == nil {
		for name := range sections {
			meta.sources[name] = SourceFile
		}
	}

	cfg.Storage.DatabaseURL = expandEnv(opts.envLookup, cfg.Storage.DatabaseURL)
	cfg.Storage.SQLitePath = expandEnv(opts.envLookup, cfg.Storage.SQLitePath)
	return nil
}

func applyOverrides(cfg *Config, meta *Metadata, overrides Overrides) {
	if value := strings.TrimSpace(overrides.ListenAddr); value != "" {
		cfg.Server.ListenAddr = value
		meta.sources["server.listen_addr"] = SourceOverride
	}
	if value := strings.TrimSpace(overrides.StorageDriver); value != "" {
		cfg.Storage.Driver = value
		meta.sources["storage.driver"] = SourceOverride
	}
	if value := strings.TrimSpace(overrides.DatabaseURL); value != "" {
		cfg.Storage.DatabaseURL = value
		meta.sources["storage.database_url"] = SourceOverride
	}
	if value := strings.TrimSpace(overrides.LogLevel); value != "" {
		cfg.Logging.Level = value
		meta.sources["logging.level"] = SourceOverride
	}
}

// expandEnv interpolates ${VAR} references in file values.
func expandEnv(lookup EnvLookup, value string) string {
	if lookup == nil || !strings.Contains(value, "$") {
		return value
	}
	return os.Expand(value, func(key string) string {
		resolved, _ := lookup(key)
		return resolved
	})
}

func normalize(cfg *Config) {
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Reminders.DefaultOwner = strings.TrimSpace(cfg.Reminders.DefaultOwner)
	if cfg.Reminders.DefaultOwner == "" {
		cfg.Reminders.DefaultOwner = DefaultOwner
	}
	if cfg.Reminders.CacheSize <= 0 {
		cfg.Reminders.CacheSize = DefaultCacheSize
	}
	if cfg.Reminders.PendingLimit <= 0 {
		cfg.Reminders.PendingLimit = DefaultPendingLimit
	}
	if strings.TrimSpace(cfg.Metrics.Path) == "" {
		cfg.Metrics.Path = "/metrics"
	}
	origins := cfg.Server.AllowedOrigins[:0]
	for _, origin := range cfg.Server.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.Server.AllowedOrigins = origins
}
