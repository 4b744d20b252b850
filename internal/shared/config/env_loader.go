package config

import (
	"fmt"
	"strconv"
	"strings"
)

func applyEnv(cfg *Config, meta *Metadata, opts loadOptions) error {
	lookup := opts.envLookup
	if lookup == nil {
		lookup = DefaultEnvLookup
	}

	if value, ok := lookup("HERALD_LISTEN_ADDR"); ok && value != "" {
		cfg.Server.ListenAddr = value
		meta.sources["server.listen_addr"] = SourceEnv
	}
	if value, ok := lookup("HERALD_ALLOWED_ORIGINS"); ok && value != "" {
		cfg.Server.AllowedOrigins = strings.Split(value, ",")
		meta.sources["server.allowed_origins"] = SourceEnv
	}
	if value, ok := lookup("HERALD_STORAGE_DRIVER"); ok && value != "" {
		cfg.Storage.Driver = value
		meta.sources["storage.driver"] = SourceEnv
	}
	if value, ok := lookup("HERALD_DATABASE_URL"); ok && value != "" {
		cfg.Storage.DatabaseURL = value
		meta.sources["storage.database_url"] = SourceEnv
		// A database URL without an explicit driver means postgres.
		if _, set := lookup("HERALD_STORAGE_DRIVER"); !set && meta.Source("storage") != SourceFile {
			cfg.Storage.Driver = StorageDriverPostgres
		}
	}
	if value, ok := lookup("HERALD_SQLITE_PATH"); ok && value != "" {
		cfg.Storage.SQLitePath = value
		meta.sources["storage.sqlite_path"] = SourceEnv
	}
	if value, ok := lookup("HERALD_LOG_LEVEL"); ok && value != "" {
		cfg.Logging.Level = value
		meta.sources["logging.level"] = SourceEnv
	}
	if value, ok := lookup("HERALD_LOG_FORMAT"); ok && value != "" {
		cfg.Logging.Format = value
		meta.sources["logging.format"] = SourceEnv
	}
	if value, ok := lookup("HERALD_TIMEZONE"); ok && value != "" {
		cfg.Scheduler.Timezone = value
		meta.sources["scheduler.timezone"] = SourceEnv
	}
	if value, ok := lookup("HERALD_DEFAULT_OWNER"); ok && value != "" {
		cfg.Reminders.DefaultOwner = value
		meta.sources["reminders.default_owner"] = SourceEnv
	}
	if value, ok := lookup("HERALD_SCHEDULER_ENABLED"); ok && value != "" {
		parsed, err := parseBoolEnv(value)
		if err != nil {
			return fmt.Errorf("parse HERALD_SCHEDULER_ENABLED: %w", err)
		}
		cfg.Scheduler.Enabled = parsed
		meta.sources["scheduler.enabled"] = SourceEnv
	}
	if value, ok := lookup("HERALD_METRICS_ENABLED"); ok && value != "" {
		parsed, err := parseBoolEnv(value)
		if err != nil {
			return fmt.Errorf("parse HERALD_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = parsed
		meta.sources["metrics.enabled"] = SourceEnv
	}
	if value, ok := lookup("HERALD_CACHE_TTL_SECONDS"); ok && value != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse HERALD_CACHE_TTL_SECONDS: %w", err)
		}
		cfg.Reminders.CacheTTLSeconds = parsed
		meta.sources["reminders.cache_ttl_seconds"] = SourceEnv
	}
	if value, ok := lookup("HERALD_RETRY_INTERVAL_SECONDS"); ok && value != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse HERALD_RETRY_INTERVAL_SECONDS: %w", err)
		}
		cfg.Reminders.RetryIntervalSeconds = parsed
		meta.sources["reminders.retry_interval_seconds"] = SourceEnv
	}
	return nil
}

func parseBoolEnv(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}
