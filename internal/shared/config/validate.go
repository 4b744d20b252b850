package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	ID      string
	Message string
	Hint    string
}

// ValidationReport summarizes configuration validation findings.
type ValidationReport struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// HasErrors reports whether the validation report contains blocking errors.
func (r ValidationReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// Err joins blocking issues into one error, or nil when there are none.
func (r ValidationReport) Err() error {
	if !r.HasErrors() {
		return nil
	}
	parts := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.ID, issue.Message))
	}
	return errors.New("invalid configuration: " + strings.Join(parts, "; "))
}

// Validate checks cross-field constraints that defaults cannot fix.
func Validate(cfg Config) ValidationReport {
	var report ValidationReport
	fail := func(id, message, hint string) {
		report.Errors = append(report.Errors, ValidationIssue{ID: id, Message: message, Hint: hint})
	}
	warn := func(id, message, hint string) {
		report.Warnings = append(report.Warnings, ValidationIssue{ID: id, Message: message, Hint: hint})
	}

	switch cfg.Storage.Driver {
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.Storage.DatabaseURL) == "" {
			fail("storage.database_url", "postgres driver requires a database URL", "set HERALD_DATABASE_URL")
		}
	case StorageDriverSQLite:
		if strings.TrimSpace(cfg.Storage.SQLitePath) == "" {
			fail("storage.sqlite_path", "sqlite driver requires a file path", "use \":memory:\" for an ephemeral database")
		}
	case StorageDriverMemory:
		warn("storage.driver", "memory storage does not survive restarts", "")
	default:
		fail("storage.driver", fmt.Sprintf("unknown storage driver %q", cfg.Storage.Driver), "use postgres, sqlite or memory")
	}

	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		fail("server.listen_addr", "listen address is required", "")
	}
	if cfg.Server.RateLimitRPS < 0 || cfg.Server.RateLimitBurst < 0 {
		fail("server.rate_limit", "rate limit values must not be negative", "")
	}

	if cfg.Reminders.CacheTTLSeconds < 0 {
		fail("reminders.cache_ttl_seconds", "cache TTL must not be negative", "0 disables caching")
	}
	if cfg.Reminders.RetryIntervalSeconds <= 0 {
		fail("reminders.retry_interval_seconds", "retry interval must be positive", "")
	}
	if cfg.Reminders.PendingWindowHours <= 0 {
		fail("reminders.pending_window_hours", "pending window must be positive", "")
	}
	if cfg.Reminders.RetentionDays <= 0 {
		fail("reminders.retention_days", "retention must be positive", "")
	}

	if cfg.Scheduler.MaintenanceHour < 0 || cfg.Scheduler.MaintenanceHour > 23 {
		fail("scheduler.maintenance_hour", "maintenance hour must be within 0..23", "")
	}
	for i, hour := range cfg.Scheduler.QuietHours {
		if hour < 0 || hour > 23 {
			fail(fmt.Sprintf("scheduler.quiet_hours[%d]", i), "quiet hours must be within 0..23", "")
		}
	}
	if cfg.Scheduler.ConversationIdleHours <= 0 {
		fail("scheduler.conversation_idle_hours", "idle threshold must be positive", "")
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		fail("scheduler.timezone", err.Error(), "use an IANA zone name such as Europe/Berlin")
	}

	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		fail("logging.format", fmt.Sprintf("unknown log format %q", cfg.Logging.Format), "use text or json")
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		warn("logging.level", fmt.Sprintf("unknown log level %q, using info", cfg.Logging.Level), "")
	}

	return report
}
