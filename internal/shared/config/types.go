package config

import "time"

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
	StorageDriverMemory   = "memory"
)

// Config is the complete runtime configuration of the herald service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Reminders RemindersConfig `yaml:"reminders"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP and websocket transport.
type ServerConfig struct {
	ListenAddr             string   `yaml:"listen_addr"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	RateLimitRPS           float64  `yaml:"rate_limit_rps"`
	RateLimitBurst         int      `yaml:"rate_limit_burst"`
	ReadHeaderTimeoutSecs  int      `yaml:"read_header_timeout_seconds"`
	ShutdownTimeoutSecs    int      `yaml:"shutdown_timeout_seconds"`
	WebSocketWriteWaitSecs int      `yaml:"websocket_write_wait_seconds"`
}

// StorageConfig selects and configures the reminder repository.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	// EnsureSchema creates tables on startup when true.
	EnsureSchema bool `yaml:"ensure_schema"`
}

// RemindersConfig tunes the store cache and the evaluation windows.
type RemindersConfig struct {
	CacheTTLSeconds      int    `yaml:"cache_ttl_seconds"`
	CacheSize            int    `yaml:"cache_size"`
	RetryIntervalSeconds int    `yaml:"retry_interval_seconds"`
	PendingWindowHours   int    `yaml:"pending_window_hours"`
	PendingLimit         int    `yaml:"pending_limit"`
	RetentionDays        int    `yaml:"retention_days"`
	DefaultOwner         string `yaml:"default_owner"`
}

// SchedulerConfig holds cron expressions for the periodic jobs.
type SchedulerConfig struct {
	Enabled               bool    `yaml:"enabled"`
	TimeReminders         string  `yaml:"time_reminders"`
	BehaviorReminders     string  `yaml:"behavior_reminders"`
	ConditionReminders    string  `yaml:"condition_reminders"`
	MaintenanceHour       int     `yaml:"maintenance_hour"`
	ConversationCheck     string  `yaml:"conversation_check"`
	ConversationIdleHours float64 `yaml:"conversation_idle_hours"`
	QuietHours            [2]int  `yaml:"quiet_hours"`
	Timezone              string  `yaml:"timezone"`
}

// LoggingConfig configures the process-wide log backend.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSecs) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

func (c ServerConfig) WebSocketWriteWait() time.Duration {
	return time.Duration(c.WebSocketWriteWaitSecs) * time.Second
}

func (c RemindersConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c RemindersConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

func (c RemindersConfig) PendingWindow() time.Duration {
	return time.Duration(c.PendingWindowHours) * time.Hour
}

func (c RemindersConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Location resolves the scheduler timezone, defaulting to time.Local.
func (c SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	path       string
	pathSource string
	sources    map[string]ValueSource
	loadedAt   time.Time
}

// Path returns the config file that was applied, or "" when only defaults
// and the environment were used.
func (m Metadata) Path() string {
	return m.path
}

// PathSource says how Path was found: "flag", "HERALD_CONFIG_PATH",
// "project" or "home".
func (m Metadata) PathSource() string {
	return m.pathSource
}

// Sources returns a copy of the provenance map.
func (m Metadata) Sources() map[string]ValueSource {
	if m.sources == nil {
		return map[string]ValueSource{}
	}
	copy := make(map[string]ValueSource, len(m.sources))
	for key, value := range m.sources {
		copy[key] = value
	}
	return copy
}

// Source returns the origin for the given configuration field.
func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)
