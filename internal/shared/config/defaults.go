package config

const (
	DefaultListenAddr         = ":8080"
	DefaultCacheTTLSeconds    = 300
	DefaultCacheSize          = 512
	DefaultRetryIntervalSecs  = 300
	DefaultPendingWindowHours = 24
	DefaultPendingLimit       = 10
	DefaultRetentionDays      = 30
	DefaultOwner              = "default"
	DefaultSQLitePath         = "herald.db"
)

// Default returns the configuration used when no file or env override is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:             DefaultListenAddr,
			AllowedOrigins:         []string{"*"},
			RateLimitRPS:           5,
			RateLimitBurst:         10,
			ReadHeaderTimeoutSecs:  10,
			ShutdownTimeoutSecs:    15,
			WebSocketWriteWaitSecs: 10,
		},
		Storage: StorageConfig{
			Driver:       StorageDriverMemory,
			SQLitePath:   DefaultSQLitePath,
			EnsureSchema: true,
		},
		Reminders: RemindersConfig{
			CacheTTLSeconds:      DefaultCacheTTLSeconds,
			CacheSize:            DefaultCacheSize,
			RetryIntervalSeconds: DefaultRetryIntervalSecs,
			PendingWindowHours:   DefaultPendingWindowHours,
			PendingLimit:         DefaultPendingLimit,
			RetentionDays:        DefaultRetentionDays,
			DefaultOwner:         DefaultOwner,
		},
		Scheduler: SchedulerConfig{
			Enabled:               true,
			TimeReminders:         "@every 1m",
			BehaviorReminders:     "@every 5m",
			ConditionReminders:    "@every 15m",
			MaintenanceHour:       3,
			ConversationCheck:     "@hourly",
			ConversationIdleHours: 6,
			QuietHours:            [2]int{22, 8},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
