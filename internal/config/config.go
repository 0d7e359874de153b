package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Task     TaskConfig     `mapstructure:"task"     validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// TaskConfig contains the task orchestration settings.
type TaskConfig struct {
	// PollIntervalMillis is how often the worker loop wakes on its own to look
	// for ready tasks, independent of work signals.
	PollIntervalMillis int `mapstructure:"poll_interval_millis" validate:"required,gt=0"`

	// BaseRetryDelayMillis is the first retry delay; each subsequent retry
	// doubles it.
	BaseRetryDelayMillis int `mapstructure:"base_retry_delay_millis" validate:"required,gt=0"`

	// DefaultMaxAttempts is the attempt ceiling applied when a submission does
	// not specify one.
	DefaultMaxAttempts int `mapstructure:"default_max_attempts" validate:"required,gt=0"`

	// AbandonedTaskAgeMinutes defines how long a task may sit in processing
	// before startup recovery resets it to pending.
	AbandonedTaskAgeMinutes int `mapstructure:"abandoned_task_age_minutes" validate:"required,gt=0"`

	// SSEHeartbeatSeconds is the interval between keep-alive events on the
	// push stream.
	SSEHeartbeatSeconds int `mapstructure:"sse_heartbeat_seconds" validate:"required,gt=0"`
}
