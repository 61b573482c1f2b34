package config

import "time"

// Application run modes.
const (
	// ModeLocal runs workers inside the server process with the durable
	// in-process task runner and in-process progress delivery.
	ModeLocal = "local"

	// ModeDistributed runs workers as separate processes fed by RabbitMQ, with
	// progress events relayed through Redis.
	ModeDistributed = "distributed"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	App       AppConfig       `mapstructure:"app" validate:"required"`
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
	WebSocket WebSocketConfig `mapstructure:"websocket" validate:"required"`
}

// AppConfig selects how the components are deployed.
type AppConfig struct {
	Mode string `mapstructure:"mode" validate:"required,oneof=local distributed"`
}

// IsDistributed reports whether workers run out of process.
func (c AppConfig) IsDistributed() bool {
	return c.Mode == ModeDistributed
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	PublicBaseURL   string        `mapstructure:"public_base_url" validate:"omitempty,url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// AuthConfig contains the admin channel credentials.
type AuthConfig struct {
	// AdminSecret signs and verifies admin tokens (HS256).
	AdminSecret string `mapstructure:"admin_secret" validate:"required,min=32"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string        `mapstructure:"gemini_api_key" validate:"required"`
	TextModel    string        `mapstructure:"text_model" validate:"required"`
	ImageModel   string        `mapstructure:"image_model" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
}

// StorageConfig selects and configures the artifact storage backend.
type StorageConfig struct {
	Backend      string `mapstructure:"backend" validate:"required,oneof=local s3"`
	LocalDir     string `mapstructure:"local_dir" validate:"required_if=Backend local"`
	Bucket       string `mapstructure:"bucket" validate:"required_if=Backend s3"`
	Region       string `mapstructure:"region" validate:"required_if=Backend s3"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	CDNBaseURL   string `mapstructure:"cdn_base_url" validate:"omitempty,url"`

	// UploadTimeout bounds each artifact upload.
	UploadTimeout time.Duration `mapstructure:"upload_timeout" validate:"gt=0"`
}

// RabbitMQConfig configures the job queue used in distributed mode.
type RabbitMQConfig struct {
	URL         string        `mapstructure:"url"`
	Prefetch    int           `mapstructure:"prefetch" validate:"gte=1"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
}

// RedisConfig configures the progress event bus used in distributed mode.
type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db" validate:"gte=0"`
	ProgressChannel string `mapstructure:"progress_channel" validate:"required"`
}

// TaskConfig holds background processing and maintenance settings.
type TaskConfig struct {
	WorkerCount      int           `mapstructure:"worker_count" validate:"gte=1"`
	QueueSize        int           `mapstructure:"queue_size" validate:"gte=1"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gte=1"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	StuckTaskAge     time.Duration `mapstructure:"stuck_task_age" validate:"gt=0"`
	SoftTimeLimit    time.Duration `mapstructure:"soft_time_limit" validate:"gt=0"`
	HardTimeLimit    time.Duration `mapstructure:"hard_time_limit" validate:"gtfield=SoftTimeLimit"`
	StuckTimeout     time.Duration `mapstructure:"stuck_timeout" validate:"gt=0"`
	TaskRetention    time.Duration `mapstructure:"task_retention" validate:"gt=0"`
	SessionRetention time.Duration `mapstructure:"session_retention" validate:"gt=0"`
	Schedules        Schedules     `mapstructure:"schedules" validate:"required"`
}

// Schedules holds cron specs for the maintenance jobs.
type Schedules struct {
	FailStuckTasks     string `mapstructure:"fail_stuck_tasks" validate:"required"`
	CleanupOldTasks    string `mapstructure:"cleanup_old_tasks" validate:"required"`
	CleanupOldSessions string `mapstructure:"cleanup_old_sessions" validate:"required"`
	Statistics         string `mapstructure:"statistics" validate:"required"`
}

// WebSocketConfig configures the live progress channel.
type WebSocketConfig struct {
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	AdminStatsInterval time.Duration `mapstructure:"admin_stats_interval" validate:"gt=0"`
	SendBuffer         int           `mapstructure:"send_buffer" validate:"gte=1"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
}
