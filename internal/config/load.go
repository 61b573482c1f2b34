package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "MANGA"

// Load configuration from defaults, an optional config.yaml, an optional
// .env file and environment variables, in increasing order of precedence.
// Returns a populated and validated Config or an error.
func Load() (*Config, error) {
	return LoadWithPaths(".", "./config")
}

// LoadWithPaths behaves like Load but searches the given directories for
// config.yaml.
func LoadWithPaths(paths ...string) (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags and cross-field rules.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.App.IsDistributed() {
		if cfg.RabbitMQ.URL == "" {
			return errors.New("config validation failed: rabbitmq.url is required in distributed mode")
		}
		if cfg.Redis.Addr == "" {
			return errors.New("config validation failed: redis.addr is required in distributed mode")
		}
	}
	return nil
}

// setDefaults registers a default for every key so AutomaticEnv can resolve
// them during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.mode", ModeLocal)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("auth.admin_secret", "")

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.text_model", "gemini-2.0-flash")
	v.SetDefault("llm.image_model", "gemini-2.0-flash-preview-image-generation")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "2s")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./storage")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("storage.cdn_base_url", "")
	v.SetDefault("storage.upload_timeout", "60s")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.prefetch", 1)
	v.SetDefault("rabbitmq.concurrency", 2)
	v.SetDefault("rabbitmq.max_retries", 3)
	v.SetDefault("rabbitmq.retry_delay", "60s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.progress_channel", "manga:progress")

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.max_attempts", 3)
	v.SetDefault("task.retry_delay", "60s")
	v.SetDefault("task.stuck_task_age", "30m")
	v.SetDefault("task.soft_time_limit", "300s")
	v.SetDefault("task.hard_time_limit", "600s")
	v.SetDefault("task.stuck_timeout", "1h")
	v.SetDefault("task.task_retention", "168h")
	v.SetDefault("task.session_retention", "720h")
	v.SetDefault("task.schedules.fail_stuck_tasks", "@every 10m")
	v.SetDefault("task.schedules.cleanup_old_tasks", "@hourly")
	v.SetDefault("task.schedules.cleanup_old_sessions", "@daily")
	v.SetDefault("task.schedules.statistics", "@every 15m")

	v.SetDefault("websocket.heartbeat_interval", "30s")
	v.SetDefault("websocket.admin_stats_interval", "10s")
	v.SetDefault("websocket.send_buffer", 32)
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.allowed_origins", []string{})
}
