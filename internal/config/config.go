// Package config defines and loads application configuration.
package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// RedisConfig contains the Redis connection settings. When Addr is
// empty the process runs with the in-memory bus and cannot execute
// isolated-job tasks or share progress across replicas.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// AuthConfig contains authentication settings. An empty secret
// disables API authentication (development only).
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"     validate:"omitempty,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

// WorkerConfig contains task orchestration settings.
type WorkerConfig struct {
	// PoolSize bounds concurrent in-process executions.
	PoolSize int `mapstructure:"pool_size" validate:"required,gt=0,lte=64"`

	// QueuePollInterval is how often idle workers re-check the queue
	// for tasks admitted by other replicas.
	QueuePollInterval time.Duration `mapstructure:"queue_poll_interval"`

	// LivenessTimeout is the maximum allowed silence from a running
	// task before it is forcibly failed.
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout" validate:"required"`

	// LivenessCheckInterval is how often to sweep for silent tasks.
	LivenessCheckInterval time.Duration `mapstructure:"liveness_check_interval"`
}
