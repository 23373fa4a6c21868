// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Push     PushConfig     `mapstructure:"push"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig holds settings for the notification event queue.
type QueueConfig struct {
	Key            string `mapstructure:"key"`
	DequeueTimeout int    `mapstructure:"dequeue_timeout"` // milliseconds
}

// CacheConfig holds TTLs for the two cache shapes.
type CacheConfig struct {
	PreferenceTTLHours int `mapstructure:"preference_ttl_hours"`
	TokenTTLHours      int `mapstructure:"token_ttl_hours"`
}

// PushConfig holds settings for the external push gateway.
type PushConfig struct {
	GatewayURL     string `mapstructure:"gateway_url"`
	AccessToken    string `mapstructure:"access_token"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	MaxAttempts    int    `mapstructure:"max_attempts"`    // total attempts including the first
	InitialBackoff int    `mapstructure:"initial_backoff"` // milliseconds
	MaxBackoff     int    `mapstructure:"max_backoff"`     // milliseconds
	Sound          string `mapstructure:"sound"`
	Priority       string `mapstructure:"priority"`
}

// WorkersConfig holds the supervisor settings.
type WorkersConfig struct {
	Listeners       int `mapstructure:"listeners"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the /metrics listener settings.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// DequeueTimeoutDuration returns the blocking-pop wait as a time.Duration.
func (q QueueConfig) DequeueTimeoutDuration() time.Duration {
	return time.Duration(q.DequeueTimeout) * time.Millisecond
}

// PreferenceTTL returns the preference cache TTL as a time.Duration.
func (c CacheConfig) PreferenceTTL() time.Duration {
	return time.Duration(c.PreferenceTTLHours) * time.Hour
}

// TokenTTL returns the per-device token cache TTL as a time.Duration.
func (c CacheConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}
