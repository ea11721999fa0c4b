package config

import (
	"errors"
	"time"
)

// ErrConfigurationMissing marks a required setting that was absent or empty.
// It is fatal at startup: no listener is opened.
var ErrConfigurationMissing = errors.New("required configuration missing")

// Config represents the complete courier configuration.
//
// Values are layered: Defaults(), then the optional YAML file, then .env,
// then the process environment.
type Config struct {
	Listen        string `yaml:"listen" env:"LISTEN_ADDR"`
	WebhookSecret string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	DatabaseURL   string `yaml:"database_url" env:"DATABASE_URL"`
	LogLevel      string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat     string `yaml:"log_format" env:"LOG_FORMAT"`

	// MaxBodySizeRaw accepts "1MB", "512KB" or a byte count.
	MaxBodySizeRaw string `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
	MaxBodySize    int64  `yaml:"-"`

	InsertTimeout   time.Duration `yaml:"insert_timeout" env:"INSERT_TIMEOUT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// DatabaseMaxConns caps the PostgreSQL pool; ignored for SQLite.
	DatabaseMaxConns int `yaml:"database_max_conns" env:"DATABASE_MAX_CONNS"`

	// SourceFile is the YAML file the config was read from, if any.
	SourceFile string `yaml:"-"`
}

// Secret returns the HMAC key as raw bytes.
func (c *Config) Secret() []byte {
	return []byte(c.WebhookSecret)
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Listen:           "0.0.0.0:8000",
		LogLevel:         "INFO",
		LogFormat:        "json",
		MaxBodySizeRaw:   "1MB",
		MaxBodySize:      DefaultMaxBodySize,
		InsertTimeout:    5 * time.Second,
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		DatabaseMaxConns: 10,
	}
}

const DefaultMaxBodySize = 1048576 // 1 MB
