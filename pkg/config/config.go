// Package config loads service configuration from an optional config file,
// a .env file and INSTALLMENTS_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mcclellann/installments/pkg/logging"
)

// Config holds all service configuration.
type Config struct {
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Log         logging.Config
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	AMQP        AMQPConfig
	Scheduler   SchedulerConfig
}

type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Path string
}

// RedisConfig configures the idempotency store. An empty Addr selects the
// in-memory store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type IdempotencyConfig struct {
	TTL time.Duration
}

// AMQPConfig configures event publishing. An empty URL logs events instead.
type AMQPConfig struct {
	URL      string
	Exchange string
}

type SchedulerConfig struct {
	OverdueInterval time.Duration
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.HTTP.Port
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("database.path", "installments.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "installments")
	v.SetDefault("scheduler.overdue_interval", time.Hour)
}

// Load reads configuration. Priority, highest first: environment variables
// (INSTALLMENTS_HTTP_PORT, ...), variables from a .env file, config.yaml in
// the working directory, built-in defaults.
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	v.SetEnvPrefix("INSTALLMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		HTTP: HTTPConfig{
			Port:            v.GetString("http.port"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Idempotency: IdempotencyConfig{
			TTL: v.GetDuration("idempotency.ttl"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("amqp.url"),
			Exchange: v.GetString("amqp.exchange"),
		},
		Scheduler: SchedulerConfig{
			OverdueInterval: v.GetDuration("scheduler.overdue_interval"),
		},
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.HTTP.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.HTTP.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.Database.Path == "" {
		problems = append(problems, "database path cannot be empty")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be json or console", c.Log.Format))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.Log.Level))
	}

	if c.AMQP.URL != "" {
		if u, err := url.Parse(c.AMQP.URL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQP.Exchange == "" {
			problems = append(problems, "AMQP exchange cannot be empty when an AMQP URL is set")
		}
	}

	if c.Idempotency.TTL < time.Minute {
		problems = append(problems, fmt.Sprintf("invalid idempotency ttl %v: must be at least 1 minute", c.Idempotency.TTL))
	}

	if c.Scheduler.OverdueInterval < time.Second {
		problems = append(problems, fmt.Sprintf("invalid overdue interval %v: must be at least 1 second", c.Scheduler.OverdueInterval))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}
