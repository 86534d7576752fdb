// Package config loads cartd settings: defaults, then an optional YAML file,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	StorageBackend string `yaml:"storage_backend"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisPrefix    string `yaml:"redis_prefix"`
	MongoURI       string `yaml:"mongo_uri"`
	MongoDBName    string `yaml:"mongo_db_name"`

	KafkaBrokers []string `yaml:"kafka_brokers"`

	TemporaryCartWindow time.Duration `yaml:"temp_cart_window"`
	SessionWindow       time.Duration `yaml:"session_window"`
	SessionIdleTTL      time.Duration `yaml:"session_idle_ttl"`

	LogLevel string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		HTTPPort:            "8080",
		RequestTimeout:      30 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		StorageBackend:      BackendMemory,
		RedisAddr:           "localhost:6379",
		RedisPrefix:         "storefront",
		MongoURI:            "mongodb://localhost:27017",
		MongoDBName:         "cartdb",
		TemporaryCartWindow: 5 * time.Minute,
		SessionWindow:       15 * time.Minute,
		SessionIdleTTL:      30 * time.Minute,
		LogLevel:            "info",
	}
}

// Load reads path (skipped when empty or missing) and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error while reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.MongoURI = getEnv("MONGO_URI", c.MongoURI)
	c.MongoDBName = getEnv("MONGO_DB_NAME", c.MongoDBName)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = strings.Split(v, ",")
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TEMP_CART_WINDOW", &c.TemporaryCartWindow},
		{"SESSION_WINDOW", &c.SessionWindow},
		{"SESSION_IDLE_TTL", &c.SessionIdleTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendRedis, BackendMongo:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.TemporaryCartWindow <= 0 || c.SessionWindow <= 0 {
		return errors.New("cart windows must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
