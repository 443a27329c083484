// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable for the chat server process.
type Config struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	PostgresDSN    string        `envconfig:"POSTGRES_DSN" default:"postgres://localhost:5432/dm?sslmode=disable"`
	StorageTimeout time.Duration `envconfig:"STORAGE_TIMEOUT" default:"2s"`
	StorageRetries uint64        `envconfig:"STORAGE_RETRIES" default:"2"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	NATSURL   string `envconfig:"NATS_URL" default:"nats://localhost:4222"`

	JWTSecret  string `envconfig:"JWT_SECRET" required:"true"`
	ServerName string `envconfig:"SERVER_NAME"`
}

// Load reads a .env file if present, then the process environment, and
// validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if cfg.ServerName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "dm-1"
		}
		cfg.ServerName = host
	}

	return cfg, nil
}
