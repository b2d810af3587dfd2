// Package config reads settings from the environment, optionally seeded from
// a .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go-computetask/model"
)

// Server configures taskd.
type Server struct {
	Addr        string
	WorkerCount int
	// DatabaseURL selects the Postgres store; empty means in-memory.
	DatabaseURL string
	// RedisAddr selects the Redis queue; empty means in-memory.
	RedisAddr string
	// NATSURL enables status events when set.
	NATSURL  string
	LogLevel slog.Level
}

// Client configures taskctl.
type Client struct {
	Endpoint    model.Endpoint
	Credentials model.Credentials
	Timeout     time.Duration
	Retries     uint64
	LogLevel    slog.Level
}

// LoadDotEnv loads the given files (default ".env") into the environment.
// Variables already set are not overridden. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func LoadServer() (Server, error) {
	cfg := Server{
		Addr:        getenv("SERVER_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		NATSURL:     os.Getenv("NATS_URL"),
	}

	workerCount, err := strconv.Atoi(getenv("WORKER_COUNT", "5"))
	if err != nil || workerCount <= 0 {
		workerCount = 5
	}
	cfg.WorkerCount = workerCount

	if cfg.LogLevel, err = parseLevel(os.Getenv("LOG_LEVEL")); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func LoadClient() (Client, error) {
	cfg := Client{
		Endpoint: model.Endpoint{
			BaseURL:      getenv("COMPUTE_URL", "http://localhost:8080"),
			ResourcePath: getenv("COMPUTE_TASK_PATH", "/tasks/"),
		},
		Credentials: model.Credentials{
			AccessToken:  os.Getenv("COMPUTE_TOKEN"),
			RefreshToken: os.Getenv("COMPUTE_REFRESH_TOKEN"),
		},
	}

	var err error
	if cfg.Timeout, err = time.ParseDuration(getenv("HTTP_TIMEOUT", "30s")); err != nil {
		return Client{}, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	if cfg.Retries, err = strconv.ParseUint(getenv("HTTP_RETRIES", "0"), 10, 32); err != nil {
		return Client{}, fmt.Errorf("invalid HTTP_RETRIES: %w", err)
	}
	if cfg.LogLevel, err = parseLevel(os.Getenv("LOG_LEVEL")); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
