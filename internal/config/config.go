package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration for the service, read from
// environment variables.
type Config struct {
	ServerAddress string
	Database      DatabaseConfig
	Redis         RedisConfig
	Gemini        GeminiConfig
	JWT           JWTConfig
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

// RedisConfig is optional; an empty Addr disables the history cache.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type JWTConfig struct {
	Secret    string
	Algorithm string
	TTL       time.Duration
}

// FromEnv assembles configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ServerAddress: envOr("SERVER_ADDRESS", ":8080"),
		Database: DatabaseConfig{
			Driver: envOr("DATABASE_DRIVER", "sqlite3"),
			DSN:    os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Username: os.Getenv("REDIS_USERNAME"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		JWT: JWTConfig{
			Secret:    os.Getenv("SECRET_KEY"),
			Algorithm: envOr("ALGORITHM", "HS256"),
			TTL:       time.Hour,
		},
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("SECRET_KEY must be set")
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}
	if v := os.Getenv("TOKEN_TTL_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse TOKEN_TTL_MINUTES: %w", err)
		}
		if minutes <= 0 {
			return nil, fmt.Errorf("TOKEN_TTL_MINUTES must be positive")
		}
		cfg.JWT.TTL = time.Duration(minutes) * time.Minute
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
