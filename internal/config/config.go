package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the configuration of the example programs.
type Config struct {
	API     APIConfig     `envPrefix:"ORDERBOOK_"`
	Session SessionConfig `envPrefix:"ORDERBOOK_SESSION_"`
	Redis   RedisConfig   `envPrefix:"ORDERBOOK_REDIS_"`
	Book    BookConfig    `envPrefix:"ORDERBOOK_BOOK_"`

	LogLevel string `env:"ORDERBOOK_LOG_LEVEL" envDefault:"info"`
}

// APIConfig locates the trading server.
type APIConfig struct {
	BaseURL    string        `env:"API_BASE" envDefault:"http://localhost:8080"`
	StreamURL  string        `env:"WS_URL" envDefault:"ws://localhost:8080/ws"`
	StreamMode string        `env:"WS_MODE" envDefault:"subscribe"`
	Timeout    time.Duration `env:"API_TIMEOUT" envDefault:"10s"`
}

// SessionConfig selects where the bearer credential is mirrored.
type SessionConfig struct {
	// Store is one of "memory", "file" or "redis".
	Store string `env:"STORE" envDefault:"file"`
	Path  string `env:"PATH"`
}

// RedisConfig is used when SessionConfig.Store is "redis".
type RedisConfig struct {
	Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	Prefix   string        `env:"PREFIX" envDefault:"orderbook:"`
	TTL      time.Duration `env:"TTL" envDefault:"24h"`
}

// BookConfig tunes the order book view.
type BookConfig struct {
	Depth        int           `env:"DEPTH" envDefault:"20"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"700ms"`
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	switch cfg.Session.Store {
	case "memory", "file", "redis":
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
	switch cfg.API.StreamMode {
	case "subscribe", "query":
	default:
		return nil, fmt.Errorf("unknown stream mode %q", cfg.API.StreamMode)
	}
	return cfg, nil
}
