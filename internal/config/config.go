package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the service reads from the environment.
type Config struct {
	ListenAddr  string
	DatabaseDSN string
	RedisAddr   string
	Gemini      GeminiConfig
	JWT         JWTConfig
	// PollInterval is handed to the browser UI as its selfie poll period.
	PollInterval time.Duration
}

type GeminiConfig struct {
	APIKey       string
	MatchModel   string
	EnhanceModel string
}

type JWTConfig struct {
	Secret   string
	Audience string
}

// Load reads configuration from the environment. A local .env file is applied
// first when present; real environment variables win over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:  envStr("LISTEN_ADDR", ":8080"),
		DatabaseDSN: envStr("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=facegate port=5432 sslmode=disable"),
		RedisAddr:   envStr("REDIS_ADDR", "redis:6379"),
		Gemini: GeminiConfig{
			APIKey:       os.Getenv("GEMINI_API_KEY"),
			MatchModel:   os.Getenv("GEMINI_MATCH_MODEL"),
			EnhanceModel: os.Getenv("GEMINI_ENHANCE_MODEL"),
		},
		JWT: JWTConfig{
			Secret:   os.Getenv("JWT_SECRET"),
			Audience: os.Getenv("JWT_AUDIENCE"),
		},
		PollInterval: envDuration("SELFIE_POLL_INTERVAL", 3*time.Second),
	}
}

func envStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envDuration parses a duration env var ("3s", "500ms") with a plain-seconds
// fallback for bare integers.
func envDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
