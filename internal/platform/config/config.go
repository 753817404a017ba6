package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server and worker need from the environment
// so main stays lean.
type Config struct {
	Addr      string
	LogLevel  string
	LogFormat string

	// SecretKey derives the contract-text encryption key and signs JWTs.
	SecretKey string

	PostgresDSN  string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	AI     AIConfig
	Worker WorkerConfig
	Alerts AlertConfig
}

// AIConfig configures the external reasoning provider.
type AIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	CallTimeout time.Duration
	MaxAttempts int
}

// WorkerConfig bounds the executor's retry state machine.
type WorkerConfig struct {
	Concurrency  int
	MaxAttempts  int
	JobTimeout   time.Duration
	PollInterval time.Duration
	BackoffBase  time.Duration
}

// AlertConfig drives the scheduled evaluation passes.
type AlertConfig struct {
	// LeadWindowDays are the days-before-deadline marks at which a warning
	// alert first fires. Must be sorted descending.
	LeadWindowDays []int
	DailyInterval  time.Duration
	WakeInterval   time.Duration
}

// FromEnv builds a Config from environment variables with development defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:        envOr("DEALGUARD_ADDR", ":8080"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),
		SecretKey:   os.Getenv("APP_SECRET_KEY"),
		PostgresDSN: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		KafkaTopic:  envOr("KAFKA_EVENTS_TOPIC", "dealguard.lifecycle"),
		AI: AIConfig{
			BaseURL:     envOr("AI_BASE_URL", "https://api.deepseek.com"),
			APIKey:      os.Getenv("AI_API_KEY"),
			Model:       envOr("AI_MODEL", "deepseek-chat"),
			CallTimeout: envDurationOr("AI_CALL_TIMEOUT", 90*time.Second),
			MaxAttempts: envIntOr("AI_MAX_ATTEMPTS", 2),
		},
		Worker: WorkerConfig{
			Concurrency:  envIntOr("WORKER_CONCURRENCY", 4),
			MaxAttempts:  envIntOr("WORKER_MAX_ATTEMPTS", 3),
			JobTimeout:   envDurationOr("WORKER_JOB_TIMEOUT", 5*time.Minute),
			PollInterval: envDurationOr("WORKER_POLL_INTERVAL", time.Second),
			BackoffBase:  envDurationOr("WORKER_BACKOFF_BASE", 30*time.Second),
		},
		Alerts: AlertConfig{
			LeadWindowDays: []int{30, 14, 7},
			DailyInterval:  envDurationOr("ALERTS_DAILY_INTERVAL", 24*time.Hour),
			WakeInterval:   envDurationOr("ALERTS_WAKE_INTERVAL", time.Hour),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
