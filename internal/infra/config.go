package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	JWTSecret   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PublicBaseURL string
	AdminToken    string

	FalAPIKey  string
	FalBaseURL string
	FalModel   string

	WaveSpeedAPIKey  string
	WaveSpeedBaseURL string
	WaveSpeedModel   string

	StripeWebhookSecret string

	DefaultProvider string
	VideoCreditCost int

	ProviderTimeout time.Duration
	PollInterval    time.Duration
	PollStaleAfter  time.Duration
	PollBatchSize   int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		AdminToken:    os.Getenv("ADMIN_DASHBOARD_TOKEN"),

		FalAPIKey:  os.Getenv("FAL_API_KEY"),
		FalBaseURL: getEnv("FAL_BASE_URL", "https://queue.fal.run"),
		FalModel:   getEnv("FAL_MODEL", "fal-ai/sora"),

		WaveSpeedAPIKey:  os.Getenv("WAVESPEED_API_KEY"),
		WaveSpeedBaseURL: getEnv("WAVESPEED_BASE_URL", "https://api.wavespeed.ai"),
		WaveSpeedModel:   getEnv("WAVESPEED_MODEL", "wavespeed-ai/wan-2.1/i2v-480p"),

		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		DefaultProvider: getEnv("DEFAULT_PROVIDER", "fal"),
		VideoCreditCost: getEnvInt("VIDEO_CREDIT_COST", 20),

		ProviderTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),
		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 15)),
		PollStaleAfter:  time.Minute * time.Duration(getEnvInt("POLL_STALE_AFTER_MINUTES", 10)),
		PollBatchSize:   getEnvInt("POLL_BATCH_SIZE", 5),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.VideoCreditCost <= 0 {
		return nil, fmt.Errorf("VIDEO_CREDIT_COST must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
