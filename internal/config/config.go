package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port          string
	Env           string
	DatabaseURL   string
	SQLitePath    string
	RedisURL      string
	PublicBaseURL string
	StorageDir    string
	CORSOrigins   []string

	// Identity provider
	AuthJWTSecret string
	SessionTTL    time.Duration

	// Agent API
	AgentAPIURL     string
	AgentAPITimeout time.Duration
	AgentAPIRPS     float64

	// Quota
	AgentQuota int

	// Deployment platform
	DeployAPIURL       string
	DeployAPIToken     string
	DeployTemplate     string
	DeployWebhookToken string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/agentdeck.db"),
		RedisURL:           os.Getenv("REDIS_URL"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		StorageDir:         getEnv("STORAGE_DIR", "./data/storage"),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "*")),
		AuthJWTSecret:      os.Getenv("AUTH_JWT_SECRET"),
		SessionTTL:         getDuration("SESSION_TTL", 12*time.Hour),
		AgentAPIURL:        strings.TrimRight(getEnv("AGENT_API_URL", "http://localhost:3000"), "/"),
		AgentAPITimeout:    getDuration("AGENT_API_TIMEOUT", 2*time.Minute),
		AgentAPIRPS:        getFloat("AGENT_API_RPS", 10),
		AgentQuota:         getInt("AGENT_QUOTA", 3),
		DeployAPIURL:       getEnv("DEPLOY_API_URL", "https://backboard.railway.app/api/projects"),
		DeployAPIToken:     os.Getenv("DEPLOY_API_TOKEN"),
		DeployTemplate:     os.Getenv("DEPLOY_TEMPLATE"),
		DeployWebhookToken: os.Getenv("DEPLOY_WEBHOOK_TOKEN"),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		RateLimitWhitelist: splitList(os.Getenv("RATE_LIMIT_WHITELIST")),
	}

	// In production, require database, redis and the identity secret
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.AuthJWTSecret == "" {
			panic("AUTH_JWT_SECRET is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
