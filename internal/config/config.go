package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Uriel-Ondo/agro/internal/database"
)

type Config struct {
	Port               string
	DBUrl              string
	DBMaxConns         int
	DBMinConns         int
	DBMaxConnLifetime  time.Duration
	DBMaxConnIdleTime  time.Duration
	JWTSecret          string
	AppEnv             string
	LogLevel           string
	UploadDir          string
	PublicBaseURL      string
	MaxUploadBytes     int
	SupabaseURL        string
	SupabaseBucket     string
	SupabaseServiceKey string
	WSSendBuffer       int
	InstanceID         string
	RedisEnabled       bool
	RedisAddr          string
	RedisStream        string
	DefaultFarmer      DefaultAccount
	DefaultExpert      DefaultAccount
}

// DefaultAccount is a development account created by `migrate seed`.
type DefaultAccount struct {
	Username string
	Email    string
	Password string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	port := getEnv("PORT", "8080")

	return &Config{
		Port:               port,
		DBUrl:              getEnv("DB_URL", ""),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:         getEnvInt("DB_MIN_CONNS", 2),
		DBMaxConnLifetime:  getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		DBMaxConnIdleTime:  getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		JWTSecret:          jwtSecret,
		AppEnv:             normalizeEnv(getEnv("APP_ENV", "production")),
		LogLevel:           strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://127.0.0.1:"+port), "/"),
		MaxUploadBytes:     getEnvInt("MAX_UPLOAD_BYTES", 25<<20),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		WSSendBuffer:       getEnvInt("WS_SEND_BUFFER", 32),
		InstanceID:         getEnv("INSTANCE_ID", hostname()),
		RedisEnabled:       getEnvBool("REDIS_ENABLED", false),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisStream:        getEnv("REDIS_STREAM", "expert-relay-events"),
		DefaultFarmer: DefaultAccount{
			Username: getEnv("DEFAULT_FARMER_USERNAME", ""),
			Email:    getEnv("DEFAULT_FARMER_EMAIL", ""),
			Password: getEnv("DEFAULT_FARMER_PASSWORD", ""),
		},
		DefaultExpert: DefaultAccount{
			Username: getEnv("DEFAULT_EXPERT_USERNAME", ""),
			Email:    getEnv("DEFAULT_EXPERT_EMAIL", ""),
			Password: getEnv("DEFAULT_EXPERT_PASSWORD", ""),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

func (c *Config) DBPool() database.PoolSettings {
	return database.PoolSettings{
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: c.DBMaxConnLifetime,
		MaxConnIdleTime: c.DBMaxConnIdleTime,
	}
}

func (c *Config) SupabaseEnabled() bool {
	return c != nil && c.SupabaseURL != "" && c.SupabaseBucket != "" && c.SupabaseServiceKey != ""
}
