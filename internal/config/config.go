package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds application level configuration loaded from environment variables.
type Config struct {
	ServerPort  string
	AppEnv      string
	LogLevel    string
	MySQLDSN    string
	ResetDB     bool
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	JWTSecret   string
	SwaggerHost string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	SweepInterval  time.Duration
	SweepBatchSize int
	ListCacheTTL   time.Duration

	PlatformFeeRate    decimal.Decimal
	DefaultClaimWindow time.Duration
	DefaultCampaignTTL time.Duration
	AutoApproveAfter   time.Duration
	EarningHold        time.Duration
	MinWithdrawal      decimal.Decimal

	NotificationQueue string
}

// Load builds Config from environment with sensible defaults.
func Load() *Config {
	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MySQLDSN:    getEnv("MYSQL_DSN", "user:password@tcp(localhost:3306)/taskflow?charset=utf8mb4&parseTime=True&loc=UTC"),
		ResetDB:     getBool("RESET_DB", false),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		JWTSecret:   getEnv("JWT_SECRET", "change-me"),
		SwaggerHost: os.Getenv("SWAGGER_HOST"),

		AccessTokenTTL:  getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		SweepInterval:  getDuration("SWEEP_INTERVAL", 30*time.Second),
		SweepBatchSize: getEnvInt("SWEEP_BATCH_SIZE", 100),
		ListCacheTTL:   getDuration("LIST_CACHE_TTL", 30*time.Second),

		PlatformFeeRate:    getDecimal("PLATFORM_FEE_RATE", decimal.RequireFromString("0.05")),
		DefaultClaimWindow: getDuration("DEFAULT_CLAIM_WINDOW", time.Hour),
		DefaultCampaignTTL: getDuration("DEFAULT_CAMPAIGN_TTL", 30*24*time.Hour),
		AutoApproveAfter:   getDuration("AUTO_APPROVE_AFTER", 48*time.Hour),
		EarningHold:        getDuration("EARNING_HOLD", 24*time.Hour),
		MinWithdrawal:      getDecimal("MIN_WITHDRAWAL", decimal.RequireFromString("1.00")),

		NotificationQueue: getEnv("NOTIFICATION_QUEUE", "notifications"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def
	}
	return d
}
