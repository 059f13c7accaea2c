package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DatabaseAutoMigrate   bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	// AuthUsers is a comma separated list of username:role:bcrypt-hash.
	AuthUsers string

	LogLevel  string
	LogFormat string

	IncludeOpeningDeposit bool
	SummaryCacheTTL       time.Duration
	NotificationRulesFile string
	NotifyTimeout         time.Duration

	OTLPEndpoint string
	ServiceName  string
}

// Load reads the environment. A .env file in the working directory is
// applied first without overriding variables that are already set.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	summaryTTL := positiveInt("SUMMARY_CACHE_TTL_SECONDS", 600)
	notifyTimeout := positiveInt("NOTIFY_TIMEOUT_MS", 3000)

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DatabaseAutoMigrate:   getBool("DATABASE_AUTO_MIGRATE", false),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		AuthUsers:             strings.TrimSpace(os.Getenv("AUTH_USERS")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
		IncludeOpeningDeposit: getBool("SHIFT_SUMMARY_INCLUDE_OPENING_DEPOSIT", true),
		SummaryCacheTTL:       time.Duration(summaryTTL) * time.Second,
		NotificationRulesFile: strings.TrimSpace(os.Getenv("NOTIFICATION_RULES_FILE")),
		NotifyTimeout:         time.Duration(notifyTimeout) * time.Millisecond,
		OTLPEndpoint:          strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName:           getEnv("SERVICE_NAME", "posledger"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
