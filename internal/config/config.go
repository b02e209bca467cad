package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// WebhookSecret is the shared secret the commerce platform signs webhooks with.
	WebhookSecret string
	// AppSecret seeds derived signing keys (verification credentials).
	AppSecret string

	Platform     PlatformConfig
	Verification VerificationConfig
	Email        EmailConfig
	Lookups      LookupConfig
	Scheduler    SchedulerConfig

	// OperatorAPIKeys are "role:key" pairs seeded into api_keys at startup.
	OperatorAPIKeys []string
}

type PlatformConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

type VerificationConfig struct {
	BaseURL   string
	RateLimit float64
	Burst     int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	Timeout      time.Duration
}

type LookupConfig struct {
	GeoIPURL   string
	BINListURL string
	Timeout    time.Duration
}

type SchedulerConfig struct {
	TickInterval       time.Duration
	SweepConcurrency   int
	CompletedRetention time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "orderguard"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPPort:     getenv("PORT", "8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "orderguard"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		WebhookSecret: strings.TrimSpace(getenv("WEBHOOK_SHARED_SECRET", "")),
		AppSecret:     strings.TrimSpace(getenv("APP_SECRET", "")),

		Platform: PlatformConfig{
			BaseURL:     strings.TrimRight(getenv("PLATFORM_API_URL", ""), "/"),
			AccessToken: strings.TrimSpace(getenv("PLATFORM_ACCESS_TOKEN", "")),
			Timeout:     getenvDuration("PLATFORM_TIMEOUT", 10*time.Second),
		},
		Verification: VerificationConfig{
			BaseURL:   getenv("VERIFY_BASE_URL", "http://localhost:8080/verify"),
			RateLimit: getenvFloat("VERIFY_RATE_PER_SECOND", 0.2),
			Burst:     getenvInt("VERIFY_BURST", 5),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@orderguard.local"),
			Timeout:      getenvDuration("SMTP_TIMEOUT", 10*time.Second),
		},
		Lookups: LookupConfig{
			GeoIPURL:   strings.TrimRight(getenv("GEOIP_URL", "http://ip-api.com/json"), "/"),
			BINListURL: strings.TrimRight(getenv("BINLIST_URL", "https://lookup.binlist.net"), "/"),
			Timeout:    getenvDuration("LOOKUP_TIMEOUT", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			TickInterval:       getenvDuration("SCHEDULER_TICK_INTERVAL", 30*time.Second),
			SweepConcurrency:   getenvInt("SCHEDULER_SWEEP_CONCURRENCY", 8),
			CompletedRetention: getenvDuration("QUEUE_COMPLETED_RETENTION", 7*24*time.Hour),
		},
		OperatorAPIKeys: parseList(getenv("OPERATOR_API_KEYS", "")),
	}

	if cfg.WebhookSecret == "" {
		log.Println("WEBHOOK_SHARED_SECRET is empty; every webhook will be rejected")
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
