package config

import (
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
	NodeID      int64

	OTLPEndpoint string

	HTTPAddr   string
	CronSecret string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis       RedisConfig
	Email       EmailConfig
	Slack       SlackConfig
	Billing     BillingProviderConfig
	Credential  CredentialConfig
	Sync        SyncConfig
	Notify      NotifyConfig
	Lock        LockConfig
	Scheduler   SchedulerConfig
	RateLimit   RateLimitConfig
	MetricsPush MetricsPushConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type SlackConfig struct {
	BotToken string
	APIURL   string
}

type BillingProviderConfig struct {
	BaseURL string
	Timeout time.Duration
}

type CredentialConfig struct {
	// Key is a base64 encoded 32 byte secret.
	Key string
}

type SyncConfig struct {
	Cooldown          time.Duration
	DefaultWindowDays int
	TopDimensions     int
}

type NotifyConfig struct {
	StaleAfter   time.Duration
	SendTimeout  time.Duration
	MaxAttempts  int
	DashboardURL string
}

type LockConfig struct {
	Backend         string
	AutoSyncTTL     time.Duration
	WeeklyReportTTL time.Duration
}

type SchedulerConfig struct {
	Enabled              bool
	Jobs                 string
	RunInterval          time.Duration
	AutoSyncMaxUsers     int
	AutoSyncMinHours     int
	AutoSyncConcurrency  int
	WeeklyReportWeekday  time.Weekday
	WeeklyReportHourUTC  int
	WeeklyReportMaxUsers int
	WeeklyReportWorkers  int
}

type RateLimitConfig struct {
	ManualSyncRate  float64
	ManualSyncBurst int
}

// MetricsPushConfig ships pipeline metrics after scheduled runs, for
// deployments where nothing scrapes the process.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

const (
	LockBackendDB    = "db"
	LockBackendRedis = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "costwatch"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		NodeID:       int64(getenvInt("NODE_ID", 1)),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", ""),

		HTTPAddr:   getenv("HTTP_ADDR", ":8080"),
		CronSecret: strings.TrimSpace(getenv("CRON_SECRET", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "costwatch"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "costwatch.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     strings.TrimSpace(getenv("SMTP_FROM", "alerts@costwatch.local")),
		},
		Slack: SlackConfig{
			BotToken: strings.TrimSpace(getenv("SLACK_BOT_TOKEN", "")),
			APIURL:   strings.TrimSpace(getenv("SLACK_API_URL", "https://slack.com/api")),
		},
		Billing: BillingProviderConfig{
			BaseURL: strings.TrimSpace(getenv("BILLING_PROVIDER_URL", "")),
			Timeout: getenvDuration("BILLING_PROVIDER_TIMEOUT", 15*time.Second),
		},
		Credential: CredentialConfig{
			Key: strings.TrimSpace(getenv("CREDENTIAL_KEY", "")),
		},
		Sync: SyncConfig{
			Cooldown:          getenvDuration("SYNC_COOLDOWN", 2*time.Minute),
			DefaultWindowDays: getenvInt("SYNC_DEFAULT_WINDOW_DAYS", 30),
			TopDimensions:     getenvInt("SYNC_TOP_DIMENSIONS", 12),
		},
		Notify: NotifyConfig{
			StaleAfter:   getenvDuration("NOTIFY_STALE_AFTER", 15*time.Minute),
			SendTimeout:  getenvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
			MaxAttempts:  getenvInt("NOTIFY_MAX_ATTEMPTS", 3),
			DashboardURL: strings.TrimSpace(getenv("DASHBOARD_URL", "")),
		},
		Lock: LockConfig{
			Backend:         normalizeLockBackend(getenv("LOCK_BACKEND", LockBackendDB)),
			AutoSyncTTL:     getenvDuration("LOCK_AUTO_SYNC_TTL", 20*time.Minute),
			WeeklyReportTTL: getenvDuration("LOCK_WEEKLY_REPORT_TTL", 15*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:              getenvBool("SCHEDULER_ENABLED", false),
			Jobs:                 strings.TrimSpace(getenv("SCHEDULER_JOBS", "")),
			RunInterval:          getenvDuration("SCHEDULER_RUN_INTERVAL", time.Hour),
			AutoSyncMaxUsers:     getenvInt("AUTO_SYNC_MAX_USERS", 200),
			AutoSyncMinHours:     getenvInt("AUTO_SYNC_MIN_HOURS", 12),
			AutoSyncConcurrency:  getenvInt("AUTO_SYNC_CONCURRENCY", 3),
			WeeklyReportWeekday:  time.Weekday(getenvInt("WEEKLY_REPORT_WEEKDAY", int(time.Monday))),
			WeeklyReportHourUTC:  getenvInt("WEEKLY_REPORT_HOUR_UTC", 9),
			WeeklyReportMaxUsers: getenvInt("WEEKLY_REPORT_MAX_USERS", 500),
			WeeklyReportWorkers:  getenvInt("WEEKLY_REPORT_CONCURRENCY", 4),
		},
		RateLimit: RateLimitConfig{
			ManualSyncRate:  getenvFloat("MANUAL_SYNC_RATE", 0.05),
			ManualSyncBurst: getenvInt("MANUAL_SYNC_BURST", 3),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeLockBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case LockBackendRedis:
		return LockBackendRedis
	default:
		return LockBackendDB
	}
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
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
