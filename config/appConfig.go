package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env            string
	Port           string
	CORSOrigins    []string
	SkipMigrations bool
	Schedule       ScheduleConfig
	Lock           LockConfig
	OpsRateLimit   RateLimitConfig
	PubSub         PubSubConfig
}

// ScheduleConfig drives the daily opening/closing capture. Times are HH:MM
// wall-clock values in Timezone.
type ScheduleConfig struct {
	Enabled     bool
	Timezone    string
	OpeningTime string
	ClosingTime string
}

type LockConfig struct {
	// Backend is one of memory, redis or mysql.
	Backend string
	TTL     time.Duration
	Wait    time.Duration
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type PubSubConfig struct {
	AnomalyTopic           string
	StockEventTopic        string
	StockEventSubscription string
}

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
	LockBackendMySQL  = "mysql"
)

// LoadAppConfig reads .env (if present) and the environment.
func LoadAppConfig() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	// A missing .env is normal on Cloud Run.
	_ = v.ReadInConfig()
	return loadAppConfigFrom(v)
}

func loadAppConfigFrom(v *viper.Viper) (*AppConfig, error) {
	v.SetDefault("GO_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("SKIP_MIGRATIONS", false)
	v.SetDefault("SCHEDULE_ENABLED", true)
	v.SetDefault("ORG_TIMEZONE", "Asia/Yangon")
	v.SetDefault("OPENING_CAPTURE_AT", "00:05")
	v.SetDefault("CLOSING_CAPTURE_AT", "23:55")
	v.SetDefault("LOCK_BACKEND", LockBackendMemory)
	v.SetDefault("LOCK_TTL_SECONDS", 60)
	v.SetDefault("LOCK_WAIT_SECONDS", 30)
	v.SetDefault("OPS_RATE_PER_SECOND", 1.0)
	v.SetDefault("OPS_RATE_BURST", 5)

	cfg := &AppConfig{
		Env:            v.GetString("GO_ENV"),
		Port:           v.GetString("PORT"),
		CORSOrigins:    splitAndTrim(v.GetString("CORS_ALLOWED_ORIGINS")),
		SkipMigrations: v.GetBool("SKIP_MIGRATIONS"),
		Schedule: ScheduleConfig{
			Enabled:     v.GetBool("SCHEDULE_ENABLED"),
			Timezone:    v.GetString("ORG_TIMEZONE"),
			OpeningTime: v.GetString("OPENING_CAPTURE_AT"),
			ClosingTime: v.GetString("CLOSING_CAPTURE_AT"),
		},
		Lock: LockConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString("LOCK_BACKEND"))),
			TTL:     time.Duration(v.GetInt("LOCK_TTL_SECONDS")) * time.Second,
			Wait:    time.Duration(v.GetInt("LOCK_WAIT_SECONDS")) * time.Second,
		},
		OpsRateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("OPS_RATE_PER_SECOND"),
			Burst:             v.GetInt("OPS_RATE_BURST"),
		},
		PubSub: PubSubConfig{
			AnomalyTopic:           v.GetString("ANOMALY_TOPIC"),
			StockEventTopic:        v.GetString("STOCK_EVENT_TOPIC"),
			StockEventSubscription: v.GetString("STOCK_EVENT_SUBSCRIPTION"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

func (c *AppConfig) Validate() error {
	if _, err := c.Schedule.Location(); err != nil {
		return fmt.Errorf("ORG_TIMEZONE: %w", err)
	}
	if _, err := c.Schedule.OpeningSpec(); err != nil {
		return fmt.Errorf("OPENING_CAPTURE_AT: %w", err)
	}
	if _, err := c.Schedule.ClosingSpec(); err != nil {
		return fmt.Errorf("CLOSING_CAPTURE_AT: %w", err)
	}
	switch c.Lock.Backend {
	case LockBackendMemory, LockBackendRedis, LockBackendMySQL:
	default:
		return fmt.Errorf("LOCK_BACKEND: unsupported backend %q", c.Lock.Backend)
	}
	if c.Lock.TTL <= 0 || c.Lock.Wait <= 0 {
		return fmt.Errorf("LOCK_TTL_SECONDS and LOCK_WAIT_SECONDS must be positive")
	}
	return nil
}

func (s ScheduleConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		tz = "Asia/Yangon"
	}
	return time.LoadLocation(tz)
}

func (s ScheduleConfig) OpeningSpec() (string, error) {
	return dailyCronSpec(s.OpeningTime)
}

func (s ScheduleConfig) ClosingSpec() (string, error) {
	return dailyCronSpec(s.ClosingTime)
}

// dailyCronSpec turns "HH:MM" into a five-field cron expression firing once a day.
func dailyCronSpec(hhmm string) (string, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return "", fmt.Errorf("invalid time of day %q, want HH:MM", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
