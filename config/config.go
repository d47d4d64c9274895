/*
Package config loads server configuration.

PRECEDENCE (highest first):
  1. Command-line flags (-port, -db, ...)
  2. Process environment
  3. .env file in the working directory (optional)
  4. Defaults below

KEYS:
  PORT                  HTTP port (8080)
  DB_PATH               SQLite path (practicas.db, ":memory:" allowed)
  HOLIDAY_PROVIDER_URL  Template with {year}; empty = local holidays table
  HOLIDAY_CACHE_TTL     Freshness of a cached year (6h)
  REDIS_URL             Shared holiday cache; empty = in-process cache
  GRACE_DAYS            Overdue grace window (5)
  ESCALATION_CRON       Escalation schedule ("0 8 * * 1-5"); empty disables
  OUTBOX_CRON           Outbox dispatch schedule ("@every 1m"); empty disables
  ESCALATION_SECRET     Required X-Cron-Secret on the trigger endpoint
  RESEND_POLICY         always | interval (always)
  RESEND_INTERVAL       Minimum gap between repeated notices (24h)
  NOTIFY_WEBHOOK_URL    Gateway for outgoing messages; empty = log only
  SENDER_ID             Sender recorded in the audit trail (system)
  CORS_ORIGINS          Comma-separated allowed origins (*)
*/
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/practicas-engine/generic"
)

// Config is the complete server configuration.
type Config struct {
	Port   int
	DBPath string

	HolidayProviderURL string
	HolidayCacheTTL    time.Duration
	RedisURL           string

	GraceDays        int
	EscalationCron   string
	OutboxCron       string
	EscalationSecret string
	ResendPolicy     string
	ResendInterval   time.Duration

	NotifyWebhookURL string
	SenderID         string
	CORSOrigins      []string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:            8080,
		DBPath:          "practicas.db",
		HolidayCacheTTL: generic.DefaultHolidayTTL,
		GraceDays:       5,
		EscalationCron:  "0 8 * * 1-5",
		OutboxCron:      "@every 1m",
		ResendPolicy:    "always",
		ResendInterval:  24 * time.Hour,
		SenderID:        "system",
		CORSOrigins:     []string{"*"},
	}
}

// LoadEnv reads .env into the process environment when present.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Println("[Config] No .env file found, using process environment")
	} else {
		log.Println("[Config] Loaded .env")
	}
}

// FromEnv builds a Config from defaults overridden by environment values.
func FromEnv() (Config, error) {
	cfg := Default()
	var err error

	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return cfg, err
	}
	cfg.DBPath = GetEnv("DB_PATH", cfg.DBPath)
	cfg.HolidayProviderURL = GetEnv("HOLIDAY_PROVIDER_URL", cfg.HolidayProviderURL)
	if cfg.HolidayCacheTTL, err = envDuration("HOLIDAY_CACHE_TTL", cfg.HolidayCacheTTL); err != nil {
		return cfg, err
	}
	cfg.RedisURL = GetEnv("REDIS_URL", cfg.RedisURL)
	if cfg.GraceDays, err = envInt("GRACE_DAYS", cfg.GraceDays); err != nil {
		return cfg, err
	}
	cfg.EscalationCron = GetEnv("ESCALATION_CRON", cfg.EscalationCron)
	cfg.OutboxCron = GetEnv("OUTBOX_CRON", cfg.OutboxCron)
	cfg.EscalationSecret = GetEnv("ESCALATION_SECRET", cfg.EscalationSecret)
	cfg.ResendPolicy = GetEnv("RESEND_POLICY", cfg.ResendPolicy)
	if cfg.ResendInterval, err = envDuration("RESEND_INTERVAL", cfg.ResendInterval); err != nil {
		return cfg, err
	}
	cfg.NotifyWebhookURL = GetEnv("NOTIFY_WEBHOOK_URL", cfg.NotifyWebhookURL)
	cfg.SenderID = GetEnv("SENDER_ID", cfg.SenderID)
	if origins := GetEnv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	return cfg, cfg.Validate()
}

// Load reads .env and the environment, then applies command-line flags.
func Load(args []string) (Config, error) {
	LoadEnv()
	cfg, err := FromEnv()
	if err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.HolidayProviderURL, "holidays", cfg.HolidayProviderURL, "Holiday provider URL template ({year})")
	fs.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for the shared holiday cache")
	fs.IntVar(&cfg.GraceDays, "grace", cfg.GraceDays, "Overdue grace window in days")
	fs.StringVar(&cfg.ResendPolicy, "resend", cfg.ResendPolicy, "Escalation resend policy (always|interval)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", generic.ErrInvalidConfiguration, c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: DB_PATH is empty", generic.ErrInvalidConfiguration)
	}
	if c.GraceDays < 0 {
		return fmt.Errorf("%w: GRACE_DAYS must not be negative", generic.ErrInvalidConfiguration)
	}
	if c.HolidayCacheTTL <= 0 {
		return fmt.Errorf("%w: HOLIDAY_CACHE_TTL must be positive", generic.ErrInvalidConfiguration)
	}
	switch c.ResendPolicy {
	case "always", "interval":
	default:
		return fmt.Errorf("%w: RESEND_POLICY %q (want always or interval)", generic.ErrInvalidConfiguration, c.ResendPolicy)
	}
	if c.HolidayProviderURL != "" && !strings.Contains(c.HolidayProviderURL, "{year}") {
		return fmt.Errorf("%w: HOLIDAY_PROVIDER_URL must contain {year}", generic.ErrInvalidConfiguration)
	}
	return nil
}

// GetEnv returns the variable or the optional default.
func GetEnv(key string, defaultValue ...string) string {
	value, exists := os.LookupEnv(key)
	if !exists && len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return value
}

func envInt(key string, def int) (int, error) {
	raw := GetEnv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not an integer", generic.ErrInvalidConfiguration, key, raw)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := GetEnv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a duration", generic.ErrInvalidConfiguration, key, raw)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
