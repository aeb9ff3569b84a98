package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	WhatsApp  WhatsAppConfig
	Retry     RetryConfig
	Reminder  ReminderConfig
	Templates TemplateConfig
	Invites   InviteConfig
	Events    EventsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Driver string
	URL    string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type WhatsAppConfig struct {
	BaseURL            string
	APIVersion         string
	AccessToken        string
	PhoneNumberID      string
	VerifyToken        string
	Timeout            time.Duration
	DefaultCountryCode string
}

type RetryConfig struct {
	MaxRetries          int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RateLimitMultiplier float64
}

type ReminderConfig struct {
	Interval  time.Duration
	Window12h time.Duration
	Window3h  time.Duration
}

type TemplateConfig struct {
	Language            string
	Invitation          string
	Reminder12h         string
	Reminder3h          string
	BookingConfirmation string
}

type InviteConfig struct {
	Delay     time.Duration
	QueueSize int
}

type EventsConfig struct {
	Enabled  bool
	AMQPURL  string
	Exchange string
}

type LogConfig struct {
	Level slog.Level
}

// LoadAll reads the configuration from the environment. Every problem found
// is reported, not just the first.
func LoadAll() (*Config, error) {
	var errs []error

	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", "pgx"),
			URL:    str("DATABASE_URL"),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:            getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"),
			APIVersion:         getEnv("WHATSAPP_API_VERSION", "v21.0"),
			AccessToken:        str("WHATSAPP_ACCESS_TOKEN"),
			PhoneNumberID:      str("WHATSAPP_PHONE_NUMBER_ID"),
			VerifyToken:        str("WHATSAPP_VERIFY_TOKEN"),
			Timeout:            time.Duration(num("WHATSAPP_TIMEOUT_SECONDS", 30)) * time.Second,
			DefaultCountryCode: strings.TrimPrefix(getEnv("DEFAULT_COUNTRY_CODE", "91"), "+"),
		},
		Retry: RetryConfig{
			MaxRetries: num("RETRY_MAX_RETRIES", 3),
			BaseDelay:  time.Duration(num("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
			MaxDelay:   time.Duration(num("RETRY_MAX_DELAY_MS", 30000)) * time.Millisecond,
		},
		Reminder: ReminderConfig{
			Interval:  time.Duration(num("REMINDER_INTERVAL_SECONDS", 60)) * time.Second,
			Window12h: time.Duration(num("REMINDER_12H_WINDOW_MINUTES", 720)) * time.Minute,
			Window3h:  time.Duration(num("REMINDER_3H_WINDOW_MINUTES", 180)) * time.Minute,
		},
		Templates: TemplateConfig{
			Language:            getEnv("TEMPLATE_LANGUAGE", "en"),
			Invitation:          getEnv("TEMPLATE_INVITATION", "event_invitation"),
			Reminder12h:         getEnv("TEMPLATE_REMINDER_12H", "event_reminder_12h"),
			Reminder3h:          getEnv("TEMPLATE_REMINDER_3H", "event_reminder_3h"),
			BookingConfirmation: getEnv("TEMPLATE_BOOKING_CONFIRMATION", "booking_confirmation"),
		},
		Invites: InviteConfig{
			Delay:     time.Duration(num("INVITE_DELAY_MS", 1000)) * time.Millisecond,
			QueueSize: num("INVITE_QUEUE_SIZE", 100),
		},
	}

	mult, err := getEnvFloat("RETRY_RATE_LIMIT_MULTIPLIER", 2)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Retry.RateLimitMultiplier = mult

	level, err := getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Log.Level = level

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Redis = redisCfg

	cfg.Events = loadEventsConfig()

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errors.Join(dbErr, ttlErr)
}

func loadEventsConfig() EventsConfig {
	url := os.Getenv("AMQP_URL")
	return EventsConfig{
		Enabled:  url != "",
		AMQPURL:  url,
		Exchange: getEnv("AMQP_EXCHANGE", "event-messaging"),
	}
}

const maxRetries = 10

func validate(cfg *Config) []error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Database.Driver == "pgx" || cfg.Database.Driver == "sqlite3",
		"DATABASE_DRIVER must be pgx or sqlite3, got %q", cfg.Database.Driver)
	check(isCallingCode(cfg.WhatsApp.DefaultCountryCode),
		"DEFAULT_COUNTRY_CODE must be 1 to 3 digits, got %q", cfg.WhatsApp.DefaultCountryCode)
	check(cfg.WhatsApp.Timeout > 0, "WHATSAPP_TIMEOUT_SECONDS must be > 0")
	check(cfg.Retry.MaxRetries >= 0 && cfg.Retry.MaxRetries <= maxRetries,
		"RETRY_MAX_RETRIES must be between 0 and %d", maxRetries)
	check(cfg.Retry.BaseDelay > 0, "RETRY_BASE_DELAY_MS must be > 0")
	check(cfg.Retry.MaxDelay >= cfg.Retry.BaseDelay, "RETRY_MAX_DELAY_MS must be >= RETRY_BASE_DELAY_MS")
	check(cfg.Retry.RateLimitMultiplier >= 1, "RETRY_RATE_LIMIT_MULTIPLIER must be >= 1")
	check(cfg.Reminder.Interval > 0, "REMINDER_INTERVAL_SECONDS must be > 0")
	check(cfg.Reminder.Window12h > 0, "REMINDER_12H_WINDOW_MINUTES must be > 0")
	check(cfg.Reminder.Window3h > 0, "REMINDER_3H_WINDOW_MINUTES must be > 0")
	check(cfg.Invites.Delay >= 0, "INVITE_DELAY_MS must be >= 0")
	check(cfg.Invites.QueueSize > 0, "INVITE_QUEUE_SIZE must be > 0")
	return errs
}

func isCallingCode(s string) bool {
	if len(s) < 1 || len(s) > 3 {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 16)
	return err == nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid number for env %s: %q", key, v)
	}
	return f, nil
}

func getEnvLevel(key string, def slog.Level) (slog.Level, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return def, fmt.Errorf("invalid log level for env %s: %q", key, v)
	}
	return l, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
