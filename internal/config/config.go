package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"invoiceshelf/backend/internal/logger"
)

type Config struct {
	Port                    string `mapstructure:"PORT"`
	AllowedOrigin           string `mapstructure:"ALLOWED_ORIGIN"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisAddr               string `mapstructure:"REDIS_ADDR"`
	RedisPassword           string `mapstructure:"REDIS_PASSWORD"`
	RedisDB                 int    `mapstructure:"REDIS_DB"`
	AuthSecret              string `mapstructure:"AUTH_SECRET"`
	AccessTokenTTLMinutes   int    `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	SchedulerEnabled        bool   `mapstructure:"SCHEDULER_ENABLED"`
	RecurringSchedule       string `mapstructure:"RECURRING_SCHEDULE"`
	RecurringConcurrency    int    `mapstructure:"RECURRING_CONCURRENCY"`
	RecurringLockTTLSeconds int    `mapstructure:"RECURRING_LOCK_TTL_SECONDS"`
	Timezone                string `mapstructure:"TIMEZONE"`
	LogLevel                string `mapstructure:"LOG_LEVEL"`
	LogFormat               string `mapstructure:"LOG_FORMAT"`
	LogOutput               string `mapstructure:"LOG_OUTPUT"`
}

var keys = []string{
	"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES", "SCHEDULER_ENABLED", "RECURRING_SCHEDULE",
	"RECURRING_CONCURRENCY", "RECURRING_LOCK_TTL_SECONDS", "TIMEZONE",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT",
}

// LoadDotEnv reads .env files into the process environment if present.
// Variables already set in the environment win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	_ = godotenv.Load(files...)
}

func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("RECURRING_SCHEDULE", "0 * * * *") // hourly
	v.SetDefault("RECURRING_CONCURRENCY", 4)
	v.SetDefault("RECURRING_LOCK_TTL_SECONDS", 60)
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT", "stdout")
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.RecurringConcurrency < 1 {
		cfg.RecurringConcurrency = 1
	}
	if cfg.RecurringLockTTLSeconds < 1 {
		cfg.RecurringLockTTLSeconds = 60
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location is the calendar used to decide which day "now" falls on.
func (c Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) RecurringLockTTL() time.Duration {
	return time.Duration(c.RecurringLockTTLSeconds) * time.Second
}

func (c Config) LoggerConfig() logger.LogConfig {
	cfg := logger.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Format = c.LogFormat
	cfg.Output = c.LogOutput
	return cfg
}
