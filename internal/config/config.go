// Package config loads and validates collector configuration via Viper.
// All options come from the environment (optionally seeded from a .env file
// by the entry point), matching the original deployment's variable names.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs.
type Config struct {
	Telegram  TelegramConfig
	DB        DBConfig
	Collector CollectorConfig
	Flood     FloodConfig
	HTTPAddr  string
	LogLevel  string
}

// TelegramConfig holds the API credentials and session handle. The session
// itself is produced by the separate bootstrap binary.
type TelegramConfig struct {
	APIID       int
	APIHash     string
	SessionName string
}

// DBConfig controls access to Postgres and the connection pool bounds.
type DBConfig struct {
	Host           string
	Port           int
	Name           string
	User           string
	Password       string
	URL            string // optional, overrides the individual fields
	PoolMin        int32
	PoolMax        int32
	AcquireTimeout time.Duration
}

// CollectorConfig governs the collection cycle.
type CollectorConfig struct {
	Channels      []string
	MessagesLimit int
	Interval      time.Duration
	Concurrency   int
}

// FloodConfig bounds the account-wide rate limit policy.
type FloodConfig struct {
	RatePerSecond float64
	Ceiling       time.Duration
}

// Load builds a Config from the environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Telegram: TelegramConfig{
			APIID:       v.GetInt("API_ID"),
			APIHash:     v.GetString("API_HASH"),
			SessionName: v.GetString("SESSION_NAME"),
		},
		DB: DBConfig{
			Host:           v.GetString("DB_HOST"),
			Port:           v.GetInt("DB_PORT"),
			Name:           v.GetString("DB_NAME"),
			User:           v.GetString("DB_USER"),
			Password:       v.GetString("DB_PASSWORD"),
			URL:            v.GetString("DATABASE_URL"),
			PoolMin:        v.GetInt32("DB_POOL_MIN"),
			PoolMax:        v.GetInt32("DB_POOL_MAX"),
			AcquireTimeout: time.Duration(v.GetInt("DB_ACQUIRE_TIMEOUT_SECONDS")) * time.Second,
		},
		Collector: CollectorConfig{
			Channels:      splitChannels(v.GetString("TELEGRAM_CHANNELS")),
			MessagesLimit: v.GetInt("MESSAGES_LIMIT"),
			Interval:      time.Duration(v.GetInt("COLLECTION_INTERVAL")) * time.Minute,
			Concurrency:   v.GetInt("COLLECTOR_CONCURRENCY"),
		},
		Flood: FloodConfig{
			RatePerSecond: v.GetFloat64("API_RATE_PER_SECOND"),
			Ceiling:       time.Duration(v.GetInt("FLOOD_CEILING_SECONDS")) * time.Second,
		},
		HTTPAddr: v.GetString("HTTP_ADDR"),
		LogLevel: normalizeLevel(v.GetString("LOG_LEVEL")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SESSION_NAME", "collector")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "telegram_collector")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_POOL_MIN", 5)
	v.SetDefault("DB_POOL_MAX", 20)
	v.SetDefault("DB_ACQUIRE_TIMEOUT_SECONDS", 5)
	v.SetDefault("MESSAGES_LIMIT", 50)
	v.SetDefault("COLLECTION_INTERVAL", 60)
	v.SetDefault("COLLECTOR_CONCURRENCY", 4)
	v.SetDefault("API_RATE_PER_SECOND", 1.0)
	v.SetDefault("FLOOD_CEILING_SECONDS", 300)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Telegram.APIID <= 0 {
		return fmt.Errorf("API_ID must be a positive integer")
	}
	if c.Telegram.APIHash == "" {
		return fmt.Errorf("API_HASH is required")
	}
	if len(c.Collector.Channels) == 0 {
		return fmt.Errorf("TELEGRAM_CHANNELS must list at least one channel")
	}
	if c.Collector.MessagesLimit < 1 || c.Collector.MessagesLimit > 100 {
		return fmt.Errorf("MESSAGES_LIMIT must be between 1 and 100")
	}
	if c.Collector.Interval < time.Minute {
		return fmt.Errorf("COLLECTION_INTERVAL must be at least 1 minute")
	}
	if c.Collector.Concurrency <= 0 {
		return fmt.Errorf("COLLECTOR_CONCURRENCY must be > 0")
	}
	if c.DB.PoolMin <= 0 || c.DB.PoolMax < c.DB.PoolMin {
		return fmt.Errorf("DB_POOL_MIN/DB_POOL_MAX must satisfy 0 < min <= max")
	}
	return nil
}

// DatabaseDSN returns the connection string: DATABASE_URL verbatim when
// set, otherwise assembled from the individual DB_* fields.
func (c Config) DatabaseDSN() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DB.User, c.DB.Password),
		Host:   fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:   c.DB.Name,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// SessionPath is the file the Telegram session is persisted in.
func (c Config) SessionPath() string {
	return c.Telegram.SessionName + ".session"
}

func splitChannels(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// normalizeLevel maps the original deployment's Python-style level names
// onto zap's.
func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "warning":
		return "warn"
	case "critical":
		return "fatal"
	case "":
		return "info"
	default:
		return strings.ToLower(level)
	}
}
