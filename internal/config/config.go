// Package config loads process configuration from .env, an optional YAML file
// and OUTREACH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/unclebandit/outreach-engine/internal/ratelimit"
)

// Config ...
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	AMQP       AMQPConfig       `mapstructure:"amqp"`
	Unipile    UnipileConfig    `mapstructure:"unipile"`
	Limits     ratelimit.Limits `mapstructure:"limits"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Job        JobConfig        `mapstructure:"job"`
	Log        LogConfig        `mapstructure:"log"`
	CronSecret string           `mapstructure:"cron_secret"`
}

// ServerConfig for the HTTP listener
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr ...
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PostgresConfig for configuring Postgres
type PostgresConfig struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         uint16 `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN returns data source name. An explicit URL wins over the discrete fields.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// RedisConfig for the provider id cache. An empty Addr disables the cache.
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	ResolveTTL time.Duration `mapstructure:"resolve_ttl"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AMQPConfig for operator alerts and reply events. An empty URL falls back to
// the in-process queue.
type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	MaxRetries int    `mapstructure:"max_retries"`
}

func (c AMQPConfig) Enabled() bool { return c.URL != "" }

// UnipileConfig for the LinkedIn automation provider
type UnipileConfig struct {
	DSN               string        `mapstructure:"dsn"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// BaseURL turns the provider DSN ("api1.unipile.com:13111") into a URL.
func (c UnipileConfig) BaseURL() string {
	dsn := strings.TrimRight(c.DSN, "/")
	if strings.HasPrefix(dsn, "http://") || strings.HasPrefix(dsn, "https://") {
		return dsn
	}
	return "https://" + dsn
}

// ScheduleConfig holds the fallback sending window for campaigns that leave
// theirs unset, and an optional calendar file replacing the embedded one.
type ScheduleConfig struct {
	WorkingHoursStart int    `mapstructure:"working_hours_start"`
	WorkingHoursEnd   int    `mapstructure:"working_hours_end"`
	CalendarFile      string `mapstructure:"calendar_file"`
}

// JobConfig for the send-queue job and the two pollers
type JobConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	Timeout            time.Duration `mapstructure:"timeout"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	SendInterval       time.Duration `mapstructure:"send_interval"`
	ReplyInterval      time.Duration `mapstructure:"reply_interval"`
	ConnectionInterval time.Duration `mapstructure:"connection_interval"`
	ConnectionBatch    int           `mapstructure:"connection_batch"`
	DeclineAfter       time.Duration `mapstructure:"decline_after"`
	ChatsLimit         int           `mapstructure:"chats_limit"`
	MessagesLimit      int           `mapstructure:"messages_limit"`
	RepliedWindow      time.Duration `mapstructure:"replied_window"`
	DraftTTL           time.Duration `mapstructure:"draft_ttl"`
}

// LogConfig ...
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "outreach")
	v.SetDefault("postgres.username", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.resolve_ttl", 30*24*time.Hour)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.max_retries", 3)

	v.SetDefault("unipile.dsn", "")
	v.SetDefault("unipile.api_key", "")
	v.SetDefault("unipile.timeout", 20*time.Second)
	v.SetDefault("unipile.requests_per_second", 2.0)
	v.SetDefault("unipile.burst", 4)
	v.SetDefault("unipile.breaker_failures", 5)
	v.SetDefault("unipile.breaker_cooldown", time.Minute)

	limits := ratelimit.DefaultLimits()
	v.SetDefault("limits.connection_requests_per_hour", limits.ConnectionRequestsPerHour)
	v.SetDefault("limits.connection_requests_per_day", limits.ConnectionRequestsPerDay)
	v.SetDefault("limits.connection_requests_per_week", limits.ConnectionRequestsPerWeek)
	v.SetDefault("limits.messages_per_hour", limits.MessagesPerHour)
	v.SetDefault("limits.messages_per_day", limits.MessagesPerDay)
	v.SetDefault("limits.min_spacing", limits.MinSpacing)

	v.SetDefault("schedule.working_hours_start", 9)
	v.SetDefault("schedule.working_hours_end", 17)
	v.SetDefault("schedule.calendar_file", "")

	v.SetDefault("job.batch_size", 50)
	v.SetDefault("job.timeout", 45*time.Second)
	v.SetDefault("job.stale_after", 15*time.Minute)
	v.SetDefault("job.send_interval", time.Minute)
	v.SetDefault("job.reply_interval", 15*time.Minute)
	v.SetDefault("job.connection_interval", 2*time.Hour)
	v.SetDefault("job.connection_batch", 50)
	v.SetDefault("job.decline_after", 24*time.Hour)
	v.SetDefault("job.chats_limit", 30)
	v.SetDefault("job.messages_limit", 20)
	v.SetDefault("job.replied_window", 7*24*time.Hour)
	v.SetDefault("job.draft_ttl", 48*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("cron_secret", "")
}

// legacyEnv keeps the plain variable names the deployment already sets.
var legacyEnv = map[string]string{
	"postgres.url":      "DATABASE_URL",
	"postgres.username": "DB_USER",
	"postgres.password": "DB_PASSWORD",
	"postgres.host":     "DB_HOST",
	"postgres.port":     "DB_PORT",
	"postgres.database": "DB_NAME",
	"unipile.dsn":       "UNIPILE_DSN",
	"unipile.api_key":   "UNIPILE_API_KEY",
	"redis.addr":        "REDIS_ADDR",
	"amqp.url":          "AMQP_URL",
	"cron_secret":       "CRON_SECRET",
}

// Load reads configuration. path may be empty, in which case ./config.yaml is
// used when present.
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "OUTREACH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the jobs cannot run with.
func (c Config) Validate() error {
	if c.Job.BatchSize <= 0 {
		return fmt.Errorf("job.batch_size must be positive, got %d", c.Job.BatchSize)
	}
	if c.Job.Timeout <= 0 {
		return fmt.Errorf("job.timeout must be positive, got %s", c.Job.Timeout)
	}
	l := c.Limits
	for name, n := range map[string]int{
		"connection_requests_per_hour": l.ConnectionRequestsPerHour,
		"connection_requests_per_day":  l.ConnectionRequestsPerDay,
		"connection_requests_per_week": l.ConnectionRequestsPerWeek,
		"messages_per_hour":            l.MessagesPerHour,
		"messages_per_day":             l.MessagesPerDay,
	} {
		if n < 0 {
			return fmt.Errorf("limits.%s must not be negative, got %d", name, n)
		}
	}
	if l.MinSpacing < 0 {
		return fmt.Errorf("limits.min_spacing must not be negative, got %s", l.MinSpacing)
	}
	return nil
}
