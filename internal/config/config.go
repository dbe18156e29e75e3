// Package config loads the escrowd process configuration: a YAML file,
// then a .env file, then ESCROW_* environment variables, each layer
// overriding the one before.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone names without system zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Meter  MeterConfig  `yaml:"meter"`
	Escrow EscrowConfig `yaml:"escrow"`
	JWT    JWTConfig    `yaml:"jwt"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsPath     string        `yaml:"metrics_path"` // empty disables /metrics
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`   // memory, postgres, sqlite, mongo
	DSN      string `yaml:"dsn"`      // connection string, file path for sqlite
	Database string `yaml:"database"` // mongo only
	Migrate  bool   `yaml:"migrate"`
}

type MeterConfig struct {
	Driver        string   `yaml:"driver"` // memory, redis
	RedisAddrs    []string `yaml:"redis_addrs"`
	RedisPassword string   `yaml:"redis_password"`
	DailyLimit    int64    `yaml:"daily_limit"`
}

type EscrowConfig struct {
	PlatformFeePercent int64         `yaml:"platform_fee_percent"`
	ProDurationDays    int           `yaml:"pro_duration_days"`
	ExpiryInterval     time.Duration `yaml:"expiry_interval"`
	Timezone           string        `yaml:"timezone"`
	TemplatesFile      string        `yaml:"templates_file"`
	Audit              bool          `yaml:"audit"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for anything the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MetricsPath:     "/metrics",
		},
		Store: StoreConfig{Driver: "memory", Database: "escrow", Migrate: true},
		Meter: MeterConfig{Driver: "memory", DailyLimit: 3},
		Escrow: EscrowConfig{
			PlatformFeePercent: 10,
			ProDurationDays:    30,
			ExpiryInterval:     time.Hour,
			Timezone:           "Asia/Jakarta",
			Audit:              true,
		},
		JWT: JWTConfig{Issuer: "escrowd"},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (skipped when empty), then .env, then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"ESCROW_ADDR":           &c.Server.Addr,
		"ESCROW_METRICS_PATH":   &c.Server.MetricsPath,
		"ESCROW_STORE_DRIVER":   &c.Store.Driver,
		"ESCROW_STORE_DSN":      &c.Store.DSN,
		"ESCROW_STORE_DATABASE": &c.Store.Database,
		"ESCROW_METER_DRIVER":   &c.Meter.Driver,
		"ESCROW_REDIS_PASSWORD": &c.Meter.RedisPassword,
		"ESCROW_TIMEZONE":       &c.Escrow.Timezone,
		"ESCROW_TEMPLATES_FILE": &c.Escrow.TemplatesFile,
		"ESCROW_JWT_SECRET":     &c.JWT.Secret,
		"ESCROW_JWT_ISSUER":     &c.JWT.Issuer,
		"ESCROW_LOG_LEVEL":      &c.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("ESCROW_REDIS_ADDRS"); ok {
		c.Meter.RedisAddrs = splitList(v)
	}

	ints := map[string]*int64{
		"ESCROW_FREE_DAILY_LIMIT":     &c.Meter.DailyLimit,
		"ESCROW_PLATFORM_FEE_PERCENT": &c.Escrow.PlatformFeePercent,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("ESCROW_PRO_DURATION_DAYS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: ESCROW_PRO_DURATION_DAYS: %w", err)
		}
		c.Escrow.ProDurationDays = n
	}
	if v, ok := os.LookupEnv("ESCROW_STORE_MIGRATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: ESCROW_STORE_MIGRATE: %w", err)
		}
		c.Store.Migrate = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("config: store.dsn is required for %s", c.Store.Driver))
		}
	case "mongo":
		if c.Store.DSN == "" || c.Store.Database == "" {
			errs = append(errs, errors.New("config: store.dsn and store.database are required for mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown store driver %q", c.Store.Driver))
	}

	switch c.Meter.Driver {
	case "memory":
	case "redis":
		if len(c.Meter.RedisAddrs) == 0 {
			errs = append(errs, errors.New("config: meter.redis_addrs is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown meter driver %q", c.Meter.Driver))
	}
	if c.Meter.DailyLimit <= 0 {
		errs = append(errs, errors.New("config: meter.daily_limit must be positive"))
	}

	if c.Escrow.PlatformFeePercent < 0 || c.Escrow.PlatformFeePercent > 100 {
		errs = append(errs, fmt.Errorf("config: platform_fee_percent %d outside 0..100", c.Escrow.PlatformFeePercent))
	}
	if c.Escrow.ProDurationDays <= 0 {
		errs = append(errs, errors.New("config: pro_duration_days must be positive"))
	}
	if _, err := time.LoadLocation(c.Escrow.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("config: timezone: %w", err))
	}

	if len(c.JWT.Secret) < 16 {
		errs = append(errs, errors.New("config: jwt.secret must be at least 16 bytes"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Escrow.Timezone)
}

// LogLevel parses the log level name.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}
