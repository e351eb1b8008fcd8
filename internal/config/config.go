package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"petboarding/internal/models"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app" toml:"app"`
	Database      DatabaseConfig     `yaml:"database" toml:"database"`
	Redis         RedisConfig        `yaml:"redis" toml:"redis"`
	API           APIConfig          `yaml:"api" toml:"api"`
	Booking       BookingConfig      `yaml:"booking" toml:"booking"`
	Notifications NotificationConfig `yaml:"notifications" toml:"notifications"`
	Exports       ExportConfig       `yaml:"exports" toml:"exports"`
	Backup        BackupConfig       `yaml:"backup" toml:"backup"`
	Monitoring    MonitoringConfig   `yaml:"monitoring" toml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging" toml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Environment string `yaml:"environment" toml:"environment"`
	Version     string `yaml:"version" toml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address" toml:"address"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	PoolSize int    `yaml:"pool_size" toml:"pool_size"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled" toml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http" toml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc" toml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled" toml:"enabled"`
	Port       int  `yaml:"port" toml:"port"`
	Reflection bool `yaml:"reflection" toml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled" toml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key" toml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys" toml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key" toml:"key"`
	Name        string   `yaml:"name" toml:"name"`
	Permissions []string `yaml:"permissions" toml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps" toml:"rps"`
	Burst int     `yaml:"burst" toml:"burst"`
	// per user booking requests, enforced through redis
	UserRequests int           `yaml:"user_requests" toml:"user_requests"`
	UserWindow   time.Duration `yaml:"user_window" toml:"user_window"`
}

// BookingConfig holds the hold window and payment rules of the engine.
type BookingConfig struct {
	HoldWindowMinutes  int           `yaml:"hold_window_minutes" toml:"hold_window_minutes"`
	MaxPaymentFailures int           `yaml:"max_payment_failures" toml:"max_payment_failures"`
	MaxBookingDays     int           `yaml:"max_booking_days" toml:"max_booking_days"`
	SweepInterval      time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	SweepBatchSize     int           `yaml:"sweep_batch_size" toml:"sweep_batch_size"`
	SweepLockTTL       time.Duration `yaml:"sweep_lock_ttl" toml:"sweep_lock_ttl"`
}

// HoldWindow is the authoritative expiration window used by both sweeps.
func (c BookingConfig) HoldWindow() time.Duration {
	return time.Duration(c.HoldWindowMinutes) * time.Minute
}

type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Google   GoogleConfig   `yaml:"google" toml:"google"`
	Queue    QueueConfig    `yaml:"queue" toml:"queue"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	BotToken string `yaml:"bot_token" toml:"bot_token"`
	ChatID   int64  `yaml:"chat_id" toml:"chat_id"`
	Debug    bool   `yaml:"debug" toml:"debug"`
}

type GoogleConfig struct {
	Enabled         bool   `yaml:"enabled" toml:"enabled"`
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id" toml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name" toml:"sheet_name"`
}

type QueueConfig struct {
	MaxRetries    int           `yaml:"max_retries" toml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" toml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" toml:"backoff_factor"`
	PollInterval  time.Duration `yaml:"poll_interval" toml:"poll_interval"`
}

type ExportConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	Interval      time.Duration `yaml:"interval" toml:"interval"`
	RetentionDays int           `yaml:"retention_days" toml:"retention_days"`
	StoragePath   string        `yaml:"storage_path" toml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled" toml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port" toml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" toml:"level"`
	Format   string `yaml:"format" toml:"format"`
	Output   string `yaml:"output" toml:"output"`
	FilePath string `yaml:"file_path" toml:"file_path"`
}

// Load reads .env (if present), expands ${VAR} references and decodes the file.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		if _, err := toml.Decode(expanded, &config); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Booking.HoldWindowMinutes <= 0 {
		return errors.New("booking.hold_window_minutes must be positive")
	}
	if c.Booking.MaxPaymentFailures <= 0 {
		return errors.New("booking.max_payment_failures must be positive")
	}

	tg := c.Notifications.Telegram
	if tg.Enabled && (tg.BotToken == "" || tg.ChatID == 0) {
		return errors.New("telegram notifications require bot_token and chat_id")
	}
	g := c.Notifications.Google
	if g.Enabled && (g.CredentialsFile == "" || g.SpreadsheetID == "") {
		return errors.New("google notifications require credentials_file and spreadsheet_id")
	}

	if c.API.Auth.Enabled {
		seen := make(map[string]bool)
		for _, k := range c.API.Auth.APIKeys {
			if k.Key == "" {
				return fmt.Errorf("api key %q is empty", k.Name)
			}
			if seen[k.Key] {
				return fmt.Errorf("duplicate api key for client %q", k.Name)
			}
			seen[k.Key] = true
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "petboarding"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.UserRequests == 0 {
		c.API.RateLimit.UserRequests = models.DefaultRateLimitRequests
	}
	if c.API.RateLimit.UserWindow == 0 {
		c.API.RateLimit.UserWindow = models.DefaultRateLimitWindow
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	// Booking defaults
	if c.Booking.HoldWindowMinutes == 0 {
		c.Booking.HoldWindowMinutes = int(models.DefaultHoldWindow / time.Minute)
	}
	if c.Booking.MaxPaymentFailures == 0 {
		c.Booking.MaxPaymentFailures = models.DefaultMaxPaymentFailures
	}
	if c.Booking.MaxBookingDays == 0 {
		c.Booking.MaxBookingDays = models.MaxBookingDays
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = models.DefaultSweepInterval
	}
	if c.Booking.SweepBatchSize == 0 {
		c.Booking.SweepBatchSize = models.DefaultSweepBatchSize
	}
	if c.Booking.SweepLockTTL == 0 {
		c.Booking.SweepLockTTL = 2 * c.Booking.SweepInterval
	}

	q := &c.Notifications.Queue
	if q.MaxRetries == 0 {
		q.MaxRetries = 5
	}
	if q.InitialDelay == 0 {
		q.InitialDelay = 2 * time.Second
	}
	if q.MaxDelay == 0 {
		q.MaxDelay = time.Minute
	}
	if q.BackoffFactor == 0 {
		q.BackoffFactor = 2
	}
	if q.PollInterval == 0 {
		q.PollInterval = 2 * time.Second
	}
	if c.Notifications.Google.SheetName == "" {
		c.Notifications.Google.SheetName = "Reservations"
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "./backups"
	}
}
