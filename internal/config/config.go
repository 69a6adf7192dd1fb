package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Queue         QueueConfig         `yaml:"queue"`
	Printers      PrintersConfig      `yaml:"printers"`
	Payments      PaymentsConfig      `yaml:"payments"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Storage       StorageConfig       `yaml:"storage"`
	Notifications NotificationsConfig `yaml:"notifications"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" envconfig:"PRINTQ_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"PRINTQ_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"PRINTQ_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"PRINTQ_DB_PATH"`
}

type QueueConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"PRINTQ_POLL_INTERVAL"`
	PrintTimeout    time.Duration `yaml:"print_timeout" envconfig:"PRINTQ_PRINT_TIMEOUT"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" envconfig:"PRINTQ_CLEANUP_INTERVAL"`
	RecoverOnStart  bool          `yaml:"recover_on_start" envconfig:"PRINTQ_RECOVER_ON_START"`
	MaxList         int           `yaml:"max_list" envconfig:"PRINTQ_QUEUE_MAX_LIST"`
}

type PrinterDevice struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type PrintersConfig struct {
	Devices             []PrinterDevice `yaml:"devices" ignored:"true"`
	Default             string          `yaml:"default" envconfig:"PRINTQ_DEFAULT_PRINTER"`
	ConnectionTimeout   time.Duration   `yaml:"connection_timeout" envconfig:"PRINTQ_PRINTER_CONNECT_TIMEOUT"`
	HealthCheckInterval time.Duration   `yaml:"health_check_interval" envconfig:"PRINTQ_PRINTER_HEALTH_INTERVAL"`
}

type PaymentsConfig struct {
	GatewayURL     string        `yaml:"gateway_url" envconfig:"PRINTQ_GATEWAY_URL"`
	APIKey         string        `yaml:"api_key" envconfig:"PRINTQ_GATEWAY_API_KEY"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"PRINTQ_GATEWAY_TIMEOUT"`
	GatewayMethods []string      `yaml:"gateway_methods" envconfig:"PRINTQ_GATEWAY_METHODS"`
	LocalMethods   []string      `yaml:"local_methods" envconfig:"PRINTQ_LOCAL_PAYMENT_METHODS"`
}

type PricingConfig struct {
	BWPerPageCents        int64 `yaml:"bw_per_page_cents" envconfig:"PRINTQ_PRICE_BW"`
	ColorPerPageCents     int64 `yaml:"color_per_page_cents" envconfig:"PRINTQ_PRICE_COLOR"`
	DuplexDiscountPercent int   `yaml:"duplex_discount_percent" envconfig:"PRINTQ_DUPLEX_DISCOUNT"`
}

type StorageConfig struct {
	Driver     string `yaml:"driver" envconfig:"PRINTQ_STORAGE_DRIVER"`
	BasePath   string `yaml:"base_path" envconfig:"PRINTQ_STORAGE_PATH"`
	S3Bucket   string `yaml:"s3_bucket" envconfig:"PRINTQ_S3_BUCKET"`
	S3Region   string `yaml:"s3_region" envconfig:"PRINTQ_S3_REGION"`
	S3Endpoint string `yaml:"s3_endpoint" envconfig:"PRINTQ_S3_ENDPOINT"`
}

type WebhookEndpoint struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type NotificationsConfig struct {
	Endpoints     []WebhookEndpoint `yaml:"endpoints" ignored:"true"`
	RetryCount    int               `yaml:"retry_count" envconfig:"PRINTQ_WEBHOOK_RETRIES"`
	RetryDelay    time.Duration     `yaml:"retry_delay" envconfig:"PRINTQ_WEBHOOK_RETRY_DELAY"`
	Timeout       time.Duration     `yaml:"timeout" envconfig:"PRINTQ_WEBHOOK_TIMEOUT"`
	RelayInterval time.Duration     `yaml:"relay_interval" envconfig:"PRINTQ_NOTIFY_RELAY_INTERVAL"`
}

type RateLimitConfig struct {
	RedisAddr     string  `yaml:"redis_addr" envconfig:"PRINTQ_REDIS_ADDR"`
	RedisPassword string  `yaml:"redis_password" envconfig:"PRINTQ_REDIS_PASSWORD"`
	RedisDB       int     `yaml:"redis_db" envconfig:"PRINTQ_REDIS_DB"`
	Capacity      int     `yaml:"capacity" envconfig:"PRINTQ_RATE_LIMIT_CAPACITY"`
	RefillPerSec  float64 `yaml:"refill_per_sec" envconfig:"PRINTQ_RATE_LIMIT_REFILL"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"PRINTQ_JWT_SECRET"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"PRINTQ_LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"PRINTQ_LOG_FORMAT"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/printq.db",
		},
		Queue: QueueConfig{
			PollInterval:    5 * time.Second,
			PrintTimeout:    2 * time.Minute,
			CleanupInterval: 10 * time.Minute,
			RecoverOnStart:  true,
			MaxList:         100,
		},
		Printers: PrintersConfig{
			ConnectionTimeout:   10 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		},
		Payments: PaymentsConfig{
			Timeout:        30 * time.Second,
			GatewayMethods: []string{"card", "upi", "netbanking"},
			LocalMethods:   []string{"cash", "credit", "manual"},
		},
		Pricing: PricingConfig{
			BWPerPageCents:        10,
			ColorPerPageCents:     50,
			DuplexDiscountPercent: 10,
		},
		Storage: StorageConfig{
			Driver:   "local",
			BasePath: "./data/uploads",
		},
		Notifications: NotificationsConfig{
			RetryCount:    3,
			RetryDelay:    5 * time.Second,
			Timeout:       10 * time.Second,
			RelayInterval: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Capacity:     20,
			RefillPerSec: 0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the yaml file at configPath over the defaults and then applies
// PRINTQ_* environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("printq", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll interval must be positive")
	}

	if c.Queue.PrintTimeout <= 0 {
		return fmt.Errorf("queue print timeout must be positive")
	}

	if c.Queue.CleanupInterval < 0 {
		return fmt.Errorf("queue cleanup interval must be non-negative")
	}

	if c.Queue.MaxList < 1 {
		return fmt.Errorf("queue max list must be at least 1")
	}

	for i, d := range c.Printers.Devices {
		if d.Name == "" || d.Address == "" {
			return fmt.Errorf("printer device %d requires name and address", i)
		}
		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("printer device %s has invalid port %d", d.Name, d.Port)
		}
	}

	if c.Printers.ConnectionTimeout < 0 || c.Printers.HealthCheckInterval < 0 {
		return fmt.Errorf("printer timeouts must be non-negative")
	}

	if c.Payments.Timeout < 0 {
		return fmt.Errorf("payment gateway timeout must be non-negative")
	}

	local := make(map[string]bool, len(c.Payments.LocalMethods))
	for _, m := range c.Payments.LocalMethods {
		local[m] = true
	}
	for _, m := range c.Payments.GatewayMethods {
		if local[m] {
			return fmt.Errorf("payment method %q cannot be both gateway and local", m)
		}
	}

	if c.Pricing.BWPerPageCents < 0 || c.Pricing.ColorPerPageCents < 0 {
		return fmt.Errorf("page prices must be non-negative")
	}

	if c.Pricing.DuplexDiscountPercent < 0 || c.Pricing.DuplexDiscountPercent > 100 {
		return fmt.Errorf("duplex discount must be between 0 and 100")
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.BasePath == "" {
			return fmt.Errorf("storage base path is required for the local driver")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage s3 bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (valid: local, s3)", c.Storage.Driver)
	}

	for i, e := range c.Notifications.Endpoints {
		if e.URL == "" {
			return fmt.Errorf("notification endpoint %d requires a url", i)
		}
	}

	if c.RateLimit.RedisAddr != "" && (c.RateLimit.Capacity < 1 || c.RateLimit.RefillPerSec <= 0) {
		return fmt.Errorf("rate limit capacity and refill must be positive when redis is configured")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// Address returns the listen address for the HTTP server.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}
