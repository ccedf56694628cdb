package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	API       APIConfig       `yaml:"api"`
	Sync      SyncConfig      `yaml:"sync"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Storage   StorageConfig   `yaml:"storage"`
	LogLevel  string          `yaml:"log_level"`
}

// RabbitMQConfig is optional: publishing is off while URL is empty.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

func (r RabbitMQConfig) Enabled() bool {
	return r.URL != ""
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	CookiesFile       string        `yaml:"cookies_file"`
	UserAgent         string        `yaml:"user_agent"`
	PageSize          int           `yaml:"page_size"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type SyncConfig struct {
	Sources      []string      `yaml:"sources"`
	CacheDir     string        `yaml:"cache_dir"`
	MaxItems     int           `yaml:"max_items"`
	Begin        string        `yaml:"begin"`
	End          string        `yaml:"end"`
	LookbackDays int           `yaml:"lookback_days"`
	Interval     time.Duration `yaml:"interval"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
	Timezone     string        `yaml:"timezone"`
}

type RetrievalConfig struct {
	OutputDir    string        `yaml:"output_dir"`
	Concurrency  int           `yaml:"concurrency"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	Timeout      time.Duration `yaml:"timeout"`
	MinSizeBytes int64         `yaml:"min_size_bytes"`
	Format       string        `yaml:"format"`
	SanitizeHTML bool          `yaml:"sanitize_html"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references, decodes data and fills in defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "mp_harvester"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "items"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "materialized_items"
	}
	if c.API.CookiesFile == "" {
		c.API.CookiesFile = "cookies.json"
	}
	if c.API.PageSize == 0 {
		c.API.PageSize = 5
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.API.RequestsPerSecond == 0 {
		c.API.RequestsPerSecond = 1
	}
	if c.Sync.CacheDir == "" {
		c.Sync.CacheDir = "data/cache"
	}
	if c.Sync.LookbackDays == 0 {
		c.Sync.LookbackDays = 7
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 6 * time.Hour
	}
	if c.Sync.RunTimeout == 0 {
		c.Sync.RunTimeout = 30 * time.Minute
	}
	if c.Retrieval.OutputDir == "" {
		c.Retrieval.OutputDir = "data/articles"
	}
	if c.Retrieval.Concurrency == 0 {
		c.Retrieval.Concurrency = 5
	}
	if c.Retrieval.MaxRetries == 0 {
		c.Retrieval.MaxRetries = 3
	}
	if c.Retrieval.RetryDelay == 0 {
		c.Retrieval.RetryDelay = time.Second
	}
	if c.Retrieval.Timeout == 0 {
		c.Retrieval.Timeout = 30 * time.Second
	}
	if c.Retrieval.MinSizeBytes == 0 {
		c.Retrieval.MinSizeBytes = 3 * 1024
	}
	if c.Retrieval.Format == "" {
		c.Retrieval.Format = "md"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageFile
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.API.PageSize < 0 {
		errs = append(errs, fmt.Errorf("api.page_size must be positive, got %d", c.API.PageSize))
	}
	if c.API.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("api.requests_per_second must not be negative"))
	}
	if c.Sync.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("sync.max_items must not be negative"))
	}
	if c.Sync.LookbackDays < 0 {
		errs = append(errs, fmt.Errorf("sync.lookback_days must not be negative"))
	}
	if c.Retrieval.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("retrieval.concurrency must be positive, got %d", c.Retrieval.Concurrency))
	}
	if f := strings.ToLower(strings.TrimSpace(c.Retrieval.Format)); f != "md" && f != "html" {
		errs = append(errs, fmt.Errorf("retrieval.format must be md or html, got %q", c.Retrieval.Format))
	}
	if c.Storage.Driver != StorageFile && c.Storage.Driver != StoragePostgres {
		errs = append(errs, fmt.Errorf("storage.driver must be %s or %s, got %q", StorageFile, StoragePostgres, c.Storage.Driver))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves sync.timezone; empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Sync.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sync.timezone: %w", err)
	}
	return loc, nil
}
