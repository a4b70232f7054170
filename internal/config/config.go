package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Worker retry policy defaults
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 60 * time.Second
	DefaultJobTimeout     = time.Hour
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Platforms PlatformsConfig `yaml:"platforms"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// RunMigrations applies the embedded schema at API startup
	RunMigrations bool `yaml:"run_migrations"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// StorageConfig holds the object store that keeps uploaded source videos
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// AuthConfig holds the shared secret callers send in X-Service-Token
type AuthConfig struct {
	ServiceToken string `yaml:"service_token"`
}

// PlatformsConfig holds per-platform credentials and publish defaults
type PlatformsConfig struct {
	YouTube YouTubeConfig `yaml:"youtube"`
	VK      VKConfig      `yaml:"vk"`
	TikTok  TikTokConfig  `yaml:"tiktok"`
}

// YouTubeConfig holds YouTube Data API settings
type YouTubeConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RefreshToken   string `yaml:"refresh_token"`
	TokenURL       string `yaml:"token_url"`
	UploadURL      string `yaml:"upload_url"`
	APIURL         string `yaml:"api_url"`
	DefaultPrivacy string `yaml:"default_privacy"`
	ChunkSize      int64  `yaml:"chunk_size"`
	MaxRetries     int    `yaml:"max_retries"`
}

// VKConfig holds VK API settings
type VKConfig struct {
	Enabled        bool    `yaml:"enabled"`
	AccessToken    string  `yaml:"access_token"`
	GroupID        int64   `yaml:"group_id"`
	DefaultPrivacy string  `yaml:"default_privacy"`
	AsClip         bool    `yaml:"as_clip"`
	Wallpost       bool    `yaml:"wallpost"`
	APIURL         string  `yaml:"api_url"`
	APIVersion     string  `yaml:"api_version"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
}

// TikTokConfig holds TikTok Content Posting API settings. AccessToken and
// RefreshToken only seed the credential store when it has no row for Account.
type TikTokConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ClientKey      string `yaml:"client_key"`
	ClientSecret   string `yaml:"client_secret"`
	AccessToken    string `yaml:"access_token"`
	RefreshToken   string `yaml:"refresh_token"`
	Account        string `yaml:"account"`
	APIURL         string `yaml:"api_url"`
	DefaultPrivacy string `yaml:"default_privacy"`
	DisableDuet    bool   `yaml:"disable_duet"`
	DisableComment bool   `yaml:"disable_comment"`
	DisableStitch  bool   `yaml:"disable_stitch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	TempDir         string        `yaml:"temp_dir"`
	MetricsPort     int           `yaml:"metrics_port"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and applies defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Worker.MaxRetries <= 0 {
		c.Worker.MaxRetries = DefaultMaxRetries
	}
	if c.Worker.RetryBaseDelay <= 0 {
		c.Worker.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = DefaultJobTimeout
	}
	if c.Worker.TempDir == "" {
		c.Worker.TempDir = os.TempDir()
	}
	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		c.RabbitMQ.Consumer.PrefetchCount = c.Worker.Concurrency
	}
	if c.Platforms.TikTok.Account == "" {
		c.Platforms.TikTok.Account = "tiktok:default"
	}
}

func (c *Config) validateBackends() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the settings api-service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Auth.ServiceToken == "" {
		return fmt.Errorf("auth service_token is required")
	}

	return nil
}

// ValidateWorkerConfig checks the settings worker-service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.MetricsPort != 0 && (c.Worker.MetricsPort < MinPort || c.Worker.MetricsPort > MaxPort) {
		return fmt.Errorf("invalid worker metrics_port: %d (must be between %d and %d)", c.Worker.MetricsPort, MinPort, MaxPort)
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	return c.validatePlatforms()
}

func (c *Config) validatePlatforms() error {
	p := c.Platforms
	if !p.YouTube.Enabled && !p.VK.Enabled && !p.TikTok.Enabled {
		return fmt.Errorf("at least one platform must be enabled")
	}

	if p.YouTube.Enabled && (p.YouTube.ClientID == "" || p.YouTube.ClientSecret == "" || p.YouTube.RefreshToken == "") {
		return fmt.Errorf("youtube client_id, client_secret and refresh_token are required")
	}

	if p.VK.Enabled && p.VK.AccessToken == "" {
		return fmt.Errorf("vk access_token is required")
	}

	if p.TikTok.Enabled && (p.TikTok.ClientKey == "" || p.TikTok.ClientSecret == "") {
		return fmt.Errorf("tiktok client_key and client_secret are required")
	}

	return nil
}
