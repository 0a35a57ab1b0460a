package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the entire application configuration
type Config struct {
	Env       string          `json:"env"`
	Port      int             `json:"port"`
	AppName   string          `json:"app_name"`
	MongoDB   MongoDBConfig   `json:"mongodb"`
	Redis     RedisConfig     `json:"redis"`
	RabbitMQ  RabbitMQConfig  `json:"rabbitmq"`
	Jobs      JobsConfig      `json:"jobs"`
	Storage   StorageConfig   `json:"storage"`
	Shopping  ShoppingConfig  `json:"shopping"`
	Trademark TrademarkConfig `json:"trademark"`
	SearchAd  SearchAdConfig  `json:"search_ad"`
	Logging   LoggingConfig   `json:"logging"`
	CORS      CORSConfig      `json:"cors"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RabbitMQConfig contains broker connection and topology settings
type RabbitMQConfig struct {
	Host          string      `json:"host"`
	Port          int         `json:"port"`
	Username      string      `json:"username"`
	Password      string      `json:"password"`
	VHost         string      `json:"vhost"`
	ExchangeName  string      `json:"exchange_name"`
	QueueName     string      `json:"queue_name"`
	RoutingKey    string      `json:"routing_key"` // used when publishing, e.g. "keyword.extract.start"
	BindingKey    string      `json:"binding_key"` // wildcard used to bind the queue, e.g. "keyword.extract.#"
	PrefetchCount int         `json:"prefetch_count"`
	Transacted    bool        `json:"transacted"`
	Retry         RetryConfig `json:"retry"`
}

// RetryConfig is the redelivery policy applied to failed deliveries
type RetryConfig struct {
	MaxAttempts       int     `json:"max_attempts"`
	InitialIntervalMs int     `json:"initial_interval_ms"`
	Multiplier        float64 `json:"multiplier"`
	MaxIntervalMs     int     `json:"max_interval_ms"`
}

// JobsConfig tunes the extraction worker
type JobsConfig struct {
	ConsumeInAPI         bool   `json:"consume_in_api"`
	MaxPhaseAttempts     int    `json:"max_phase_attempts"`
	MaxCandidates        int    `json:"max_candidates"`
	CallDelayMs          int    `json:"call_delay_ms"`
	GracePeriodMs        int    `json:"grace_period_ms"`
	FailureGracePeriodMs int    `json:"failure_grace_period_ms"`
	ProgressTTLHours     int    `json:"progress_ttl_hours"`
	ResetSchedule        string `json:"reset_schedule"`
	CategoryCacheHours   int    `json:"category_cache_hours"`
}

// StorageConfig selects where uploaded and rendered spreadsheets live
type StorageConfig struct {
	Driver    string   `json:"driver"` // "local" or "s3"
	InputDir  string   `json:"input_dir"`
	ResultDir string   `json:"result_dir"`
	S3        S3Config `json:"s3"`
}

type S3Config struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
}

// ShoppingConfig contains the product search API settings used for category and seller lookups
type ShoppingConfig struct {
	BaseURL               string `json:"base_url"`
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret"`
	SecondaryClientID     string `json:"secondary_client_id"`
	SecondaryClientSecret string `json:"secondary_client_secret"`
	SwitchThreshold       int64  `json:"switch_threshold"`
	RequestsPerMinute     int    `json:"requests_per_minute"`
}

// TrademarkConfig contains the trademark registry API settings
type TrademarkConfig struct {
	BaseURL           string `json:"base_url"`
	AccessKey         string `json:"access_key"`
	RequestsPerMinute int    `json:"requests_per_minute"`
}

// SearchAdConfig contains the advertising keyword tool API settings
type SearchAdConfig struct {
	BaseURL           string `json:"base_url"`
	CustomerID        string `json:"customer_id"`
	APIKey            string `json:"api_key"`
	SecretKey         string `json:"secret_key"`
	RequestsPerMinute int    `json:"requests_per_minute"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"` // Optional, seconds that preflight requests can be cached
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string                 `json:"uri"`
	Username string                 `json:"username"`
	Password string                 `json:"password"`
	DB       string                 `json:"db"`
	Options  map[string]interface{} `json:"options"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	Directory string `json:"directory"`
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	// Read the configuration file
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config

	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// Path returns the config file location from CONFIG_PATH or the default
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.json"
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}

	r := &c.RabbitMQ
	if r.Port == 0 {
		r.Port = 5672
	}
	if r.VHost == "" {
		r.VHost = "/"
	}
	if r.ExchangeName == "" {
		r.ExchangeName = "keyword-exchange"
	}
	if r.QueueName == "" {
		r.QueueName = "keyword"
	}
	if r.RoutingKey == "" {
		r.RoutingKey = "keyword.extract.start"
	}
	if r.BindingKey == "" {
		r.BindingKey = "keyword.extract.#"
	}
	if r.PrefetchCount == 0 {
		r.PrefetchCount = 1
	}
	if r.Retry.MaxAttempts == 0 {
		r.Retry.MaxAttempts = 3
	}
	if r.Retry.InitialIntervalMs == 0 {
		r.Retry.InitialIntervalMs = 3000
	}
	if r.Retry.Multiplier == 0 {
		r.Retry.Multiplier = 3
	}
	if r.Retry.MaxIntervalMs == 0 {
		r.Retry.MaxIntervalMs = 10000
	}

	j := &c.Jobs
	if j.MaxPhaseAttempts == 0 {
		j.MaxPhaseAttempts = 3
	}
	if j.MaxCandidates == 0 {
		j.MaxCandidates = 5
	}
	if j.CallDelayMs == 0 {
		j.CallDelayMs = 150
	}
	if j.GracePeriodMs == 0 {
		j.GracePeriodMs = 5000
	}
	if j.FailureGracePeriodMs == 0 {
		j.FailureGracePeriodMs = 2000
	}
	if j.ProgressTTLHours == 0 {
		j.ProgressTTLHours = 48
	}
	if j.CategoryCacheHours == 0 {
		j.CategoryCacheHours = 24
	}
	if j.ResetSchedule == "" {
		j.ResetSchedule = "0 0 * * *"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "local"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "keywords"
	}
	if c.Shopping.SwitchThreshold == 0 {
		c.Shopping.SwitchThreshold = 25000
	}
}

// Durations helpers keep millisecond fields out of call sites

func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

func (j JobsConfig) CallDelay() time.Duration {
	return time.Duration(j.CallDelayMs) * time.Millisecond
}

func (j JobsConfig) GracePeriod() time.Duration {
	return time.Duration(j.GracePeriodMs) * time.Millisecond
}

func (j JobsConfig) FailureGracePeriod() time.Duration {
	return time.Duration(j.FailureGracePeriodMs) * time.Millisecond
}

func (j JobsConfig) ProgressTTL() time.Duration {
	return time.Duration(j.ProgressTTLHours) * time.Hour
}

func (j JobsConfig) CategoryCacheTTL() time.Duration {
	return time.Duration(j.CategoryCacheHours) * time.Hour
}
