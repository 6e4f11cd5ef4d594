// Package config defines the engine's configuration surface, following the
// grouped-struct-with-defaults-and-JSON-round-trip convention.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// BrokerBackend selects which Queue Broker implementation the supervisor
// constructs.
type BrokerBackend string

const (
	BrokerInProcess BrokerBackend = "in-process"
	BrokerListStore BrokerBackend = "list-store" // Redis-like lists + sorted set
	BrokerStreaming BrokerBackend = "streaming"   // Kafka-like topics
	BrokerCloudQueue BrokerBackend = "cloud-queue" // SQS-like managed queue
)

// RateLimitConfig groups the token-bucket parameters for the Rate Limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	JitterFactor      float64       `json:"jitter_factor"`
	PerDomain         bool          `json:"per_domain"`
	MaxBrowsers       int           `json:"max_browsers"`
	PageTimeout       time.Duration `json:"page_timeout"`
}

// ListStoreConfig carries connection parameters for the Redis-like broker.
type ListStoreConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// StreamingConfig carries connection parameters for the Kafka-like broker.
type StreamingConfig struct {
	BootstrapServers []string `json:"bootstrap_servers"`
	ConsumerGroupID  string   `json:"consumer_group_id"`
	TopicPrefix      string   `json:"topic_prefix"`
}

// CloudQueueConfig carries connection parameters for the SQS-like broker.
type CloudQueueConfig struct {
	Region           string `json:"region"`
	QueueURLPrefix   string `json:"queue_url_prefix"`
	DeadLetterTarget string `json:"dead_letter_target"`
}

// EngineConfig holds all configuration for a running crawl engine,
// grouped by concern (worker counts, rate limiting, rendering, retry,
// broker selection), with a DefaultEngineConfig constructor and JSON
// Load/Save.
type EngineConfig struct {
	// === Worker counts ===
	NumCrawlWorkers int `json:"num_crawl_workers"`
	NumParseWorkers int `json:"num_parse_workers"`
	MaxConcurrent   int `json:"max_concurrent"` // per-worker in-flight cap

	// === Identity ===
	UserAgent string `json:"user_agent"`

	// === Rate limiting ===
	RateLimit RateLimitConfig `json:"rate_limit"`

	// === Rendering ===
	EnableJSRendering bool          `json:"enable_js_rendering"`
	SelectorWait      time.Duration `json:"selector_wait"`

	// === Content limits ===
	MaxContentSize int64 `json:"max_content_size"`

	// === DNS ===
	DNSCacheTTL time.Duration `json:"dns_cache_ttl"`

	// === Retry ===
	MaxRetries        int           `json:"max_retries"`
	RetryPollInterval time.Duration `json:"retry_poll_interval"`

	// === Broker selection ===
	BrokerBackend BrokerBackend    `json:"broker_backend"`
	ListStore     ListStoreConfig  `json:"list_store"`
	Streaming     StreamingConfig  `json:"streaming"`
	CloudQueue    CloudQueueConfig `json:"cloud_queue"`

	// === HTTP fetch timeouts ===
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	TotalTimeout   time.Duration `json:"total_timeout"`
}

// DefaultEngineConfig returns an EngineConfig with sane defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		NumCrawlWorkers: 5,
		NumParseWorkers: 3,
		MaxConcurrent:   10,

		UserAgent: "BusinessIntelCrawler/1.0",

		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         10,
			JitterFactor:      0.1,
			PerDomain:         true,
			MaxBrowsers:       3,
			PageTimeout:       30 * time.Second,
		},

		EnableJSRendering: true,
		SelectorWait:      10 * time.Second,

		MaxContentSize: 50 * 1024 * 1024,

		DNSCacheTTL: 5 * time.Minute,

		MaxRetries:        3,
		RetryPollInterval: 30 * time.Second,

		BrokerBackend: BrokerInProcess,
		ListStore:     ListStoreConfig{Addr: "localhost:6379"},
		Streaming:     StreamingConfig{BootstrapServers: []string{"localhost:9092"}, ConsumerGroupID: "crawl-workers"},
		CloudQueue:    CloudQueueConfig{Region: "us-east-1"},

		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		TotalTimeout:   60 * time.Second,
	}
}

// Validate checks that the configuration is internally consistent.
func (c *EngineConfig) Validate() error {
	if c.NumCrawlWorkers < 1 {
		return fmt.Errorf("num_crawl_workers must be >= 1")
	}
	if c.NumParseWorkers < 1 {
		return fmt.Errorf("num_parse_workers must be >= 1")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be > 0")
	}
	if c.RateLimit.BurstSize < 1 {
		return fmt.Errorf("rate_limit.burst_size must be >= 1")
	}
	if c.MaxContentSize < 1 {
		return fmt.Errorf("max_content_size must be >= 1")
	}
	switch c.BrokerBackend {
	case BrokerInProcess, BrokerListStore, BrokerStreaming, BrokerCloudQueue:
	default:
		return fmt.Errorf("unknown broker_backend %q", c.BrokerBackend)
	}
	return nil
}

// Load reads and validates an EngineConfig from a JSON file, layering it
// onto the defaults.
func Load(filePath string) (*EngineConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to filePath as indented JSON.
func (c *EngineConfig) Save(filePath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filePath, data, 0o644)
}
