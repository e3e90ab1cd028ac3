package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"thermowatch/internal/alerts"
)

// EnvConfigPath names the env var holding an optional YAML config file.
const EnvConfigPath = "THERMOWATCH_CONFIG"

// Config holds runtime configuration for the service.
type Config struct {
	LogLevel string `yaml:"log_level"`
	// Identifies this instance on dispatched notifications
	NodeID string `yaml:"node_id"`

	HTTP        HTTPConfig             `yaml:"http"`
	Telemetry   TelemetryConfig        `yaml:"telemetry"`
	Thresholds  alerts.ThresholdConfig `yaml:"thresholds"`
	Ledger      LedgerConfig           `yaml:"ledger"`
	Dispatch    DispatchConfig         `yaml:"dispatch"`
	Webhook     WebhookConfig          `yaml:"webhook"`
	Kafka       KafkaConfig            `yaml:"kafka"`
	Subscribers []SubscriberConfig     `yaml:"subscribers"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// HS256 secret for /api/v1; empty disables auth
	JWTSecret   string `yaml:"jwt_secret"`
	MaxBodySize int64  `yaml:"max_body_size"`
}

// TelemetryConfig configures the ThingSpeak-compatible poller.
type TelemetryConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ChannelID    string        `yaml:"channel_id"`
	ReadAPIKey   string        `yaml:"read_api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	// An unchanged entry is re-evaluated this long after it was last
	// forwarded, so a breach on a stalled feed is renotified. Zero disables.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// Polling is skipped when false; readings then come from push ingest or Kafka
	Enabled bool `yaml:"enabled"`
}

// LedgerConfig configures notification ledger eviction.
type LedgerConfig struct {
	// Entries older than TTL are pruned; zero keeps them forever
	TTL           time.Duration `yaml:"ttl"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// DispatchConfig configures the notification worker pool.
type DispatchConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// WebhookConfig configures webhook delivery.
type WebhookConfig struct {
	// Fallback target for subscribers without their own URL
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Template string        `yaml:"template"`
}

// KafkaConfig configures the Kafka notification producer and reading consumer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	// Notifications are published here
	Topic string `yaml:"topic"`
	// Readings are consumed from here when set
	ReadingsTopic string         `yaml:"readings_topic"`
	GroupID       string         `yaml:"group_id"`
	Producer      ProducerConfig `yaml:"producer"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// ProducerConfig tunes the Kafka writer pool.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// SubscriberConfig seeds the subscriber registry at startup.
type SubscriberConfig struct {
	ID             string `yaml:"id"`
	WebhookURL     string `yaml:"webhook_url"`
	AlertsEnabled  *bool  `yaml:"alerts_enabled"`
	NotifyCritical *bool  `yaml:"notify_critical"`
	NotifyWarnings *bool  `yaml:"notify_warnings"`
}

// Configuration errors
var (
	ErrMissingChannel   = errors.New("telemetry.channel_id is required when polling is enabled")
	ErrPollInterval     = errors.New("telemetry.poll_interval must be positive")
	ErrMissingTopic     = errors.New("kafka.topic is required when brokers are set")
	ErrEmptySubscriber  = errors.New("subscriber id cannot be empty")
	ErrDuplicateSubject = errors.New("duplicate subscriber id")
)

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:        ":8080",
			MaxBodySize: 1 << 20,
		},
		Telemetry: TelemetryConfig{
			BaseURL:         "https://api.thingspeak.com",
			ChannelID:       "3194658",
			PollInterval:    20 * time.Second,
			Timeout:         5 * time.Second,
			RefreshInterval: time.Minute,
			Enabled:         true,
		},
		Thresholds: alerts.DefaultThresholds(),
		Ledger: LedgerConfig{
			PruneInterval: 10 * time.Minute,
		},
		Dispatch: DispatchConfig{
			QueueSize:    1000,
			Workers:      2,
			BatchSize:    50,
			BatchTimeout: 200 * time.Millisecond,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:   "thermowatch.notifications",
			GroupID: "thermowatch",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    100,
				BatchTimeout: 50 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
	}
}

// Load builds the config from defaults, the YAML file named by
// THERMOWATCH_CONFIG (if any) and environment overrides, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getenvDefault("LOG_LEVEL", c.LogLevel)
	c.NodeID = getenvDefault("NODE_ID", c.NodeID)
	c.HTTP.Addr = getenvDefault("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.JWTSecret = getenvDefault("AUTH_JWT_SECRET", c.HTTP.JWTSecret)
	c.Telemetry.BaseURL = getenvDefault("THINGSPEAK_BASE_URL", c.Telemetry.BaseURL)
	c.Telemetry.ChannelID = getenvDefault("THINGSPEAK_CHANNEL_ID", c.Telemetry.ChannelID)
	c.Telemetry.ReadAPIKey = getenvDefault("THINGSPEAK_READ_API_KEY", c.Telemetry.ReadAPIKey)
	c.Telemetry.PollInterval = getenvDuration("POLL_INTERVAL", c.Telemetry.PollInterval)
	c.Telemetry.RefreshInterval = getenvDuration("POLL_REFRESH_INTERVAL", c.Telemetry.RefreshInterval)
	c.Telemetry.Enabled = getenvBool("POLL_ENABLED", c.Telemetry.Enabled)
	c.Ledger.TTL = getenvDuration("LEDGER_TTL", c.Ledger.TTL)
	c.Webhook.URL = getenvDefault("ALERT_WEBHOOK_URL", c.Webhook.URL)
	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		c.Kafka.Brokers = brokers
	}
	c.Kafka.Topic = getenvDefault("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.ReadingsTopic = getenvDefault("KAFKA_READINGS_TOPIC", c.Kafka.ReadingsTopic)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if c.Ledger.TTL > 0 && c.Ledger.TTL <= c.Thresholds.MaxRenotifyInterval() {
		return alerts.ErrLedgerTTLTooShort
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.ChannelID == "" {
			return ErrMissingChannel
		}
		if c.Telemetry.PollInterval <= 0 {
			return ErrPollInterval
		}
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return ErrMissingTopic
	}
	seen := make(map[string]struct{}, len(c.Subscribers))
	for _, s := range c.Subscribers {
		if strings.TrimSpace(s.ID) == "" {
			return ErrEmptySubscriber
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSubject, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
