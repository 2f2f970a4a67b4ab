package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	LedgerDriverMemory   = "memory"
	LedgerDriverSQLite   = "sqlite"
	LedgerDriverPostgres = "postgres"
	LedgerDriverRedis    = "redis"

	DefaultMaxBodyBytes int64 = 1 << 20
)

type ServerConfig struct {
	Addr              string        `koanf:"addr" mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type WebhookConfig struct {
	Path            string        `koanf:"path" mapstructure:"path"`
	Secret          string        `koanf:"secret" mapstructure:"secret"`
	SignatureHeader string        `koanf:"signature_header" mapstructure:"signature_header"`
	SignaturePrefix string        `koanf:"signature_prefix" mapstructure:"signature_prefix"`
	DeliveryHeader  string        `koanf:"delivery_header" mapstructure:"delivery_header"`
	HandlerTimeout  time.Duration `koanf:"handler_timeout" mapstructure:"handler_timeout"`
	Retention       time.Duration `koanf:"retention" mapstructure:"retention"`
	ReplayWindow    time.Duration `koanf:"replay_window" mapstructure:"replay_window"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`

	// PreviousSecret stays valid until PreviousSecretExpiresAt (RFC 3339).
	PreviousSecret          string `koanf:"previous_secret" mapstructure:"previous_secret"`
	PreviousSecretExpiresAt string `koanf:"previous_secret_expires_at" mapstructure:"previous_secret_expires_at"`
}

type LinearConfig struct {
	ClientID     string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string `koanf:"client_secret" mapstructure:"client_secret"`
	AccessToken  string `koanf:"access_token" mapstructure:"access_token"`
	APIURL       string `koanf:"api_url" mapstructure:"api_url"`
	RequireToken bool   `koanf:"require_token" mapstructure:"require_token"`
}

type CompletionConfig struct {
	APIKey  string        `koanf:"api_key" mapstructure:"api_key"`
	BaseURL string        `koanf:"base_url" mapstructure:"base_url"`
	Model   string        `koanf:"model" mapstructure:"model"`
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type AgentConfig struct {
	AutoReply           bool          `koanf:"auto_reply" mapstructure:"auto_reply"`
	EnqueueFollowUp     bool          `koanf:"enqueue_follow_up" mapstructure:"enqueue_follow_up"`
	FollowUpMaxAttempts int           `koanf:"follow_up_max_attempts" mapstructure:"follow_up_max_attempts"`
	FollowUpMaxDelay    time.Duration `koanf:"follow_up_max_delay" mapstructure:"follow_up_max_delay"`
}

type LedgerConfig struct {
	Driver        string        `koanf:"driver" mapstructure:"driver"`
	DSN           string        `koanf:"dsn" mapstructure:"dsn"`
	RedisAddr     string        `koanf:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `koanf:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `koanf:"redis_db" mapstructure:"redis_db"`
	CacheTTL      time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
}

type EventsConfig struct {
	KafkaBrokers  []string `koanf:"kafka_brokers" mapstructure:"kafka_brokers"`
	KafkaTopic    string   `koanf:"kafka_topic" mapstructure:"kafka_topic"`
	JobTopic      string   `koanf:"job_topic" mapstructure:"job_topic"`
	ConsumerGroup string   `koanf:"consumer_group" mapstructure:"consumer_group"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Server      ServerConfig     `koanf:"server" mapstructure:"server"`
	Webhook     WebhookConfig    `koanf:"webhook" mapstructure:"webhook"`
	Linear      LinearConfig     `koanf:"linear" mapstructure:"linear"`
	Completion  CompletionConfig `koanf:"completion" mapstructure:"completion"`
	Agent       AgentConfig      `koanf:"agent" mapstructure:"agent"`
	Ledger      LedgerConfig     `koanf:"ledger" mapstructure:"ledger"`
	Events      EventsConfig     `koanf:"events" mapstructure:"events"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "webhook-gateway",
		Server: ServerConfig{
			Addr:              ":8000",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Webhook: WebhookConfig{
			Path:            "/webhooks/linear",
			SignatureHeader: "Linear-Signature",
			DeliveryHeader:  "Linear-Delivery",
			HandlerTimeout:  10 * time.Second,
			Retention:       24 * time.Hour,
			MaxBodyBytes:    DefaultMaxBodyBytes,
		},
		Linear: LinearConfig{
			APIURL: "https://api.linear.app/graphql",
		},
		Completion: CompletionConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-3.5-turbo",
			Timeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			FollowUpMaxAttempts: 3,
			FollowUpMaxDelay:    time.Minute,
		},
		Ledger: LedgerConfig{
			Driver:        LedgerDriverMemory,
			CacheTTL:      5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Events: EventsConfig{
			KafkaTopic:    "webhook-gateway.outcomes",
			JobTopic:      "webhook-gateway.jobs",
			ConsumerGroup: "webhook-gateway",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if !strings.HasPrefix(strings.TrimSpace(c.Webhook.Path), "/") {
		return fmt.Errorf("core: webhook.path must start with /")
	}
	if strings.TrimSpace(c.Webhook.SignatureHeader) == "" {
		return fmt.Errorf("core: webhook.signature_header is required")
	}
	if raw := strings.TrimSpace(c.Webhook.PreviousSecretExpiresAt); raw != "" {
		if _, err := time.Parse(time.RFC3339, raw); err != nil {
			return fmt.Errorf("core: webhook.previous_secret_expires_at must be RFC 3339: %w", err)
		}
	}
	if c.Webhook.HandlerTimeout < 0 || c.Webhook.Retention < 0 || c.Webhook.ReplayWindow < 0 {
		return fmt.Errorf("core: webhook durations must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Ledger.Driver)) {
	case "", LedgerDriverMemory:
	case LedgerDriverSQLite, LedgerDriverPostgres:
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			return fmt.Errorf("core: ledger.dsn is required for driver %q", c.Ledger.Driver)
		}
	case LedgerDriverRedis:
		if strings.TrimSpace(c.Ledger.RedisAddr) == "" {
			return fmt.Errorf("core: ledger.redis_addr is required for driver redis")
		}
	default:
		return fmt.Errorf("core: unsupported ledger.driver %q", c.Ledger.Driver)
	}
	if c.Agent.FollowUpMaxAttempts < 0 || c.Agent.FollowUpMaxDelay < 0 {
		return fmt.Errorf("core: agent follow-up bounds must not be negative")
	}
	if c.Linear.RequireToken && strings.TrimSpace(c.Linear.AccessToken) == "" {
		return fmt.Errorf("core: linear.access_token is required")
	}
	return nil
}
