package core

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"github.com/joho/godotenv"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type envKind int

const (
	envString envKind = iota
	envBool
	envInt
	envDuration
	envList
)

type envBinding struct {
	Name string
	Path string
	Kind envKind
}

// envBindings maps environment variables onto config keys. The LINEAR_* and
// OPENAI_API_KEY names are the ones the agent starter documents.
var envBindings = []envBinding{
	{Name: "LINEAR_CLIENT_ID", Path: "linear.client_id"},
	{Name: "LINEAR_CLIENT_SECRET", Path: "linear.client_secret"},
	{Name: "LINEAR_ACCESS_TOKEN", Path: "linear.access_token"},
	{Name: "LINEAR_API_URL", Path: "linear.api_url"},
	{Name: "LINEAR_REQUIRE_TOKEN", Path: "linear.require_token", Kind: envBool},
	{Name: "LINEAR_WEBHOOK_SECRET", Path: "webhook.secret"},
	{Name: "LINEAR_WEBHOOK_PATH", Path: "webhook.path"},
	{Name: "GATEWAY_WEBHOOK_PREVIOUS_SECRET", Path: "webhook.previous_secret"},
	{Name: "GATEWAY_WEBHOOK_PREVIOUS_SECRET_EXPIRES_AT", Path: "webhook.previous_secret_expires_at"},
	{Name: "OPENAI_API_KEY", Path: "completion.api_key"},
	{Name: "OPENAI_BASE_URL", Path: "completion.base_url"},
	{Name: "OPENAI_MODEL", Path: "completion.model"},
	{Name: "GATEWAY_SERVICE_NAME", Path: "service_name"},
	{Name: "GATEWAY_ADDR", Path: "server.addr"},
	{Name: "GATEWAY_SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout", Kind: envDuration},
	{Name: "GATEWAY_SIGNATURE_HEADER", Path: "webhook.signature_header"},
	{Name: "GATEWAY_SIGNATURE_PREFIX", Path: "webhook.signature_prefix"},
	{Name: "GATEWAY_DELIVERY_HEADER", Path: "webhook.delivery_header"},
	{Name: "GATEWAY_HANDLER_TIMEOUT", Path: "webhook.handler_timeout", Kind: envDuration},
	{Name: "GATEWAY_RETENTION", Path: "webhook.retention", Kind: envDuration},
	{Name: "GATEWAY_REPLAY_WINDOW", Path: "webhook.replay_window", Kind: envDuration},
	{Name: "GATEWAY_MAX_BODY_BYTES", Path: "webhook.max_body_bytes", Kind: envInt},
	{Name: "GATEWAY_AUTO_REPLY", Path: "agent.auto_reply", Kind: envBool},
	{Name: "GATEWAY_ENQUEUE_FOLLOW_UP", Path: "agent.enqueue_follow_up", Kind: envBool},
	{Name: "GATEWAY_FOLLOW_UP_MAX_ATTEMPTS", Path: "agent.follow_up_max_attempts", Kind: envInt},
	{Name: "GATEWAY_FOLLOW_UP_MAX_DELAY", Path: "agent.follow_up_max_delay", Kind: envDuration},
	{Name: "GATEWAY_LEDGER_DRIVER", Path: "ledger.driver"},
	{Name: "GATEWAY_LEDGER_DSN", Path: "ledger.dsn"},
	{Name: "GATEWAY_REDIS_ADDR", Path: "ledger.redis_addr"},
	{Name: "GATEWAY_REDIS_PASSWORD", Path: "ledger.redis_password"},
	{Name: "GATEWAY_REDIS_DB", Path: "ledger.redis_db", Kind: envInt},
	{Name: "GATEWAY_CACHE_TTL", Path: "ledger.cache_ttl", Kind: envDuration},
	{Name: "GATEWAY_SWEEP_INTERVAL", Path: "ledger.sweep_interval", Kind: envDuration},
	{Name: "GATEWAY_KAFKA_BROKERS", Path: "events.kafka_brokers", Kind: envList},
	{Name: "GATEWAY_KAFKA_TOPIC", Path: "events.kafka_topic"},
	{Name: "GATEWAY_KAFKA_JOB_TOPIC", Path: "events.job_topic"},
	{Name: "GATEWAY_KAFKA_CONSUMER_GROUP", Path: "events.consumer_group"},
}

// EnvConfigLoader reads optional .env files and the process environment.
// Process variables win over file values.
type EnvConfigLoader struct {
	Files  []string
	Lookup func(key string) (string, bool)
}

func NewEnvConfigLoader(files ...string) *EnvConfigLoader {
	return &EnvConfigLoader{Files: files, Lookup: os.LookupEnv}
}

func (l *EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	fileValues := map[string]string{}
	if l != nil {
		for _, file := range l.Files {
			file = strings.TrimSpace(file)
			if file == "" {
				continue
			}
			if _, err := os.Stat(file); err != nil {
				continue
			}
			values, err := godotenv.Read(file)
			if err != nil {
				return nil, fmt.Errorf("core: read env file %s: %w", file, err)
			}
			for key, value := range values {
				fileValues[key] = value
			}
		}
	}
	lookup := os.LookupEnv
	if l != nil && l.Lookup != nil {
		lookup = l.Lookup
	}

	raw := map[string]any{}
	for _, binding := range envBindings {
		value, ok := lookup(binding.Name)
		if !ok {
			value, ok = fileValues[binding.Name]
		}
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		parsed, err := parseEnvValue(binding, value)
		if err != nil {
			return nil, err
		}
		setPath(raw, binding.Path, parsed)
	}
	return raw, nil
}

func parseEnvValue(binding envBinding, value string) (any, error) {
	switch binding.Kind {
	case envBool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("core: %s must be a boolean: %w", binding.Name, err)
		}
		return parsed, nil
	case envInt:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("core: %s must be an integer: %w", binding.Name, err)
		}
		return parsed, nil
	case envDuration:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("core: %s must be a duration: %w", binding.Name, err)
		}
		return parsed, nil
	case envList:
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return value, nil
	}
}

func setPath(root map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := root
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

type layerField struct {
	Path  string
	Value func(Config) any
}

var layerFields = []layerField{
	{"service_name", func(c Config) any { return c.ServiceName }},
	{"server.addr", func(c Config) any { return c.Server.Addr }},
	{"server.read_header_timeout", func(c Config) any { return c.Server.ReadHeaderTimeout }},
	{"server.shutdown_timeout", func(c Config) any { return c.Server.ShutdownTimeout }},
	{"webhook.path", func(c Config) any { return c.Webhook.Path }},
	{"webhook.secret", func(c Config) any { return c.Webhook.Secret }},
	{"webhook.signature_header", func(c Config) any { return c.Webhook.SignatureHeader }},
	{"webhook.signature_prefix", func(c Config) any { return c.Webhook.SignaturePrefix }},
	{"webhook.delivery_header", func(c Config) any { return c.Webhook.DeliveryHeader }},
	{"webhook.handler_timeout", func(c Config) any { return c.Webhook.HandlerTimeout }},
	{"webhook.retention", func(c Config) any { return c.Webhook.Retention }},
	{"webhook.replay_window", func(c Config) any { return c.Webhook.ReplayWindow }},
	{"webhook.max_body_bytes", func(c Config) any { return c.Webhook.MaxBodyBytes }},
	{"linear.client_id", func(c Config) any { return c.Linear.ClientID }},
	{"linear.client_secret", func(c Config) any { return c.Linear.ClientSecret }},
	{"linear.access_token", func(c Config) any { return c.Linear.AccessToken }},
	{"linear.api_url", func(c Config) any { return c.Linear.APIURL }},
	{"linear.require_token", func(c Config) any { return c.Linear.RequireToken }},
	{"completion.api_key", func(c Config) any { return c.Completion.APIKey }},
	{"completion.base_url", func(c Config) any { return c.Completion.BaseURL }},
	{"completion.model", func(c Config) any { return c.Completion.Model }},
	{"completion.timeout", func(c Config) any { return c.Completion.Timeout }},
	{"agent.auto_reply", func(c Config) any { return c.Agent.AutoReply }},
	{"agent.enqueue_follow_up", func(c Config) any { return c.Agent.EnqueueFollowUp }},
	{"agent.follow_up_max_attempts", func(c Config) any { return c.Agent.FollowUpMaxAttempts }},
	{"agent.follow_up_max_delay", func(c Config) any { return c.Agent.FollowUpMaxDelay }},
	{"ledger.driver", func(c Config) any { return c.Ledger.Driver }},
	{"ledger.dsn", func(c Config) any { return c.Ledger.DSN }},
	{"ledger.redis_addr", func(c Config) any { return c.Ledger.RedisAddr }},
	{"ledger.redis_password", func(c Config) any { return c.Ledger.RedisPassword }},
	{"ledger.redis_db", func(c Config) any { return c.Ledger.RedisDB }},
	{"ledger.cache_ttl", func(c Config) any { return c.Ledger.CacheTTL }},
	{"ledger.sweep_interval", func(c Config) any { return c.Ledger.SweepInterval }},
	{"events.kafka_brokers", func(c Config) any { return append([]string(nil), c.Events.KafkaBrokers...) }},
	{"events.kafka_topic", func(c Config) any { return c.Events.KafkaTopic }},
	{"events.job_topic", func(c Config) any { return c.Events.JobTopic }},
	{"events.consumer_group", func(c Config) any { return c.Events.ConsumerGroup }},
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	for _, field := range layerFields {
		value := field.Value(cfg)
		if !includeZero && isZeroValue(value) {
			continue
		}
		setPath(layer, field.Path, value)
	}
	return layer
}

func isZeroValue(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice {
		return rv.Len() == 0
	}
	return rv.IsZero()
}

// LoadConfig resolves defaults, loaded and runtime layers into one validated
// Config. It is called once at startup; the result is passed explicitly.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, MapError(err)
	}
	resolved, err := resolver.Resolve(defaults, loaded, runtime)
	if err != nil {
		return Config{}, MapError(err)
	}
	return resolved, nil
}
