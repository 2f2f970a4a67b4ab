package core

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
	if cfg.Webhook.Path != "/webhooks/linear" {
		t.Fatalf("unexpected default path %q", cfg.Webhook.Path)
	}
	if cfg.Webhook.SignatureHeader != "Linear-Signature" {
		t.Fatalf("unexpected default signature header %q", cfg.Webhook.SignatureHeader)
	}
	if cfg.Webhook.HandlerTimeout != 10*time.Second {
		t.Fatalf("unexpected default handler timeout %s", cfg.Webhook.HandlerTimeout)
	}
	if cfg.Ledger.Driver != LedgerDriverMemory {
		t.Fatalf("unexpected default ledger driver %q", cfg.Ledger.Driver)
	}
}

func TestConfigValidate_RejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing service name", func(c *Config) { c.ServiceName = " " }, "service_name"},
		{"relative path", func(c *Config) { c.Webhook.Path = "webhooks" }, "webhook.path"},
		{"missing header", func(c *Config) { c.Webhook.SignatureHeader = "" }, "signature_header"},
		{"negative timeout", func(c *Config) { c.Webhook.HandlerTimeout = -time.Second }, "negative"},
		{"sqlite without dsn", func(c *Config) { c.Ledger.Driver = LedgerDriverSQLite }, "ledger.dsn"},
		{"redis without addr", func(c *Config) { c.Ledger.Driver = LedgerDriverRedis }, "redis_addr"},
		{"unknown driver", func(c *Config) { c.Ledger.Driver = "mongo" }, "unsupported"},
		{"token required", func(c *Config) { c.Linear.RequireToken = true }, "access_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
