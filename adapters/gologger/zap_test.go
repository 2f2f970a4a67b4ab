package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_PassesKeyValuePairs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Info("delivery processed", "delivery_id", "d1", "status", "succeeded")
	logger.WithContext(context.Background()).Warn("slow handler", "elapsed_ms", 1200)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "delivery processed" || entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("unexpected first entry: %#v", entries[0])
	}
	fields := entries[0].ContextMap()
	if fields["delivery_id"] != "d1" || fields["status"] != "succeeded" {
		t.Fatalf("unexpected fields: %#v", fields)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[1].Level)
	}
}

func TestZapLogger_WithFieldsAttachesContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	child := logger.WithFields(map[string]any{"event_type": "Issue", "delivery_id": "d2"})
	child.Error("handler failed")
	child.Trace("trace maps to debug")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event_type"] != "Issue" || fields["delivery_id"] != "d2" {
		t.Fatalf("expected attached fields, got %#v", fields)
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("expected trace to log at debug, got %s", entries[1].Level)
	}
	if same := logger.WithFields(nil); same != glog.Logger(logger) {
		t.Fatalf("expected empty fields to return the same logger")
	}
}

func TestZapProvider_NamesChildren(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	provider := NewZapProvider(zap.New(core))

	provider.GetLogger("webhooks").Info("hello")
	entries := logs.All()
	if len(entries) != 1 || entries[0].LoggerName != "webhooks" {
		t.Fatalf("expected named logger entry, got %#v", entries)
	}
}

func TestResolveDeterministicFallback(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	provider := NewZapProvider(zap.New(core))
	direct := NewZapLogger(nil)

	_, resolved := Resolve("gateway", provider, direct)
	resolved.Info("from provider")
	if logs.Len() != 1 {
		t.Fatalf("expected provider logger precedence")
	}

	resolvedProvider, resolved := Resolve("gateway", nil, direct)
	if resolved != glog.Logger(direct) {
		t.Fatalf("expected direct logger when provider is nil")
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if _, resolved = Resolve("gateway", nil, nil); resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestZapLogger_NilSafe(t *testing.T) {
	var logger *ZapLogger
	logger.Info("ignored")
	if err := logger.Sync(); err != nil {
		t.Fatalf("expected nop sync, got %v", err)
	}
}
