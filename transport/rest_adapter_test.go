package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/goliatone/go-webhook-gateway/ratelimit"
)

func TestRESTAdapter_LimiterBlocksAfterThrottledResponse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := NewGraphQLAdapter(server.URL, "t", server.Client())
	adapter.REST = adapter.REST.WithLimiter(ratelimit.NewAdaptivePolicy(nil))

	_, err := adapter.Request(context.Background(), "query { viewer { id } }", nil)
	if !core.HasTextCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected upstream 429 to map to rate limited, got %v", err)
	}
	_, err = adapter.Request(context.Background(), "query { viewer { id } }", nil)
	if !core.HasTextCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected limiter to refuse the second call, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", calls.Load())
	}
}

func TestRESTAdapter_WithBearerTokenKeepsLimiter(t *testing.T) {
	limiter := ratelimit.NewAdaptivePolicy(nil)
	adapter := NewRESTAdapter(nil).WithLimiter(limiter).WithBearerToken("t")
	if adapter.Limiter != limiter {
		t.Fatalf("expected limiter to survive copy")
	}
	if adapter.DefaultHeaders["Authorization"] != "Bearer t" {
		t.Fatalf("expected bearer header, got %#v", adapter.DefaultHeaders)
	}
}
