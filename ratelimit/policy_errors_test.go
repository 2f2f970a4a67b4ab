package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-webhook-gateway/core"
)

func TestThrottledError_ToServiceError(t *testing.T) {
	err := ThrottledError{Bucket: "api.linear.app", RetryAfter: 3 * time.Second}

	mapped := err.ToServiceError()
	if mapped.TextCode != core.ErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.ErrorRateLimited, mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status code 429, got %d", mapped.Code)
	}
	if mapped.Metadata["retry_after_ms"] != int64(3000) {
		t.Fatalf("expected retry hint in metadata, got %#v", mapped.Metadata)
	}
}
