package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

const linearBucket = "api.linear.app"

func TestAdaptivePolicy_BeforeCallAllowsWhenNoState(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())

	if err := policy.BeforeCall(context.Background(), linearBucket); err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
}

func TestAdaptivePolicy_AfterCallParsesLinearHeaders(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	resetAt := now.Add(45 * time.Second)
	err := policy.AfterCall(context.Background(), "API.linear.app", 200, map[string]string{
		"X-RateLimit-Requests-Limit":     "1500",
		"X-RateLimit-Requests-Remaining": "1499",
		"X-RateLimit-Requests-Reset":     "1700000045000",
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}

	state, err := store.Get(context.Background(), linearBucket)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Limit != 1500 || state.Remaining != 1499 {
		t.Fatalf("expected 1499/1500, got %d/%d", state.Remaining, state.Limit)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(resetAt) {
		t.Fatalf("expected reset at %s, got %+v", resetAt, state.ResetAt)
	}
}

func TestAdaptivePolicy_AfterCallParsesGenericHeaders(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	if err := policy.AfterCall(context.Background(), "api.openai.com", 200, map[string]string{
		"X-RateLimit-Limit":     "60",
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     "1700000030",
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}

	err := policy.BeforeCall(context.Background(), "api.openai.com")
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected exhausted quota to throttle, got %v", err)
	}
	if throttled.RetryAfter != 30*time.Second {
		t.Fatalf("expected 30s until reset, got %s", throttled.RetryAfter)
	}
}

func TestAdaptivePolicy_BlocksWhenThrottleWindowIsActive(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	until := now.Add(20 * time.Second)
	if err := store.Upsert(context.Background(), State{Bucket: linearBucket, ThrottledUntil: &until}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	err := policy.BeforeCall(context.Background(), linearBucket)
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %T", err)
	}
	if throttled.RetryAfter != 20*time.Second {
		t.Fatalf("expected 20s retry after, got %s", throttled.RetryAfter)
	}

	now = now.Add(21 * time.Second)
	if err := policy.BeforeCall(context.Background(), linearBucket); err != nil {
		t.Fatalf("expected window to have elapsed, got %v", err)
	}
}

func TestAdaptivePolicy_AfterCall429UsesRetryAfterAndAttempts(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	if err := policy.AfterCall(context.Background(), linearBucket, 429, map[string]string{"Retry-After": "10"}); err != nil {
		t.Fatalf("after call throttled: %v", err)
	}

	state, err := store.Get(context.Background(), linearBucket)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", state.Attempts)
	}
	if state.ThrottledUntil == nil || state.ThrottledUntil.Sub(now) != 10*time.Second {
		t.Fatalf("expected throttled window of 10s, got %+v", state.ThrottledUntil)
	}
	if state.RetryAfter == nil || *state.RetryAfter != 10*time.Second {
		t.Fatalf("expected retry_after 10s")
	}
}

func TestAdaptivePolicy_AdaptiveBackoffWithoutRetryAfter(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	policy.InitialBackoff = 2 * time.Second
	policy.MaxBackoff = 30 * time.Second
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	if err := policy.AfterCall(context.Background(), linearBucket, 429, nil); err != nil {
		t.Fatalf("first throttled call: %v", err)
	}
	now = now.Add(3 * time.Second)
	if err := policy.AfterCall(context.Background(), linearBucket, 429, nil); err != nil {
		t.Fatalf("second throttled call: %v", err)
	}

	state, err := store.Get(context.Background(), linearBucket)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 2 {
		t.Fatalf("expected attempts 2, got %d", state.Attempts)
	}
	if got := state.ThrottledUntil.Sub(now); got != 4*time.Second {
		t.Fatalf("expected adaptive delay of 4s, got %s", got)
	}
}

func TestAdaptivePolicy_ServerErrorsDoNotThrottle(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)

	if err := policy.AfterCall(context.Background(), linearBucket, 503, map[string]string{"X-RateLimit-Remaining": "0"}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, _ := store.Get(context.Background(), linearBucket)
	if state.ThrottledUntil != nil || state.Attempts != 0 {
		t.Fatalf("expected 5xx to leave bucket open, got %+v", state)
	}
}

func TestAdaptivePolicy_ResetsAttemptsOnSuccessfulCall(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	until := now.Add(10 * time.Second)
	if err := store.Upsert(context.Background(), State{Bucket: linearBucket, Attempts: 3, ThrottledUntil: &until}); err != nil {
		t.Fatalf("seed throttled state: %v", err)
	}

	now = now.Add(12 * time.Second)
	if err := policy.AfterCall(context.Background(), linearBucket, 200, nil); err != nil {
		t.Fatalf("after successful call: %v", err)
	}

	state, err := store.Get(context.Background(), linearBucket)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 0 || state.ThrottledUntil != nil {
		t.Fatalf("expected attempts and window cleared, got %+v", state)
	}
}
