package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhook-gateway/core"
)

type stubLedger struct {
	mu        sync.Mutex
	record    core.ProcessingRecord
	getCalls  int
	getErr    error
	swept     int
	completed int
}

func (s *stubLedger) Admit(_ context.Context, deliveryID string, eventType core.EventType) (core.AdmitDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = core.ProcessingRecord{
		DeliveryID: deliveryID,
		EventType:  eventType.String(),
		Status:     core.ProcessingStatusPending,
		Attempts:   s.record.Attempts + 1,
	}
	return core.FirstSeen(s.record.Clone()), nil
}

func (s *stubLedger) Complete(_ context.Context, _ string, completion core.Completion) (core.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
	s.record.Status = completion.Status
	s.record.Result = completion.Result.Clone()
	return s.record.Clone(), nil
}

func (s *stubLedger) Get(_ context.Context, _ string) (core.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.ProcessingRecord{}, s.getErr
	}
	return s.record.Clone(), nil
}

func (s *stubLedger) Sweep(context.Context) (int, error) {
	return s.swept, nil
}

func TestDeliveryCacheKey(t *testing.T) {
	key, err := DeliveryCacheKey(" delivery/1 ")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-webhook-gateway::delivery::v1::delivery%2F1" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := DeliveryCacheKey(" "); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for empty id, got %v", err)
	}
}

func TestCachedLedger_GetMissFetchThenHit(t *testing.T) {
	ctx := context.Background()
	base := &stubLedger{}
	cached, err := NewCachedLedger(base, newTestLedgerCacheService(t))
	if err != nil {
		t.Fatalf("new cached ledger: %v", err)
	}
	if _, err := cached.Admit(ctx, "d1", core.IssueEvent); err != nil {
		t.Fatalf("admit: %v", err)
	}

	for i := 0; i < 3; i++ {
		record, err := cached.Get(ctx, "d1")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if record.DeliveryID != "d1" {
			t.Fatalf("unexpected record: %#v", record)
		}
	}
	if base.getCalls != 1 {
		t.Fatalf("expected one base read, got %d", base.getCalls)
	}
}

func TestCachedLedger_CompleteInvalidates(t *testing.T) {
	ctx := context.Background()
	base := &stubLedger{}
	cached, err := NewCachedLedger(base, newTestLedgerCacheService(t))
	if err != nil {
		t.Fatalf("new cached ledger: %v", err)
	}
	if _, err := cached.Admit(ctx, "d1", core.IssueEvent); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if record, _ := cached.Get(ctx, "d1"); record.Status != core.ProcessingStatusPending {
		t.Fatalf("expected pending before completion, got %q", record.Status)
	}
	if _, err := cached.Complete(ctx, "d1", core.Completion{Status: core.ProcessingStatusSucceeded}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	record, err := cached.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("get after completion: %v", err)
	}
	if record.Status != core.ProcessingStatusSucceeded {
		t.Fatalf("expected fresh read after invalidation, got %q", record.Status)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected two base reads, got %d", base.getCalls)
	}
}

func TestCachedLedger_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	base := &stubLedger{getErr: errors.New("db down")}
	cached, err := NewCachedLedger(base, newTestLedgerCacheService(t))
	if err != nil {
		t.Fatalf("new cached ledger: %v", err)
	}
	if _, err := cached.Get(ctx, "d1"); err == nil {
		t.Fatalf("expected base error propagation")
	}
	base.mu.Lock()
	base.getErr = nil
	base.record = core.ProcessingRecord{DeliveryID: "d1", Status: core.ProcessingStatusPending}
	base.mu.Unlock()
	if _, err := cached.Get(ctx, "d1"); err != nil {
		t.Fatalf("expected recovery after base error: %v", err)
	}
}

func TestCachedLedger_SweepForwards(t *testing.T) {
	cached, err := NewCachedLedger(&stubLedger{swept: 4}, newTestLedgerCacheService(t))
	if err != nil {
		t.Fatalf("new cached ledger: %v", err)
	}
	removed, err := cached.Sweep(context.Background())
	if err != nil || removed != 4 {
		t.Fatalf("expected forwarded sweep, got %d %v", removed, err)
	}
	if _, err := NewCachedLedger(nil, newTestLedgerCacheService(t)); err == nil {
		t.Fatalf("expected nil base to fail")
	}
}

func newTestLedgerCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
