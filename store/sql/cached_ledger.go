package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhook-gateway/core"
)

const deliveryCacheKeyPrefix = "go-webhook-gateway::delivery::v1"

// CachedLedger serves Get from a read-through cache and invalidates the
// entry whenever Admit or Complete touches the delivery.
type CachedLedger struct {
	base  core.Ledger
	cache repositorycache.CacheService
}

func NewCachedLedger(base core.Ledger, cacheService repositorycache.CacheService) (*CachedLedger, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base ledger is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: ledger cache service is required")
	}
	return &CachedLedger{base: base, cache: cacheService}, nil
}

// DeliveryCacheKey returns go-webhook-gateway::delivery::v1::<delivery_id>
// with the id URL-path escaped.
func DeliveryCacheKey(deliveryID string) (string, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return "", core.BadInput("sqlstore: delivery id is required", nil)
	}
	return strings.Join([]string{deliveryCacheKeyPrefix, url.PathEscape(deliveryID)}, "::"), nil
}

func (l *CachedLedger) Admit(ctx context.Context, deliveryID string, eventType core.EventType) (core.AdmitDecision, error) {
	if l == nil || l.base == nil || l.cache == nil {
		return core.AdmitDecision{}, fmt.Errorf("sqlstore: cached ledger is not configured")
	}
	decision, err := l.base.Admit(ctx, deliveryID, eventType)
	if err != nil {
		return core.AdmitDecision{}, err
	}
	if decision.Outcome == core.AdmitFirstSeen {
		if err := l.invalidate(ctx, deliveryID); err != nil {
			return core.AdmitDecision{}, err
		}
	}
	return decision, nil
}

func (l *CachedLedger) Complete(ctx context.Context, deliveryID string, completion core.Completion) (core.ProcessingRecord, error) {
	if l == nil || l.base == nil || l.cache == nil {
		return core.ProcessingRecord{}, fmt.Errorf("sqlstore: cached ledger is not configured")
	}
	record, err := l.base.Complete(ctx, deliveryID, completion)
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	if err := l.invalidate(ctx, deliveryID); err != nil {
		return core.ProcessingRecord{}, err
	}
	return record, nil
}

func (l *CachedLedger) Get(ctx context.Context, deliveryID string) (core.ProcessingRecord, error) {
	if l == nil || l.base == nil || l.cache == nil {
		return core.ProcessingRecord{}, fmt.Errorf("sqlstore: cached ledger is not configured")
	}
	cacheKey, err := DeliveryCacheKey(deliveryID)
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	record, err := repositorycache.GetOrFetch(ctx, l.cache, cacheKey, func(ctx context.Context) (core.ProcessingRecord, error) {
		fetched, fetchErr := l.base.Get(ctx, strings.TrimSpace(deliveryID))
		if fetchErr != nil {
			return core.ProcessingRecord{}, fetchErr
		}
		return fetched.Clone(), nil
	})
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	return record.Clone(), nil
}

// Sweep forwards to the base ledger when it supports eviction.
func (l *CachedLedger) Sweep(ctx context.Context) (int, error) {
	if l == nil || l.base == nil {
		return 0, nil
	}
	sweeper, ok := l.base.(core.Sweeper)
	if !ok {
		return 0, nil
	}
	return sweeper.Sweep(ctx)
}

func (l *CachedLedger) invalidate(ctx context.Context, deliveryID string) error {
	cacheKey, err := DeliveryCacheKey(deliveryID)
	if err != nil {
		return err
	}
	return l.cache.Delete(ctx, cacheKey)
}
