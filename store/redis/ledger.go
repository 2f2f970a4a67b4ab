package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/goliatone/go-webhook-gateway/inbound"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultNamespace  = "webhook-gateway"
	defaultMaxRetries = 8
)

type Options struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	Timeout   time.Duration
}

// OptionsFromConfig maps the ledger config onto Redis client options.
func OptionsFromConfig(cfg core.LedgerConfig) Options {
	return Options{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  5 * time.Second,
	}
}

func NewClient(o Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
}

// Ledger stores one JSON document per delivery. Every transition runs inside
// WATCH/MULTI so concurrent admits of the same id see exactly one winner.
// Completed records carry a Redis TTL equal to the retention window.
type Ledger struct {
	rdb       redis.UniversalClient
	namespace string

	Retention  time.Duration
	StaleAfter time.Duration
	MaxRetries int
	Now        core.Clock
}

func NewLedger(rdb redis.UniversalClient, namespace string) (*Ledger, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Ledger{
		rdb:        rdb,
		namespace:  namespace,
		Retention:  inbound.DefaultRetention,
		MaxRetries: defaultMaxRetries,
		Now:        core.SystemClock,
	}, nil
}

func (l *Ledger) Key(deliveryID string) string {
	return l.namespace + ":delivery:" + deliveryID
}

func (l *Ledger) Admit(ctx context.Context, deliveryID string, eventType core.EventType) (core.AdmitDecision, error) {
	if l == nil || l.rdb == nil {
		return core.AdmitDecision{}, fmt.Errorf("redisstore: ledger is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return core.AdmitDecision{}, core.BadInput("redisstore: delivery id is required", nil)
	}
	key := l.Key(deliveryID)

	var decision core.AdmitDecision
	err := l.transact(ctx, key, func(tx *redis.Tx) error {
		now := l.now()
		current, found, err := l.read(ctx, tx, key)
		if err != nil {
			return err
		}

		var next core.ProcessingRecord
		switch {
		case !found || current.Expired(now, l.retention()):
			next = core.ProcessingRecord{
				DeliveryID: deliveryID,
				EventType:  eventType.String(),
				Status:     core.ProcessingStatusPending,
				Attempts:   1,
				CreatedAt:  now,
			}
		case inbound.ReadmitOutcome(current, now, l.StaleAfter) == core.AdmitFirstSeen:
			next = inbound.Readmit(current, eventType, now)
		default:
			decision = inbound.DecisionFor(current)
			return nil
		}

		if err := l.write(ctx, tx, key, next, 0); err != nil {
			return err
		}
		decision = core.FirstSeen(next.Clone())
		return nil
	})
	if err != nil {
		return core.AdmitDecision{}, err
	}
	return decision, nil
}

func (l *Ledger) Complete(ctx context.Context, deliveryID string, completion core.Completion) (core.ProcessingRecord, error) {
	if l == nil || l.rdb == nil {
		return core.ProcessingRecord{}, fmt.Errorf("redisstore: ledger is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if err := inbound.ValidateCompletion(deliveryID, completion); err != nil {
		return core.ProcessingRecord{}, err
	}
	key := l.Key(deliveryID)

	var completed core.ProcessingRecord
	err := l.transact(ctx, key, func(tx *redis.Tx) error {
		current, found, err := l.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if !found {
			return notFound(deliveryID)
		}
		if current.Status != core.ProcessingStatusPending {
			return core.NewError("redisstore: delivery already completed", goerrors.CategoryConflict, http.StatusConflict, core.ErrorConflict, map[string]any{
				"delivery_id": deliveryID,
				"status":      string(current.Status),
			})
		}
		completed = inbound.ApplyCompletion(current, completion, l.now())
		return l.write(ctx, tx, key, completed, l.retention())
	})
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	return completed.Clone(), nil
}

func (l *Ledger) Get(ctx context.Context, deliveryID string) (core.ProcessingRecord, error) {
	if l == nil || l.rdb == nil {
		return core.ProcessingRecord{}, fmt.Errorf("redisstore: ledger is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	record, found, err := l.read(ctx, l.rdb, l.Key(deliveryID))
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	if !found || record.Expired(l.now(), l.retention()) {
		return core.ProcessingRecord{}, notFound(deliveryID)
	}
	return record, nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("redisstore: ledger is not configured")
	}
	return l.rdb.Ping(ctx).Err()
}

// transact retries fn while a concurrent writer invalidates the WATCH.
func (l *Ledger) transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	attempts := l.MaxRetries
	if attempts <= 0 {
		attempts = defaultMaxRetries
	}
	for i := 0; i < attempts; i++ {
		err := l.rdb.Watch(ctx, fn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var rich *goerrors.Error
		if goerrors.As(err, &rich) {
			return err
		}
		return core.WrapError(err, goerrors.CategoryExternal, "redisstore: ledger transaction failed", http.StatusBadGateway, core.ErrorExternalFailure, map[string]any{
			"key": key,
		})
	}
	return core.NewError("redisstore: ledger contention exceeded retries", goerrors.CategoryConflict, http.StatusConflict, core.ErrorConflict, map[string]any{
		"key": key,
	})
}

func (l *Ledger) read(ctx context.Context, cmd redis.Cmdable, key string) (core.ProcessingRecord, bool, error) {
	raw, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.ProcessingRecord{}, false, nil
	}
	if err != nil {
		return core.ProcessingRecord{}, false, err
	}
	var record core.ProcessingRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return core.ProcessingRecord{}, false, core.Internal("redisstore: corrupt delivery record", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
	return record, true, nil
}

func (l *Ledger) write(ctx context.Context, tx *redis.Tx, key string, record core.ProcessingRecord, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, ttl)
		return nil
	})
	return err
}

// retention doubles as the key TTL; zero writes keys without expiry.
func (l *Ledger) retention() time.Duration {
	if l == nil {
		return 0
	}
	return max(l.Retention, 0)
}

func (l *Ledger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func notFound(deliveryID string) error {
	return core.NotFound("redisstore: no record for delivery", map[string]any{"delivery_id": deliveryID})
}

var _ core.Ledger = (*Ledger)(nil)
