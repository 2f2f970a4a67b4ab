package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/goliatone/go-webhook-gateway/inbound"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
)

// DeliveryLedger keeps ProcessingRecords in the gateway_delivery_records
// table. Inserts race on the unique delivery_id index and every transition
// after that is a compare-and-set on the row version.
type DeliveryLedger struct {
	db   *bun.DB
	repo repository.Repository[*deliveryRecord]

	Retention  time.Duration
	StaleAfter time.Duration
	Now        core.Clock
}

func NewDeliveryLedger(db *bun.DB) (*DeliveryLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	return &DeliveryLedger{
		db:        db,
		repo:      repo,
		Retention: inbound.DefaultRetention,
		Now:       core.SystemClock,
	}, nil
}

func (l *DeliveryLedger) Admit(ctx context.Context, deliveryID string, eventType core.EventType) (core.AdmitDecision, error) {
	if l == nil || l.db == nil {
		return core.AdmitDecision{}, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return core.AdmitDecision{}, core.BadInput("sqlstore: delivery id is required", nil)
	}
	now := l.now()

	record := newDeliveryRecord(deliveryID, eventType, now)
	if _, err := l.db.NewInsert().Model(record).Exec(ctx); err == nil {
		return core.FirstSeen(record.toDomain()), nil
	} else if !isUniqueViolation(err) {
		return core.AdmitDecision{}, storeFailure(err, "sqlstore: insert delivery record", map[string]any{
			"delivery_id": deliveryID,
		})
	}

	existing, err := l.load(ctx, deliveryID)
	if err != nil {
		return core.AdmitDecision{}, err
	}
	current := existing.toDomain()

	var next core.ProcessingRecord
	switch {
	case current.Expired(now, l.retention()):
		next = newDeliveryRecord(deliveryID, eventType, now).toDomain()
	case inbound.ReadmitOutcome(current, now, l.StaleAfter) == core.AdmitFirstSeen:
		next = inbound.Readmit(current, eventType, now)
	default:
		return inbound.DecisionFor(current), nil
	}

	won, err := l.swap(ctx, existing, next, now)
	if err != nil {
		return core.AdmitDecision{}, err
	}
	if won {
		return core.FirstSeen(next.Clone()), nil
	}

	// Lost the race to a concurrent admit; report whatever it left behind.
	latest, err := l.load(ctx, deliveryID)
	if err != nil {
		return core.AdmitDecision{}, err
	}
	return inbound.DecisionFor(latest.toDomain()), nil
}

func (l *DeliveryLedger) Complete(ctx context.Context, deliveryID string, completion core.Completion) (core.ProcessingRecord, error) {
	if l == nil || l.db == nil {
		return core.ProcessingRecord{}, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if err := inbound.ValidateCompletion(deliveryID, completion); err != nil {
		return core.ProcessingRecord{}, err
	}
	now := l.now()

	existing, err := l.load(ctx, deliveryID)
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	current := existing.toDomain()
	if current.Status != core.ProcessingStatusPending {
		return core.ProcessingRecord{}, storeConflict("sqlstore: delivery already completed", map[string]any{
			"delivery_id": deliveryID,
			"status":      string(current.Status),
		})
	}

	next := inbound.ApplyCompletion(current, completion, now)
	won, err := l.swap(ctx, existing, next, now)
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	if !won {
		return core.ProcessingRecord{}, storeConflict("sqlstore: delivery changed during completion", map[string]any{
			"delivery_id": deliveryID,
		})
	}
	return next.Clone(), nil
}

func (l *DeliveryLedger) Get(ctx context.Context, deliveryID string) (core.ProcessingRecord, error) {
	if l == nil || l.db == nil {
		return core.ProcessingRecord{}, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	existing, err := l.load(ctx, deliveryID)
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	record := existing.toDomain()
	if record.Expired(l.now(), l.retention()) {
		return core.ProcessingRecord{}, storeNotFound(deliveryID)
	}
	return record, nil
}

// List returns the most recently admitted records, newest first.
func (l *DeliveryLedger) List(ctx context.Context, status core.ProcessingStatus, limit int) ([]core.ProcessingRecord, error) {
	if l == nil || l.repo == nil {
		return nil, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if trimmed := strings.TrimSpace(string(status)); trimmed != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", trimmed))
	}
	records, _, err := l.repo.List(ctx, selectors...)
	if err != nil {
		return nil, storeFailure(err, "sqlstore: list delivery records", nil)
	}
	out := make([]core.ProcessingRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Sweep deletes completed records older than the retention window. With no
// retention nothing is removed.
func (l *DeliveryLedger) Sweep(ctx context.Context) (int, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	if l.retention() == 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-l.retention())
	res, err := l.db.NewDelete().
		Model((*deliveryRecord)(nil)).
		Where("status IN (?)", bun.In([]string{
			string(core.ProcessingStatusSucceeded),
			string(core.ProcessingStatusFailed),
		})).
		Where("completed_at IS NOT NULL").
		Where("completed_at <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, storeFailure(err, "sqlstore: sweep delivery records", nil)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeFailure(err, "sqlstore: sweep rows affected", nil)
	}
	return int(affected), nil
}

func (l *DeliveryLedger) load(ctx context.Context, deliveryID string) (*deliveryRecord, error) {
	record := &deliveryRecord{}
	err := l.db.NewSelect().
		Model(record).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storeNotFound(deliveryID)
		}
		return nil, storeFailure(err, "sqlstore: load delivery record", map[string]any{
			"delivery_id": deliveryID,
		})
	}
	return record, nil
}

// swap writes next over the row only if nobody else moved its version.
func (l *DeliveryLedger) swap(ctx context.Context, existing *deliveryRecord, next core.ProcessingRecord, now time.Time) (bool, error) {
	row := *existing
	row.apply(next, now)
	res, err := l.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("event_type = ?", row.EventType).
		Set("status = ?", row.Status).
		Set("reason = ?", row.Reason).
		Set("result_status = ?", row.ResultStatus).
		Set("result_fields = ?", row.ResultFields).
		Set("attempts = ?", row.Attempts).
		Set("version = ?", existing.Version+1).
		Set("created_at = ?", row.CreatedAt).
		Set("completed_at = ?", row.CompletedAt).
		Set("updated_at = ?", row.UpdatedAt).
		Where("delivery_id = ?", existing.DeliveryID).
		Where("version = ?", existing.Version).
		Exec(ctx)
	if err != nil {
		return false, storeFailure(err, "sqlstore: update delivery record", map[string]any{
			"delivery_id": existing.DeliveryID,
		})
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeFailure(err, "sqlstore: update rows affected", map[string]any{
			"delivery_id": existing.DeliveryID,
		})
	}
	return affected == 1, nil
}

func (l *DeliveryLedger) retention() time.Duration {
	if l == nil {
		return 0
	}
	return max(l.Retention, 0)
}

func (l *DeliveryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// isUniqueViolation reports a duplicate delivery_id insert on postgres
// (SQLSTATE 23505) or sqlite.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
