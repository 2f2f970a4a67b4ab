package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type deliveryRecord struct {
	bun.BaseModel `bun:"table:gateway_delivery_records,alias:gdr"`

	ID           string         `bun:"id,pk"`
	DeliveryID   string         `bun:"delivery_id,notnull"`
	EventType    string         `bun:"event_type,notnull"`
	Status       string         `bun:"status,notnull"`
	Reason       string         `bun:"reason,notnull"`
	ResultStatus string         `bun:"result_status,notnull"`
	ResultFields map[string]any `bun:"result_fields,type:jsonb,notnull"`
	Attempts     int            `bun:"attempts,notnull"`
	Version      int            `bun:"version,notnull"`
	CreatedAt    time.Time      `bun:"created_at,notnull"`
	UpdatedAt    time.Time      `bun:"updated_at,notnull"`
	CompletedAt  *time.Time     `bun:"completed_at,nullzero"`
}

func newDeliveryRecord(deliveryID string, eventType core.EventType, now time.Time) *deliveryRecord {
	return &deliveryRecord{
		ID:           uuid.NewString(),
		DeliveryID:   deliveryID,
		EventType:    eventType.String(),
		Status:       string(core.ProcessingStatusPending),
		ResultFields: map[string]any{},
		Attempts:     1,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *deliveryRecord) toDomain() core.ProcessingRecord {
	if r == nil {
		return core.ProcessingRecord{}
	}
	out := core.ProcessingRecord{
		DeliveryID: r.DeliveryID,
		EventType:  r.EventType,
		Status:     core.ProcessingStatus(strings.TrimSpace(r.Status)),
		Reason:     core.FailureReason(strings.TrimSpace(r.Reason)),
		Attempts:   r.Attempts,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.ResultStatus != "" || len(r.ResultFields) > 0 {
		out.Result = core.NewHandlerResult(r.ResultStatus, r.ResultFields)
	}
	if r.CompletedAt != nil {
		completedAt := r.CompletedAt.UTC()
		out.CompletedAt = &completedAt
	}
	return out
}

// apply copies the mutable ledger state of a domain record onto the row.
func (r *deliveryRecord) apply(record core.ProcessingRecord, now time.Time) {
	r.EventType = record.EventType
	r.Status = string(record.Status)
	r.Reason = string(record.Reason)
	r.ResultStatus = record.Result.Status
	r.ResultFields = record.Result.Clone().Fields
	if r.ResultFields == nil {
		r.ResultFields = map[string]any{}
	}
	r.Attempts = record.Attempts
	r.CreatedAt = record.CreatedAt
	r.CompletedAt = record.CompletedAt
	r.UpdatedAt = now
}
