package inbound

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-webhook-gateway/core"
)

// DefaultRetention is the retention a ledger starts with when none is given.
const DefaultRetention = 24 * time.Hour

// MemoryLedger is the in-process ProcessingRecord table. One mutex guards the
// whole map, which makes Admit an atomic compare-and-insert per delivery id.
type MemoryLedger struct {
	// Retention is the TTL measured from completion. Zero keeps records.
	Retention time.Duration
	// StaleAfter re-admits a pending record older than this. Zero disables it.
	StaleAfter time.Duration
	Now        core.Clock

	mu      sync.Mutex
	records map[string]core.ProcessingRecord
}

func NewMemoryLedger(retention time.Duration) *MemoryLedger {
	return &MemoryLedger{
		Retention: retention,
		Now:       core.SystemClock,
		records:   map[string]core.ProcessingRecord{},
	}
}

func (l *MemoryLedger) Admit(_ context.Context, deliveryID string, eventType core.EventType) (core.AdmitDecision, error) {
	if l == nil {
		return core.AdmitDecision{}, inboundInternal("inbound: ledger is nil", nil)
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return core.AdmitDecision{}, inboundBadInput("inbound: delivery id is required", nil)
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked()

	record, exists := l.records[deliveryID]
	if exists && record.Expired(now, l.retention()) {
		delete(l.records, deliveryID)
		exists = false
	}
	if !exists {
		record = core.ProcessingRecord{
			DeliveryID: deliveryID,
			EventType:  eventType.String(),
			Status:     core.ProcessingStatusPending,
			Attempts:   1,
			CreatedAt:  now,
		}
		l.records[deliveryID] = record
		return core.FirstSeen(record.Clone()), nil
	}

	if ReadmitOutcome(record, now, l.StaleAfter) != core.AdmitFirstSeen {
		return DecisionFor(record), nil
	}
	record = Readmit(record, eventType, now)
	l.records[deliveryID] = record
	return core.FirstSeen(record.Clone()), nil
}

func (l *MemoryLedger) Complete(_ context.Context, deliveryID string, completion core.Completion) (core.ProcessingRecord, error) {
	if l == nil {
		return core.ProcessingRecord{}, inboundInternal("inbound: ledger is nil", nil)
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if err := ValidateCompletion(deliveryID, completion); err != nil {
		return core.ProcessingRecord{}, err
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked()

	record, exists := l.records[deliveryID]
	if !exists {
		return core.ProcessingRecord{}, inboundNotFound("inbound: no record for delivery", map[string]any{
			"delivery_id": deliveryID,
		})
	}
	if record.Status != core.ProcessingStatusPending {
		return core.ProcessingRecord{}, inboundConflict("inbound: delivery already completed", map[string]any{
			"delivery_id": deliveryID,
			"status":      string(record.Status),
		})
	}
	record = ApplyCompletion(record, completion, now)
	l.records[deliveryID] = record
	return record.Clone(), nil
}

func (l *MemoryLedger) Get(_ context.Context, deliveryID string) (core.ProcessingRecord, error) {
	if l == nil {
		return core.ProcessingRecord{}, inboundInternal("inbound: ledger is nil", nil)
	}
	deliveryID = strings.TrimSpace(deliveryID)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked()
	record, exists := l.records[deliveryID]
	if !exists || record.Expired(now, l.retention()) {
		return core.ProcessingRecord{}, inboundNotFound("inbound: no record for delivery", map[string]any{
			"delivery_id": deliveryID,
		})
	}
	return record.Clone(), nil
}

// Sweep evicts completed records whose retention window has elapsed and
// returns how many were removed.
func (l *MemoryLedger) Sweep(context.Context) (int, error) {
	if l == nil {
		return 0, nil
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, record := range l.records {
		if record.Expired(now, l.retention()) {
			delete(l.records, id)
			removed++
		}
	}
	return removed, nil
}

// List returns unexpired records, newest first. An empty status matches all.
func (l *MemoryLedger) List(_ context.Context, status core.ProcessingStatus, limit int) ([]core.ProcessingRecord, error) {
	if l == nil {
		return nil, inboundInternal("inbound: ledger is nil", nil)
	}
	now := l.now()
	l.mu.Lock()
	out := make([]core.ProcessingRecord, 0, len(l.records))
	for _, record := range l.records {
		if record.Expired(now, l.retention()) {
			continue
		}
		if status != "" && record.Status != status {
			continue
		}
		out = append(out, record.Clone())
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DeliveryID < out[j].DeliveryID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *MemoryLedger) ensureLocked() {
	if l.records == nil {
		l.records = map[string]core.ProcessingRecord{}
	}
}

func (l *MemoryLedger) retention() time.Duration {
	if l == nil {
		return 0
	}
	return max(l.Retention, 0)
}

func (l *MemoryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// ReadmitOutcome decides what an existing, unexpired record means for a new
// admit of the same delivery id. Storage backends share it so the state
// machine stays identical across them.
func ReadmitOutcome(record core.ProcessingRecord, now time.Time, staleAfter time.Duration) core.AdmitOutcome {
	switch record.Status {
	case core.ProcessingStatusPending:
		if staleAfter > 0 && !now.Before(record.CreatedAt.Add(staleAfter)) {
			return core.AdmitFirstSeen
		}
		return core.AdmitAlreadyProcessing
	case core.ProcessingStatusFailed:
		if record.Reason.Retryable() {
			return core.AdmitFirstSeen
		}
		return core.AdmitAlreadyCompleted
	default:
		return core.AdmitAlreadyCompleted
	}
}

// Readmit resets a record to pending for another attempt.
func Readmit(record core.ProcessingRecord, eventType core.EventType, now time.Time) core.ProcessingRecord {
	record.Status = core.ProcessingStatusPending
	record.Reason = core.FailureReasonNone
	record.Result = core.HandlerResult{}
	record.CompletedAt = nil
	record.CreatedAt = now
	record.Attempts++
	if eventType.String() != "" {
		record.EventType = eventType.String()
	}
	return record
}

// ApplyCompletion moves a pending record to its terminal state.
func ApplyCompletion(record core.ProcessingRecord, completion core.Completion, now time.Time) core.ProcessingRecord {
	completedAt := now
	record.Status = completion.Status
	record.Reason = completion.Reason
	record.Result = completion.Result.Clone()
	record.CompletedAt = &completedAt
	return record
}

// ValidateCompletion checks a completion before any backend applies it.
func ValidateCompletion(deliveryID string, completion core.Completion) error {
	if deliveryID == "" {
		return inboundBadInput("inbound: delivery id is required", nil)
	}
	if !completion.Status.IsTerminal() {
		return inboundBadInput("inbound: completion status must be succeeded or failed", map[string]any{
			"delivery_id": deliveryID,
			"status":      string(completion.Status),
		})
	}
	if completion.Status == core.ProcessingStatusFailed && completion.Reason == core.FailureReasonNone {
		return inboundBadInput("inbound: failed completion requires a reason", map[string]any{
			"delivery_id": deliveryID,
		})
	}
	return nil
}

// DecisionFor maps an existing record that is not being re-admitted.
func DecisionFor(record core.ProcessingRecord) core.AdmitDecision {
	if record.Status == core.ProcessingStatusPending {
		return core.AlreadyProcessing(record.Clone())
	}
	return core.AlreadyCompleted(record.Clone())
}
