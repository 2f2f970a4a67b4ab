package core

import (
	"encoding/json"
	"strings"
	"time"
)

type EventKind string

const (
	EventKindIssue      EventKind = "Issue"
	EventKindAssignment EventKind = "Assignment"
	EventKindComment    EventKind = "Comment"
	EventKindUnknown    EventKind = "Unknown"
)

// EventType is the closed set of event kinds the gateway routes, plus an
// Unknown variant that keeps the raw type string the sender used.
type EventType struct {
	Kind EventKind
	Raw  string
}

var (
	IssueEvent      = EventType{Kind: EventKindIssue, Raw: string(EventKindIssue)}
	AssignmentEvent = EventType{Kind: EventKindAssignment, Raw: string(EventKindAssignment)}
	CommentEvent    = EventType{Kind: EventKindComment, Raw: string(EventKindComment)}
)

func UnknownEvent(raw string) EventType {
	return EventType{Kind: EventKindUnknown, Raw: strings.TrimSpace(raw)}
}

// ParseEventType maps the envelope "type" field. Matching is case-insensitive;
// anything else becomes Unknown(raw).
func ParseEventType(raw string) EventType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "issue":
		return IssueEvent
	case "assignment":
		return AssignmentEvent
	case "comment":
		return CommentEvent
	default:
		return UnknownEvent(raw)
	}
}

func (t EventType) IsKnown() bool {
	switch t.Kind {
	case EventKindIssue, EventKindAssignment, EventKindComment:
		return true
	default:
		return false
	}
}

func (t EventType) String() string {
	if t.Kind == EventKindUnknown || t.Kind == "" {
		if t.Raw == "" {
			return string(EventKindUnknown)
		}
		return t.Raw
	}
	return string(t.Kind)
}

// Delivery is one inbound notification. It is immutable once received: the
// byte accessors hand out copies.
type Delivery struct {
	ID         string
	Type       EventType
	Action     string
	ReceivedAt time.Time
	Signature  string

	payload []byte
	data    json.RawMessage
}

func NewDelivery(id string, eventType EventType, action string, payload []byte, data json.RawMessage, receivedAt time.Time, signature string) Delivery {
	return Delivery{
		ID:         strings.TrimSpace(id),
		Type:       eventType,
		Action:     strings.TrimSpace(action),
		ReceivedAt: receivedAt.UTC(),
		Signature:  strings.TrimSpace(signature),
		payload:    append([]byte(nil), payload...),
		data:       append(json.RawMessage(nil), data...),
	}
}

// Payload returns the exact raw request body.
func (d Delivery) Payload() []byte {
	return append([]byte(nil), d.payload...)
}

// Data returns the envelope "data" object.
func (d Delivery) Data() json.RawMessage {
	return append(json.RawMessage(nil), d.data...)
}

type ProcessingStatus string

const (
	ProcessingStatusPending   ProcessingStatus = "pending"
	ProcessingStatusSucceeded ProcessingStatus = "succeeded"
	ProcessingStatusFailed    ProcessingStatus = "failed"
)

func (s ProcessingStatus) IsTerminal() bool {
	return s == ProcessingStatusSucceeded || s == ProcessingStatusFailed
}

type FailureReason string

const (
	FailureReasonNone             FailureReason = ""
	FailureReasonMalformedPayload FailureReason = "malformed_payload"
	FailureReasonHandlerFailure   FailureReason = "handler_failure"
	FailureReasonTimeout          FailureReason = "timeout"
)

// Retryable reports whether a failed record may be re-admitted when the
// sender redelivers. Malformed payloads stay failed for good.
func (r FailureReason) Retryable() bool {
	return r == FailureReasonHandlerFailure || r == FailureReasonTimeout
}

const (
	ResultStatusProcessed        = "processed"
	ResultStatusIgnored          = "ignored"
	ResultStatusCommentProcessed = "comment_processed"
	ResultStatusFailed           = "failed"
	ResultStatusMalformed        = "malformed_payload"
	ResultStatusTimeout          = "timeout"
)

type HandlerResult struct {
	Status string         `json:"status"`
	Fields map[string]any `json:"fields,omitempty"`
}

func NewHandlerResult(status string, fields map[string]any) HandlerResult {
	return HandlerResult{Status: strings.TrimSpace(status), Fields: cloneFields(fields)}
}

func IgnoredResult(eventType EventType) HandlerResult {
	return NewHandlerResult(ResultStatusIgnored, map[string]any{"type": eventType.String()})
}

// Map flattens the result into the acknowledgment shape: the status tag next
// to the handler fields.
func (r HandlerResult) Map() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for key, value := range r.Fields {
		out[key] = value
	}
	out["status"] = r.Status
	return out
}

func (r HandlerResult) Clone() HandlerResult {
	return HandlerResult{Status: r.Status, Fields: cloneFields(r.Fields)}
}

type ProcessingRecord struct {
	DeliveryID  string           `json:"delivery_id"`
	EventType   string           `json:"event_type,omitempty"`
	Status      ProcessingStatus `json:"status"`
	Reason      FailureReason    `json:"reason,omitempty"`
	Result      HandlerResult    `json:"result"`
	Attempts    int              `json:"attempts"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func (r ProcessingRecord) Clone() ProcessingRecord {
	out := r
	out.Result = r.Result.Clone()
	if r.CompletedAt != nil {
		value := *r.CompletedAt
		out.CompletedAt = &value
	}
	return out
}

// Expired reports whether a completed record is past its retention window.
func (r ProcessingRecord) Expired(now time.Time, retention time.Duration) bool {
	if !r.Status.IsTerminal() || r.CompletedAt == nil || retention <= 0 {
		return false
	}
	return !now.Before(r.CompletedAt.Add(retention))
}

type AdmitOutcome string

const (
	AdmitFirstSeen         AdmitOutcome = "first_seen"
	AdmitAlreadyProcessing AdmitOutcome = "already_processing"
	AdmitAlreadyCompleted  AdmitOutcome = "already_completed"
)

type AdmitDecision struct {
	Outcome AdmitOutcome
	Record  ProcessingRecord
}

func FirstSeen(record ProcessingRecord) AdmitDecision {
	return AdmitDecision{Outcome: AdmitFirstSeen, Record: record}
}

func AlreadyProcessing(record ProcessingRecord) AdmitDecision {
	return AdmitDecision{Outcome: AdmitAlreadyProcessing, Record: record}
}

func AlreadyCompleted(record ProcessingRecord) AdmitDecision {
	return AdmitDecision{Outcome: AdmitAlreadyCompleted, Record: record}
}

type Completion struct {
	Status ProcessingStatus
	Reason FailureReason
	Result HandlerResult
}

// InboundRequest is the transport-neutral view of one HTTP delivery.
type InboundRequest struct {
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
	Metadata   map[string]any
}

type Acknowledgment struct {
	StatusCode int            `json:"-"`
	Status     string         `json:"status"`
	DeliveryID string         `json:"deliveryId,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}
