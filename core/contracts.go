package core

import (
	"context"
	"encoding/json"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// Verifier authenticates an inbound request before any state is touched.
type Verifier interface {
	Verify(ctx context.Context, req InboundRequest) error
}

// Ledger owns the ProcessingRecord table. Admit must be atomic per delivery
// id: exactly one concurrent caller observes FirstSeen.
type Ledger interface {
	Admit(ctx context.Context, deliveryID string, eventType EventType) (AdmitDecision, error)
	Complete(ctx context.Context, deliveryID string, completion Completion) (ProcessingRecord, error)
	Get(ctx context.Context, deliveryID string) (ProcessingRecord, error)
}

// Sweeper is implemented by ledgers that evict expired records on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type EventHandler interface {
	Handle(ctx context.Context, delivery Delivery) (HandlerResult, error)
}

type EventHandlerFunc func(ctx context.Context, delivery Delivery) (HandlerResult, error)

func (f EventHandlerFunc) Handle(ctx context.Context, delivery Delivery) (HandlerResult, error) {
	return f(ctx, delivery)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, delivery Delivery) (HandlerResult, error)
}

// GraphQLClient is the issue-tracker API capability.
type GraphQLClient interface {
	Request(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
}

// CompletionClient is the AI completion capability.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OutcomePublisher receives every completed ProcessingRecord.
type OutcomePublisher interface {
	Publish(ctx context.Context, record ProcessingRecord) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

// JobDequeuer blocks until a job is available or ctx is done.
type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}
