package kafkaevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-webhook-gateway/adapters/gojob"
	"github.com/goliatone/go-webhook-gateway/core"
	kgo "github.com/segmentio/kafka-go"
)

const headerDeadLetterReason = "dead_letter_reason"

type jobEnvelope struct {
	JobID          string         `json:"job_id"`
	ScriptPath     string         `json:"script_path,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	DedupPolicy    string         `json:"dedup_policy,omitempty"`
	NotBefore      *time.Time     `json:"not_before,omitempty"`
}

// JobQueue carries go-job execution messages over a Kafka topic. Offsets
// are committed only once a delivery is settled. A delayed retry is written
// back to the topic with a not_before mark and the consumer holds it until
// then.
type JobQueue struct {
	writer     MessageWriter
	reader     MessageReader
	deadLetter MessageWriter
	timeout    time.Duration

	Observer *core.Observer
	Now      core.Clock
}

func NewJobQueue(writer MessageWriter, reader MessageReader) (*JobQueue, error) {
	if writer == nil || reader == nil {
		return nil, fmt.Errorf("kafkaevents: job queue writer and reader are required")
	}
	return &JobQueue{
		writer:  writer,
		reader:  reader,
		timeout: DefaultWriteTimeout,
		Now:     core.SystemClock,
	}, nil
}

// WithDeadLetter routes dead-lettered jobs to a separate topic writer.
func (q *JobQueue) WithDeadLetter(writer MessageWriter) *JobQueue {
	q.deadLetter = writer
	return q
}

func (q *JobQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return errors.New("kafkaevents: execution message is required")
	}
	return q.write(ctx, q.writer, envelopeFor(msg, nil), nil)
}

func (q *JobQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		m, err := q.reader.FetchMessage(ctx)
		if err != nil {
			return nil, err
		}
		var envelope jobEnvelope
		if err := json.Unmarshal(m.Value, &envelope); err != nil || strings.TrimSpace(envelope.JobID) == "" {
			q.Observer.Warn(ctx, "discarding undecodable job message", map[string]any{
				"partition": m.Partition,
				"offset":    m.Offset,
			})
			if commitErr := q.commit(ctx, m); commitErr != nil {
				return nil, commitErr
			}
			continue
		}
		if err := q.hold(ctx, envelope.NotBefore); err != nil {
			return nil, err
		}
		return &kafkaDelivery{queue: q, raw: m, msg: envelope.message()}, nil
	}
}

func (q *JobQueue) Close() error {
	var errs []error
	if q.reader != nil {
		errs = append(errs, q.reader.Close())
	}
	if q.writer != nil {
		errs = append(errs, q.writer.Close())
	}
	if q.deadLetter != nil {
		errs = append(errs, q.deadLetter.Close())
	}
	return errors.Join(errs...)
}

func (q *JobQueue) hold(ctx context.Context, notBefore *time.Time) error {
	if notBefore == nil {
		return nil
	}
	wait := notBefore.Sub(q.now())
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (q *JobQueue) write(ctx context.Context, writer MessageWriter, envelope jobEnvelope, headers []kgo.Header) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	key := envelope.IdempotencyKey
	if key == "" {
		key = envelope.JobID
	}
	wctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return writer.WriteMessages(wctx, kgo.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    q.now(),
		Headers: headers,
	})
}

func (q *JobQueue) commit(ctx context.Context, m kgo.Message) error {
	cctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return q.reader.CommitMessages(cctx, m)
}

func (q *JobQueue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

type kafkaDelivery struct {
	queue   *JobQueue
	raw     kgo.Message
	msg     *job.ExecutionMessage
	mu      sync.Mutex
	settled bool
}

func (d *kafkaDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	if !d.settle() {
		return errors.New("kafkaevents: delivery already settled")
	}
	return d.queue.commit(ctx, d.raw)
}

func (d *kafkaDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if !d.settle() {
		return errors.New("kafkaevents: delivery already settled")
	}
	if opts.DeadLetter || !opts.Requeue {
		if err := d.deadLetter(ctx, opts.Reason); err != nil {
			return err
		}
		return d.queue.commit(ctx, d.raw)
	}

	var notBefore *time.Time
	if opts.Delay > 0 {
		at := d.queue.now().Add(opts.Delay)
		notBefore = &at
	}
	if err := d.queue.write(ctx, d.queue.writer, envelopeFor(gojob.NextAttempt(d.msg), notBefore), nil); err != nil {
		return err
	}
	return d.queue.commit(ctx, d.raw)
}

func (d *kafkaDelivery) deadLetter(ctx context.Context, reason string) error {
	reason = strings.TrimSpace(reason)
	d.queue.Observer.Warn(ctx, "job dead-lettered", map[string]any{
		"job_id":  d.msg.JobID,
		"reason":  reason,
		"attempt": gojob.AttemptOf(d.msg.Parameters),
	})
	if d.queue.deadLetter == nil {
		return nil
	}
	return d.queue.write(ctx, d.queue.deadLetter, envelopeFor(d.msg, nil), []kgo.Header{
		{Key: headerDeadLetterReason, Value: []byte(reason)},
	})
}

func (d *kafkaDelivery) settle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	return true
}

func envelopeFor(msg *job.ExecutionMessage, notBefore *time.Time) jobEnvelope {
	return jobEnvelope{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     msg.ScriptPath,
		Parameters:     msg.Parameters,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    string(msg.DedupPolicy),
		NotBefore:      notBefore,
	}
}

func (e jobEnvelope) message() *job.ExecutionMessage {
	params := e.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return &job.ExecutionMessage{
		JobID:          e.JobID,
		ScriptPath:     e.ScriptPath,
		Parameters:     params,
		IdempotencyKey: e.IdempotencyKey,
		DedupPolicy:    job.DeduplicationPolicy(e.DedupPolicy),
	}
}

var (
	_ queue.Enqueuer = (*JobQueue)(nil)
	_ queue.Dequeuer = (*JobQueue)(nil)
	_ queue.Delivery = (*kafkaDelivery)(nil)
)
