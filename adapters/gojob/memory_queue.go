package gojob

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const DefaultMemoryQueueCapacity = 256

var (
	ErrQueueClosed = errors.New("gojob: queue is closed")
	ErrQueueFull   = errors.New("gojob: queue is full")
)

type DeadLetter struct {
	Message *job.ExecutionMessage
	Reason  string
}

// MemoryQueue is a process-local go-job queue. Messages with the drop dedup
// policy are discarded while another message with the same idempotency key is
// queued or in flight.
type MemoryQueue struct {
	ready  chan *job.ExecutionMessage
	closed chan struct{}

	mu     sync.Mutex
	keys   map[string]struct{}
	dead   []DeadLetter
	timers map[*time.Timer]struct{}
	once   sync.Once
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultMemoryQueueCapacity
	}
	return &MemoryQueue{
		ready:  make(chan *job.ExecutionMessage, capacity),
		closed: make(chan struct{}),
		keys:   map[string]struct{}{},
		timers: map[*time.Timer]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return errors.New("gojob: execution message is required")
	}
	if q.isClosed() {
		return ErrQueueClosed
	}
	key := dedupKey(msg)
	if key != "" {
		q.mu.Lock()
		if _, exists := q.keys[key]; exists {
			q.mu.Unlock()
			return nil
		}
		q.keys[key] = struct{}{}
		q.mu.Unlock()
	}
	if err := q.push(msg); err != nil {
		q.release(msg)
		return err
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return nil, ErrQueueClosed
	case msg := <-q.ready:
		return &memoryDelivery{queue: q, msg: msg}, nil
	}
}

// DeadLetters returns the messages that exhausted their retries.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		close(q.closed)
		q.mu.Lock()
		for timer := range q.timers {
			timer.Stop()
		}
		q.timers = map[*time.Timer]struct{}{}
		q.mu.Unlock()
	})
	return nil
}

func (q *MemoryQueue) push(msg *job.ExecutionMessage) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	case q.ready <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) requeue(msg *job.ExecutionMessage, delay time.Duration) error {
	next := NextAttempt(msg)
	if delay <= 0 {
		return q.push(next)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isClosed() {
		return ErrQueueClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		if err := q.push(next); err != nil {
			q.deadLetter(next, err.Error())
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *MemoryQueue) deadLetter(msg *job.ExecutionMessage, reason string) {
	q.mu.Lock()
	q.dead = append(q.dead, DeadLetter{Message: msg, Reason: strings.TrimSpace(reason)})
	q.mu.Unlock()
	q.release(msg)
}

func (q *MemoryQueue) release(msg *job.ExecutionMessage) {
	key := dedupKey(msg)
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.keys, key)
	q.mu.Unlock()
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func dedupKey(msg *job.ExecutionMessage) string {
	if msg == nil || strings.TrimSpace(string(msg.DedupPolicy)) != DedupPolicyDrop {
		return ""
	}
	return strings.TrimSpace(msg.IdempotencyKey)
}

type memoryDelivery struct {
	queue   *MemoryQueue
	msg     *job.ExecutionMessage
	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	if !d.settle() {
		return errors.New("gojob: delivery already settled")
	}
	d.queue.release(d.msg)
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if !d.settle() {
		return errors.New("gojob: delivery already settled")
	}
	if opts.DeadLetter || !opts.Requeue {
		d.queue.deadLetter(d.msg, opts.Reason)
		return nil
	}
	if err := d.queue.requeue(d.msg, opts.Delay); err != nil {
		d.queue.deadLetter(d.msg, err.Error())
		return err
	}
	return nil
}

func (d *memoryDelivery) settle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	return true
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
