package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

func TestMemoryQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	defer q.Close()

	if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: JobIDFollowUp, IdempotencyKey: "d1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery.Message().JobID != JobIDFollowUp {
		t.Fatalf("unexpected message: %#v", delivery.Message())
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := delivery.Ack(ctx); err == nil {
		t.Fatalf("expected second settle to fail")
	}
}

func TestMemoryQueue_DropPolicyDiscardsDuplicatesUntilAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	defer q.Close()

	msg := &job.ExecutionMessage{JobID: JobIDFollowUp, IdempotencyKey: "d1", DedupPolicy: DedupPolicyDrop}
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, msg); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if len(q.ready) != 1 {
		t.Fatalf("expected one queued message, got %d", len(q.ready))
	}

	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue after ack: %v", err)
	}
	if len(q.ready) != 1 {
		t.Fatalf("expected key to be released after ack")
	}
}

func TestMemoryQueue_RequeueIncrementsAttempt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q := NewMemoryQueue(4)
	defer q.Close()

	if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: JobIDFollowUp}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := first.Nack(ctx, queue.NackOptions{Requeue: true, Delay: 5 * time.Millisecond}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue requeued: %v", err)
	}
	if got := AttemptOf(second.Message().Parameters); got != 2 {
		t.Fatalf("expected attempt 2, got %d", got)
	}
}

func TestMemoryQueue_DeadLetter(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	defer q.Close()

	if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: JobIDFollowUp}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: " exhausted "}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].Reason != "exhausted" {
		t.Fatalf("unexpected dead letters: %#v", dead)
	}
}

func TestMemoryQueue_FullAndClosed(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)

	if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	_ = q.Close()
	if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: "c"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrQueueClosed) && err != nil {
		t.Fatalf("unexpected dequeue error: %v", err)
	}
}
