package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-webhook-gateway/adapters/gocommand"
	"github.com/goliatone/go-webhook-gateway/adapters/gojob"
	gwcommand "github.com/goliatone/go-webhook-gateway/command"
	"github.com/goliatone/go-webhook-gateway/core"
)

func newQueuePair(policy gojob.RetryPolicy) (*gojob.MemoryQueue, *gojob.EnqueuerAdapter, *gojob.DequeuerAdapter) {
	memoryQueue := gojob.NewMemoryQueue(8)
	return memoryQueue, gojob.NewEnqueuerAdapter(memoryQueue), gojob.NewDequeuerAdapter(memoryQueue, policy)
}

func TestFollowUpWorker_RunsQueuedFollowUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	memoryQueue, enqueuer, dequeuer := newQueuePair(gojob.RetryPolicy{MaxAttempts: 3})
	defer memoryQueue.Close()

	h := NewHandlers(core.AgentConfig{AutoReply: true, EnqueueFollowUp: true}, nil, enqueuer)
	if _, err := h.Assignment(ctx, newDelivery("d1", core.AssignmentEvent, `{}`), core.AssignmentData{AssigneeID: "u1", IssueID: "i1"}); err != nil {
		t.Fatalf("assignment: %v", err)
	}

	var got []gwcommand.RunFollowUpMessage
	worker := NewFollowUpWorker(dequeuer, nil)
	worker.Run = func(_ context.Context, msg gwcommand.RunFollowUpMessage) error {
		got = append(got, msg)
		return nil
	}
	if err := worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if len(got) != 1 || got[0].DeliveryID != "d1" || got[0].IssueID != "i1" || got[0].AssigneeID != "u1" {
		t.Fatalf("unexpected follow-ups: %#v", got)
	}
	if len(memoryQueue.DeadLetters()) != 0 {
		t.Fatalf("expected no dead letters")
	}
}

func TestFollowUpWorker_RetriesThenDeadLetters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	memoryQueue, enqueuer, dequeuer := newQueuePair(gojob.RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true})
	defer memoryQueue.Close()

	if err := enqueuer.Enqueue(ctx, followUpJob(gwcommand.RunFollowUpMessage{DeliveryID: "d1", IssueID: "i1"})); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	attempts := 0
	worker := NewFollowUpWorker(dequeuer, nil)
	worker.RetryDelay = time.Millisecond
	worker.Run = func(context.Context, gwcommand.RunFollowUpMessage) error {
		attempts++
		return errors.New("tracker unavailable")
	}
	for i := 0; i < 2; i++ {
		if err := worker.ProcessNext(ctx); err != nil {
			t.Fatalf("process attempt %d: %v", i+1, err)
		}
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	dead := memoryQueue.DeadLetters()
	if len(dead) != 1 || dead[0].Reason != "tracker unavailable" {
		t.Fatalf("expected one dead letter, got %#v", dead)
	}
}

func TestFollowUpWorker_DeadLettersUnknownAndInvalidJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	memoryQueue, enqueuer, dequeuer := newQueuePair(gojob.RetryPolicy{})
	defer memoryQueue.Close()

	if err := enqueuer.Enqueue(ctx, &core.JobExecutionMessage{JobID: "gateway.command.unknown"}); err != nil {
		t.Fatalf("enqueue unknown: %v", err)
	}
	if err := enqueuer.Enqueue(ctx, &core.JobExecutionMessage{JobID: gojob.JobIDFollowUp, Parameters: map[string]any{"issue_id": "i1"}}); err != nil {
		t.Fatalf("enqueue invalid: %v", err)
	}

	runs := 0
	worker := NewFollowUpWorker(dequeuer, nil)
	worker.Run = func(context.Context, gwcommand.RunFollowUpMessage) error {
		runs++
		return nil
	}
	for i := 0; i < 2; i++ {
		if err := worker.ProcessNext(ctx); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if runs != 0 {
		t.Fatalf("expected no runs for rejected jobs, got %d", runs)
	}
	if got := len(memoryQueue.DeadLetters()); got != 2 {
		t.Fatalf("expected 2 dead letters, got %d", got)
	}
}

func TestFollowUpWorker_StartDispatchesThroughBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	memoryQueue, enqueuer, dequeuer := newQueuePair(gojob.RetryPolicy{MaxAttempts: 3})

	queueRegistry := jobqueuecommand.NewRegistry()
	bus := gocommand.NewBus(gocommand.NewRegistryAdapter(command.NewRegistry()))
	defer bus.Close()
	if err := bus.Registry().AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}

	runner := &signalRunner{done: make(chan struct{})}
	if err := gocommand.RegisterCommand(bus, gwcommand.NewRunFollowUpCommand(runner)); err != nil {
		t.Fatalf("register follow-up: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize bus: %v", err)
	}

	worker := NewFollowUpWorker(dequeuer, nil)
	worker.Known = func(jobID string) bool {
		_, ok := queueRegistry.Get(jobID)
		return ok
	}
	stopped := make(chan error, 1)
	go func() { stopped <- worker.Start(ctx) }()

	if err := enqueuer.Enqueue(ctx, followUpJob(gwcommand.RunFollowUpMessage{DeliveryID: "d1", IssueID: "i1"})); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-runner.done:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for follow-up")
	}

	_ = memoryQueue.Close()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("worker did not stop after queue close")
	}
	if runner.last.IssueID != "i1" {
		t.Fatalf("unexpected follow-up message: %#v", runner.last)
	}
}

type signalRunner struct {
	once sync.Once
	done chan struct{}
	last gwcommand.RunFollowUpMessage
}

func (s *signalRunner) RunFollowUp(_ context.Context, msg gwcommand.RunFollowUpMessage) (core.LinearComment, error) {
	s.last = msg
	s.once.Do(func() { close(s.done) })
	return core.LinearComment{ID: "c1"}, nil
}
