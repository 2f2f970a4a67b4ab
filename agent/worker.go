package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-gateway/adapters/gocommand"
	"github.com/goliatone/go-webhook-gateway/adapters/gojob"
	"github.com/goliatone/go-webhook-gateway/command"
	"github.com/goliatone/go-webhook-gateway/core"
)

const (
	DefaultRetryDelay  = 5 * time.Second
	DefaultIdleBackoff = time.Second
)

type RunFunc func(ctx context.Context, msg command.RunFollowUpMessage) error

// DispatchFollowUp sends the follow-up command through the go-command
// dispatcher.
func DispatchFollowUp(ctx context.Context, msg command.RunFollowUpMessage) error {
	return gocommand.Dispatch(ctx, msg)
}

// FollowUpWorker drains deferred replies from the job queue. Failed jobs are
// nacked with a linear backoff; the queue's retry policy decides when they
// are dead-lettered.
type FollowUpWorker struct {
	Queue       core.JobDequeuer
	Run         RunFunc
	Known       func(jobID string) bool
	RetryDelay  time.Duration
	IdleBackoff time.Duration
	Observer    *core.Observer
}

func NewFollowUpWorker(queue core.JobDequeuer, observer *core.Observer) *FollowUpWorker {
	return &FollowUpWorker{
		Queue:       queue,
		Run:         DispatchFollowUp,
		RetryDelay:  DefaultRetryDelay,
		IdleBackoff: DefaultIdleBackoff,
		Observer:    observer,
	}
}

// Start processes jobs until ctx is done or the queue is closed.
func (w *FollowUpWorker) Start(ctx context.Context) error {
	if w == nil || w.Queue == nil {
		return fmt.Errorf("agent: follow-up queue is required")
	}
	for {
		err := w.ProcessNext(ctx)
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil, errors.Is(err, gojob.ErrQueueClosed):
			return nil
		}
		w.Observer.Warn(ctx, "follow-up dequeue failed", map[string]any{"error": err.Error()})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.idleBackoff()):
		}
	}
}

// ProcessNext handles one job. Only dequeue and settle errors are returned;
// job failures are nacked and observed.
func (w *FollowUpWorker) ProcessNext(ctx context.Context) error {
	delivery, err := w.Queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	startedAt := time.Now()
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty job message"})
	}
	attempt := gojob.AttemptOf(msg.Parameters)
	fields := map[string]any{
		"job_id":  msg.JobID,
		"attempt": attempt,
	}

	if !w.known(msg.JobID) {
		runErr := fmt.Errorf("agent: unknown job %q", msg.JobID)
		w.Observer.Operation(ctx, startedAt, "follow_up", runErr, fields)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: runErr.Error()})
	}

	followUp := followUpMessage(msg.Parameters)
	fields["delivery_id"] = followUp.DeliveryID
	fields["issue_id"] = followUp.IssueID
	if err := followUp.Validate(); err != nil {
		w.Observer.Operation(ctx, startedAt, "follow_up", err, fields)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	runErr := w.run(ctx, followUp)
	w.Observer.Operation(ctx, startedAt, "follow_up", runErr, fields)
	if runErr != nil {
		return delivery.Nack(ctx, core.JobNackOptions{
			Requeue: true,
			Delay:   w.retryDelay() * time.Duration(attempt),
			Reason:  runErr.Error(),
		})
	}
	return delivery.Ack(ctx)
}

func (w *FollowUpWorker) run(ctx context.Context, msg command.RunFollowUpMessage) error {
	if w.Run == nil {
		return DispatchFollowUp(ctx, msg)
	}
	return w.Run(ctx, msg)
}

func (w *FollowUpWorker) known(jobID string) bool {
	if strings.TrimSpace(jobID) != gojob.JobIDFollowUp {
		return false
	}
	if w.Known == nil {
		return true
	}
	return w.Known(jobID)
}

func (w *FollowUpWorker) retryDelay() time.Duration {
	if w.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return w.RetryDelay
}

func (w *FollowUpWorker) idleBackoff() time.Duration {
	if w.IdleBackoff <= 0 {
		return DefaultIdleBackoff
	}
	return w.IdleBackoff
}

func followUpMessage(params map[string]any) command.RunFollowUpMessage {
	return command.RunFollowUpMessage{
		DeliveryID:   stringParam(params, "delivery_id"),
		IssueID:      stringParam(params, "issue_id"),
		AssigneeID:   stringParam(params, "assignee_id"),
		AssigneeName: stringParam(params, "assignee_name"),
		Title:        stringParam(params, "title"),
		Description:  stringParam(params, "description"),
	}
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}
