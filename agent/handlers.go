package agent

import (
	"context"
	"errors"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhook-gateway/adapters/gocommand"
	"github.com/goliatone/go-webhook-gateway/adapters/gojob"
	"github.com/goliatone/go-webhook-gateway/command"
	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/goliatone/go-webhook-gateway/inbound"
	"github.com/goliatone/go-webhook-gateway/query"
)

const followUpScriptPath = "gateway.agent.follow_up"

type DraftFunc func(ctx context.Context, msg query.DraftReplyMessage) (string, error)

type PostFunc func(ctx context.Context, msg command.PostCommentMessage) (core.LinearComment, error)

// DispatchDraft sends the draft query through the go-command dispatcher.
func DispatchDraft(ctx context.Context, msg query.DraftReplyMessage) (string, error) {
	return gocommand.Query[query.DraftReplyMessage, string](ctx, msg)
}

// DispatchPost sends the post command through the go-command dispatcher and
// collects the created comment.
func DispatchPost(ctx context.Context, msg command.PostCommentMessage) (core.LinearComment, error) {
	collector := gocmd.NewResult[core.LinearComment]()
	if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return core.LinearComment{}, err
	}
	comment, ok := collector.Load()
	if !ok {
		return core.LinearComment{}, core.HandlerFailure(
			errors.New("agent: post comment command stored no result"),
			map[string]any{"issue_id": msg.IssueID},
		)
	}
	return comment, nil
}

// Replier drafts a reply with the completion model and posts it on the issue.
type Replier struct {
	Draft DraftFunc
	Post  PostFunc
}

func NewReplier() *Replier {
	return &Replier{Draft: DispatchDraft, Post: DispatchPost}
}

func (r *Replier) RunFollowUp(ctx context.Context, msg command.RunFollowUpMessage) (core.LinearComment, error) {
	if r == nil || r.Draft == nil || r.Post == nil {
		return core.LinearComment{}, core.Internal("agent: replier is not configured", nil)
	}
	reply, err := r.Draft(ctx, query.DraftReplyMessage{
		IssueID:      msg.IssueID,
		Title:        msg.Title,
		Description:  msg.Description,
		AssigneeName: msg.AssigneeName,
	})
	if err != nil {
		return core.LinearComment{}, err
	}
	return r.Post(ctx, command.PostCommentMessage{IssueID: msg.IssueID, Body: reply})
}

// Handlers implements the Issue, Assignment and Comment event handlers.
type Handlers struct {
	AutoReply bool
	Replier   command.FollowUpRunner
	// FollowUps defers auto replies to the job queue when set.
	FollowUps core.JobEnqueuer
	Now       core.Clock
}

func NewHandlers(cfg core.AgentConfig, replier command.FollowUpRunner, followUps core.JobEnqueuer) *Handlers {
	h := &Handlers{
		AutoReply: cfg.AutoReply,
		Replier:   replier,
		Now:       core.SystemClock,
	}
	if cfg.EnqueueFollowUp {
		h.FollowUps = followUps
	}
	return h
}

type Registrar interface {
	Register(eventType core.EventType, handler core.EventHandler) error
}

func Register(registrar Registrar, h *Handlers) error {
	if registrar == nil || h == nil {
		return core.Internal("agent: registrar and handlers are required", nil)
	}
	if err := registrar.Register(core.AssignmentEvent, inbound.Typed(h.Assignment)); err != nil {
		return err
	}
	if err := registrar.Register(core.IssueEvent, inbound.Typed(h.Issue)); err != nil {
		return err
	}
	return registrar.Register(core.CommentEvent, inbound.Typed(h.Comment))
}

func (h *Handlers) Assignment(ctx context.Context, delivery core.Delivery, data core.AssignmentData) (core.HandlerResult, error) {
	fields := map[string]any{
		"assignee_id": data.AssigneeID,
		"issue_id":    data.IssueID,
		"timestamp":   h.timestamp(),
	}
	if !h.AutoReply {
		return core.NewHandlerResult(core.ResultStatusProcessed, fields), nil
	}

	msg := command.RunFollowUpMessage{
		DeliveryID: delivery.ID,
		IssueID:    data.IssueID,
		AssigneeID: data.AssigneeID,
	}
	metadata := map[string]any{"delivery_id": delivery.ID, "issue_id": data.IssueID}
	if h.FollowUps != nil {
		if err := h.FollowUps.Enqueue(ctx, followUpJob(msg)); err != nil {
			return core.HandlerResult{}, core.HandlerFailure(err, metadata)
		}
		fields["follow_up"] = "queued"
		return core.NewHandlerResult(core.ResultStatusProcessed, fields), nil
	}
	if h.Replier == nil {
		return core.HandlerResult{}, core.HandlerFailure(errors.New("agent: replier is not configured"), metadata)
	}
	comment, err := h.Replier.RunFollowUp(ctx, msg)
	if err != nil {
		return core.HandlerResult{}, core.HandlerFailure(err, metadata)
	}
	fields["comment_id"] = comment.ID
	return core.NewHandlerResult(core.ResultStatusProcessed, fields), nil
}

func (h *Handlers) Issue(_ context.Context, _ core.Delivery, data core.IssueData) (core.HandlerResult, error) {
	return core.NewHandlerResult(core.ResultStatusProcessed, map[string]any{
		"issue_id":  data.ID,
		"timestamp": h.timestamp(),
	}), nil
}

func (h *Handlers) Comment(_ context.Context, _ core.Delivery, data core.CommentData) (core.HandlerResult, error) {
	return core.NewHandlerResult(core.ResultStatusCommentProcessed, map[string]any{
		"comment_id": data.ID,
		"issue_id":   data.IssueID,
	}), nil
}

func (h *Handlers) timestamp() string {
	now := core.SystemClock
	if h != nil && h.Now != nil {
		now = h.Now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

func followUpJob(msg command.RunFollowUpMessage) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      gojob.JobIDFollowUp,
		ScriptPath: followUpScriptPath,
		Parameters: map[string]any{
			"delivery_id": msg.DeliveryID,
			"issue_id":    msg.IssueID,
			"assignee_id": msg.AssigneeID,
		},
		IdempotencyKey: msg.DeliveryID,
		DedupPolicy:    gojob.DedupPolicyDrop,
	}
}
