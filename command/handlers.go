package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhook-gateway/core"
)

type CommentPoster interface {
	CreateComment(ctx context.Context, issueID string, body string) (core.LinearComment, error)
}

type FollowUpRunner interface {
	RunFollowUp(ctx context.Context, msg RunFollowUpMessage) (core.LinearComment, error)
}

type PostCommentCommand struct {
	poster CommentPoster
}

func NewPostCommentCommand(poster CommentPoster) *PostCommentCommand {
	return &PostCommentCommand{poster: poster}
}

func (c *PostCommentCommand) Execute(ctx context.Context, msg PostCommentMessage) error {
	if c == nil || c.poster == nil {
		return commandDependencyError("command: comment poster is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.poster.CreateComment(ctx, msg.IssueID, msg.Body)
	if err != nil {
		return commandExternalError(err, "command: post comment failed")
	}
	storeResult(ctx, out)
	return nil
}

type RunFollowUpCommand struct {
	runner FollowUpRunner
}

func NewRunFollowUpCommand(runner FollowUpRunner) *RunFollowUpCommand {
	return &RunFollowUpCommand{runner: runner}
}

func (c *RunFollowUpCommand) Execute(ctx context.Context, msg RunFollowUpMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: follow-up runner is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.runner.RunFollowUp(ctx, msg)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
