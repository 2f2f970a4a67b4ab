package command

import (
	"strings"
)

const (
	TypePostComment = "gateway.command.comment.post"
	TypeRunFollowUp = "gateway.command.follow_up.run"
)

// maxCommentBytes mirrors the tracker's comment body limit.
const maxCommentBytes = 64 * 1024

type PostCommentMessage struct {
	IssueID string
	Body    string
}

func (PostCommentMessage) Type() string { return TypePostComment }

func (m PostCommentMessage) Validate() error {
	if strings.TrimSpace(m.IssueID) == "" {
		return commandValidationError("issue_id", "issue id is required")
	}
	if strings.TrimSpace(m.Body) == "" {
		return commandValidationError("body", "comment body is required")
	}
	if len(m.Body) > maxCommentBytes {
		return commandValidationError("body", "comment body is too large")
	}
	return nil
}

// RunFollowUpMessage asks the agent to draft and post a reply for an
// assignment that was deferred to the job queue.
type RunFollowUpMessage struct {
	DeliveryID   string
	IssueID      string
	AssigneeID   string
	AssigneeName string
	Title        string
	Description  string
}

func (RunFollowUpMessage) Type() string { return TypeRunFollowUp }

func (m RunFollowUpMessage) Validate() error {
	if strings.TrimSpace(m.IssueID) == "" {
		return commandValidationError("issue_id", "issue id is required")
	}
	if strings.TrimSpace(m.DeliveryID) == "" {
		return commandValidationError("delivery_id", "delivery id is required")
	}
	return nil
}
