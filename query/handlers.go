package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhook-gateway/core"
)

type TeamIssuesReader interface {
	TeamIssues(ctx context.Context, teamID string) ([]core.LinearIssue, error)
}

type DraftReplyQuery struct {
	client core.CompletionClient
}

func NewDraftReplyQuery(client core.CompletionClient) *DraftReplyQuery {
	return &DraftReplyQuery{client: client}
}

func (q *DraftReplyQuery) Query(ctx context.Context, msg DraftReplyMessage) (string, error) {
	if q == nil || q.client == nil {
		return "", queryDependencyError("query: completion client is required")
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	reply, err := q.client.Complete(ctx, ReplyPrompt(msg))
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", core.ExternalFailure(nil, "query: completion returned an empty reply", map[string]any{
			"issue_id": msg.IssueID,
		})
	}
	return reply, nil
}

// ReplyPrompt renders the single user message sent to the completion model.
func ReplyPrompt(msg DraftReplyMessage) string {
	var b strings.Builder
	b.WriteString("You are an engineering agent that was just assigned an issue tracker ticket.\n")
	b.WriteString("Write a short, friendly comment acknowledging the assignment and outlining a first step.\n\n")
	fmt.Fprintf(&b, "Issue: %s\n", firstNonEmpty(msg.Title, msg.IssueID))
	if name := strings.TrimSpace(msg.AssigneeName); name != "" {
		fmt.Fprintf(&b, "Assignee: %s\n", name)
	}
	if description := strings.TrimSpace(msg.Description); description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", description)
	}
	return b.String()
}

type ListTeamIssuesQuery struct {
	reader TeamIssuesReader
}

func NewListTeamIssuesQuery(reader TeamIssuesReader) *ListTeamIssuesQuery {
	return &ListTeamIssuesQuery{reader: reader}
}

func (q *ListTeamIssuesQuery) Query(ctx context.Context, msg ListTeamIssuesMessage) ([]core.LinearIssue, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: team issues reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.TeamIssues(ctx, strings.TrimSpace(msg.TeamID))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
