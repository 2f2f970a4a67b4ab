package query

import (
	"strings"
)

const (
	TypeDraftReply     = "gateway.query.reply.draft"
	TypeListTeamIssues = "gateway.query.team_issues.list"
)

// DraftReplyMessage carries the issue context the completion prompt is built
// from.
type DraftReplyMessage struct {
	IssueID      string
	Title        string
	Description  string
	AssigneeName string
}

func (DraftReplyMessage) Type() string { return TypeDraftReply }

func (m DraftReplyMessage) Validate() error {
	if strings.TrimSpace(m.IssueID) == "" {
		return queryValidationError("issue_id", "issue id is required")
	}
	return nil
}

type ListTeamIssuesMessage struct {
	TeamID string
}

func (ListTeamIssuesMessage) Type() string { return TypeListTeamIssues }

func (m ListTeamIssuesMessage) Validate() error {
	if strings.TrimSpace(m.TeamID) == "" {
		return queryValidationError("team_id", "team id is required")
	}
	return nil
}
