package core

import (
	"context"
	"time"
)

type LinearUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type LinearIssueState struct {
	Name string `json:"name"`
}

type LinearIssue struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	State       LinearIssueState `json:"state"`
	Assignee    *LinearUser      `json:"assignee,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type LinearComment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// IssueTracker is the slice of the Linear API the agent handlers use.
type IssueTracker interface {
	TeamIssues(ctx context.Context, teamID string) ([]LinearIssue, error)
	CreateComment(ctx context.Context, issueID string, body string) (LinearComment, error)
}
