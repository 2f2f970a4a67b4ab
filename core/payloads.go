package core

import (
	"fmt"
	"strings"
)

// AssignmentData is the "data" object of an Assignment delivery.
type AssignmentData struct {
	ID         string `json:"id,omitempty"`
	AssigneeID string `json:"assigneeId"`
	IssueID    string `json:"issueId"`
	TeamID     string `json:"teamId,omitempty"`
}

func (d AssignmentData) Validate() error {
	if strings.TrimSpace(d.AssigneeID) == "" {
		return fmt.Errorf("assignment: assigneeId is required")
	}
	if strings.TrimSpace(d.IssueID) == "" {
		return fmt.Errorf("assignment: issueId is required")
	}
	return nil
}

type IssueState struct {
	Name string `json:"name"`
}

type IssueData struct {
	ID          string      `json:"id"`
	Identifier  string      `json:"identifier,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	TeamID      string      `json:"teamId,omitempty"`
	AssigneeID  string      `json:"assigneeId,omitempty"`
	State       *IssueState `json:"state,omitempty"`
}

func (d IssueData) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("issue: id is required")
	}
	return nil
}

type CommentData struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	IssueID string `json:"issueId"`
	UserID  string `json:"userId,omitempty"`
}

func (d CommentData) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("comment: id is required")
	}
	if strings.TrimSpace(d.IssueID) == "" {
		return fmt.Errorf("comment: issueId is required")
	}
	return nil
}
