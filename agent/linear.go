package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhook-gateway/core"
)

const teamIssuesQuery = `query GetTeamIssues($teamId: String!) {
  team(id: $teamId) {
    issues {
      nodes {
        id
        title
        description
        state { name }
        assignee { id name email }
        createdAt
        updatedAt
      }
    }
  }
}`

const createCommentMutation = `mutation CreateComment($issueId: String!, $body: String!) {
  commentCreate(input: { issueId: $issueId, body: $body }) {
    success
    comment { id body createdAt }
  }
}`

// LinearClient issues the tracker queries and mutations the agent needs over
// a GraphQL collaborator.
type LinearClient struct {
	client core.GraphQLClient
}

func NewLinearClient(client core.GraphQLClient) *LinearClient {
	return &LinearClient{client: client}
}

func (c *LinearClient) TeamIssues(ctx context.Context, teamID string) ([]core.LinearIssue, error) {
	if c == nil || c.client == nil {
		return nil, core.Internal("agent: graphql client is required", nil)
	}
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return nil, core.BadInput("agent: team id is required", nil)
	}
	data, err := c.client.Request(ctx, teamIssuesQuery, map[string]any{"teamId": teamID})
	if err != nil {
		return nil, err
	}
	var out struct {
		Team *struct {
			Issues struct {
				Nodes []core.LinearIssue `json:"nodes"`
			} `json:"issues"`
		} `json:"team"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, core.ExternalFailure(err, "agent: decode team issues", map[string]any{"team_id": teamID})
	}
	if out.Team == nil {
		return nil, core.NotFound(fmt.Sprintf("agent: team %q not found", teamID), map[string]any{"team_id": teamID})
	}
	return out.Team.Issues.Nodes, nil
}

func (c *LinearClient) CreateComment(ctx context.Context, issueID string, body string) (core.LinearComment, error) {
	if c == nil || c.client == nil {
		return core.LinearComment{}, core.Internal("agent: graphql client is required", nil)
	}
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return core.LinearComment{}, core.BadInput("agent: issue id is required", nil)
	}
	data, err := c.client.Request(ctx, createCommentMutation, map[string]any{
		"issueId": issueID,
		"body":    body,
	})
	if err != nil {
		return core.LinearComment{}, err
	}
	var out struct {
		CommentCreate struct {
			Success bool               `json:"success"`
			Comment core.LinearComment `json:"comment"`
		} `json:"commentCreate"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return core.LinearComment{}, core.ExternalFailure(err, "agent: decode comment", map[string]any{"issue_id": issueID})
	}
	if !out.CommentCreate.Success {
		return core.LinearComment{}, core.ExternalFailure(nil, "agent: comment was not created", map[string]any{"issue_id": issueID})
	}
	return out.CommentCreate.Comment, nil
}

var _ core.IssueTracker = (*LinearClient)(nil)
