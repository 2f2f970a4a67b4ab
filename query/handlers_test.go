package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-gateway/core"
)

func TestDraftReplyQuery_BuildsPromptAndTrimsReply(t *testing.T) {
	client := &stubCompletion{reply: "  Thanks, starting on this today.\n"}
	q := NewDraftReplyQuery(client)

	reply, err := q.Query(context.Background(), DraftReplyMessage{
		IssueID:      "i1",
		Title:        "Fix login redirect",
		Description:  "Users land on a blank page.",
		AssigneeName: "Agent",
	})
	if err != nil {
		t.Fatalf("draft reply: %v", err)
	}
	if reply != "Thanks, starting on this today." {
		t.Fatalf("unexpected reply %q", reply)
	}
	for _, want := range []string{"Issue: Fix login redirect", "Assignee: Agent", "Users land on a blank page."} {
		if !strings.Contains(client.prompt, want) {
			t.Fatalf("expected prompt to contain %q, got %q", want, client.prompt)
		}
	}
}

func TestDraftReplyQuery_FallsBackToIssueID(t *testing.T) {
	prompt := ReplyPrompt(DraftReplyMessage{IssueID: "i42"})
	if !strings.Contains(prompt, "Issue: i42") {
		t.Fatalf("expected issue id fallback, got %q", prompt)
	}
	if strings.Contains(prompt, "Assignee:") || strings.Contains(prompt, "Description:") {
		t.Fatalf("expected optional sections to be omitted, got %q", prompt)
	}
}

func TestDraftReplyQuery_EmptyReplyIsExternalFailure(t *testing.T) {
	q := NewDraftReplyQuery(&stubCompletion{reply: "   "})
	_, err := q.Query(context.Background(), DraftReplyMessage{IssueID: "i1"})
	if !core.HasTextCode(err, core.ErrorExternalFailure) {
		t.Fatalf("expected external failure, got %v", err)
	}
}

func TestDraftReplyQuery_PropagatesClientError(t *testing.T) {
	q := NewDraftReplyQuery(&stubCompletion{err: errors.New("rate limited")})
	if _, err := q.Query(context.Background(), DraftReplyMessage{IssueID: "i1"}); err == nil {
		t.Fatalf("expected client error")
	}
}

func TestListTeamIssuesQuery_DelegatesToReader(t *testing.T) {
	reader := &stubIssues{issues: []core.LinearIssue{{ID: "i1", Title: "One"}}}
	out, err := NewListTeamIssuesQuery(reader).Query(context.Background(), ListTeamIssuesMessage{TeamID: " team_1 "})
	if err != nil {
		t.Fatalf("list team issues: %v", err)
	}
	if reader.teamID != "team_1" {
		t.Fatalf("expected trimmed team id, got %q", reader.teamID)
	}
	if len(out) != 1 || out[0].ID != "i1" {
		t.Fatalf("unexpected issues: %#v", out)
	}
}

func TestQueries_ValidateReturnsRichError(t *testing.T) {
	_, err := NewListTeamIssuesQuery(&stubIssues{}).Query(context.Background(), ListTeamIssuesMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 || validation[0].Field != "team_id" {
		t.Fatalf("expected team_id validation field, got %#v", validation)
	}
}

func TestQueries_NilDependencyReturnsRichError(t *testing.T) {
	var q *DraftReplyQuery
	_, err := q.Query(context.Background(), DraftReplyMessage{IssueID: "i1"})
	if !core.HasTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected internal dependency error, got %v", err)
	}
}

type stubCompletion struct {
	prompt string
	reply  string
	err    error
}

func (s *stubCompletion) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

type stubIssues struct {
	teamID string
	issues []core.LinearIssue
}

func (s *stubIssues) TeamIssues(_ context.Context, teamID string) ([]core.LinearIssue, error) {
	s.teamID = teamID
	return s.issues, nil
}
