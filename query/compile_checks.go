package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhook-gateway/core"
)

var (
	_ gocmd.Querier[DraftReplyMessage, string]                 = (*DraftReplyQuery)(nil)
	_ gocmd.Querier[ListTeamIssuesMessage, []core.LinearIssue] = (*ListTeamIssuesQuery)(nil)
)
