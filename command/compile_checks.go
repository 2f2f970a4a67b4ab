package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[PostCommentMessage] = (*PostCommentCommand)(nil)
	_ gocmd.Commander[RunFollowUpMessage] = (*RunFollowUpCommand)(nil)
)
