package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[AcceptMessageMessage]    = (*AcceptMessageCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage] = (*CompleteCallbackCommand)(nil)
)
