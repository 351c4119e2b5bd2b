package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-ingress/core"
)

var _ gocmd.Querier[GetMessageMessage, core.Message] = (*GetMessageQuery)(nil)
