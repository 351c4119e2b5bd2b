// Package query exposes the gateway's read operations as go-command queriers.
package query

import (
	"context"

	"github.com/goliatone/go-ingress/core"
)

type MessageGetter interface {
	Get(ctx context.Context, in core.InboundRequest, messageID string) (core.Message, error)
}

type GetMessageQuery struct {
	reader MessageGetter
}

func NewGetMessageQuery(reader MessageGetter) *GetMessageQuery {
	return &GetMessageQuery{reader: reader}
}

func (q *GetMessageQuery) Query(ctx context.Context, msg GetMessageMessage) (core.Message, error) {
	if q == nil || q.reader == nil {
		return core.Message{}, queryDependencyError("query: message reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Message{}, err
	}
	return q.reader.Get(ctx, msg.Request, msg.MessageID)
}
