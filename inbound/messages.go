package inbound

import (
	"context"
	"errors"

	"github.com/goliatone/go-ingress/core"
)

// MessageReader serves authenticated status lookups of stored messages.
type MessageReader struct {
	Verifier core.Verifier
	Messages core.MessageStore
}

func (r MessageReader) Get(ctx context.Context, in core.InboundRequest, messageID string) (core.Message, error) {
	if r.Verifier == nil || r.Messages == nil {
		return core.Message{}, inboundInternal("inbound: message reader is not configured", nil)
	}
	if _, err := r.Verifier.Verify(ctx, in); err != nil {
		return core.Message{}, inboundUnauthenticated(err)
	}
	id, err := core.NormalizeIdentifier("message_id", messageID)
	if err != nil {
		return core.Message{}, inboundBadInput(identifierMessage(err), map[string]any{"field": "message_id"})
	}
	msg, err := r.Messages.GetMessage(ctx, id)
	if errors.Is(err, core.ErrMessageNotFound) {
		return core.Message{}, messageNotFound(id)
	}
	if err != nil {
		return core.Message{}, passThrough(err, "load")
	}
	return msg, nil
}
