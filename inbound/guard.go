package inbound

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingress/core"
)

// Guard answers whether (thread_id, client_msg_id) has already been accepted.
// The unique index on the message table remains the final arbiter; Guard only
// short-circuits the common replay before any other work happens.
type Guard struct {
	Messages      core.MessageStore
	FailurePolicy string
	Observer      core.Observer
}

// Check returns the stored message and true when the key was seen before.
// Lookup failures follow FailurePolicy: fail_open logs and proceeds,
// fail_closed rejects the request.
func (g Guard) Check(ctx context.Context, threadID, clientMsgID string) (core.Message, bool, error) {
	if g.Messages == nil {
		return core.Message{}, false, inboundInternal("inbound: message store is required", nil)
	}
	existing, err := g.Messages.FindByClientMsgID(ctx, threadID, clientMsgID)
	if err == nil {
		return existing, true, nil
	}
	if errors.Is(err, core.ErrMessageNotFound) {
		return core.Message{}, false, nil
	}

	fields := map[string]any{
		"stage":         "dedup",
		"thread_id":     threadID,
		"client_msg_id": clientMsgID,
		"policy":        g.policy(),
		"error":         err.Error(),
	}
	if g.policy() == core.IdempotencyFailClosed {
		g.Observer.Error(ctx, "idempotency lookup failed, rejecting request", fields)
		return core.Message{}, false, inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"idempotency check unavailable",
			http.StatusInternalServerError,
			core.ErrorIdempotencyUnavailable,
			map[string]any{"thread_id": threadID, "client_msg_id": clientMsgID},
		)
	}
	g.Observer.Warn(ctx, "idempotency lookup failed, continuing", fields)
	return core.Message{}, false, nil
}

func (g Guard) policy() string {
	if strings.TrimSpace(g.FailurePolicy) == core.IdempotencyFailClosed {
		return core.IdempotencyFailClosed
	}
	return core.IdempotencyFailOpen
}
