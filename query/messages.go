package query

import (
	"strings"

	"github.com/goliatone/go-ingress/core"
)

const TypeGetMessage = "ingress.query.message.get"

// GetMessageMessage asks for a stored message. Request carries the caller's
// credentials; the signature scheme signs an empty body.
type GetMessageMessage struct {
	Request   core.InboundRequest
	MessageID string
}

func (GetMessageMessage) Type() string { return TypeGetMessage }

func (m GetMessageMessage) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return queryValidationError("message_id", "message id is required")
	}
	return nil
}
