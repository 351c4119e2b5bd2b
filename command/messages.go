package command

import (
	"bytes"

	"github.com/goliatone/go-ingress/core"
)

const (
	TypeAcceptMessage    = "ingress.command.message.accept"
	TypeCompleteCallback = "ingress.command.callback.complete"
)

// AcceptMessageMessage carries a raw inbound webhook delivery. Authentication
// runs inside the command so the body must be passed through untouched.
type AcceptMessageMessage struct {
	Request core.InboundRequest
}

func (AcceptMessageMessage) Type() string { return TypeAcceptMessage }

func (m AcceptMessageMessage) Validate() error {
	return validateBody(m.Request)
}

type CompleteCallbackMessage struct {
	Request core.InboundRequest
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	return validateBody(m.Request)
}

func validateBody(req core.InboundRequest) error {
	if len(bytes.TrimSpace(req.Body)) == 0 {
		return commandValidationError("body", "request body is required")
	}
	return nil
}
