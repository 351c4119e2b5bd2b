// Package command exposes the gateway's mutating operations as go-command
// commanders so they can be dispatched from HTTP handlers or a command bus.
package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-ingress/core"
)

type MessageAcceptor interface {
	Accept(ctx context.Context, in core.InboundRequest) (core.AcceptResult, error)
}

type CallbackCompleter interface {
	Complete(ctx context.Context, in core.InboundRequest) (core.CallbackOutcome, error)
}

type AcceptMessageCommand struct {
	service MessageAcceptor
}

func NewAcceptMessageCommand(service MessageAcceptor) *AcceptMessageCommand {
	return &AcceptMessageCommand{service: service}
}

func (c *AcceptMessageCommand) Execute(ctx context.Context, msg AcceptMessageMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: message acceptor is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Accept(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service CallbackCompleter
}

func NewCompleteCallbackCommand(service CallbackCompleter) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback completer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Complete(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
