package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	ingress "github.com/goliatone/go-ingress"
	ingresscommand "github.com/goliatone/go-ingress/command"
	"github.com/goliatone/go-ingress/core"
	ingressquery "github.com/goliatone/go-ingress/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Subscriptions groups the dispatcher subscriptions created for a gateway.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterGateway registers the gateway commands and queries on adapter and
// subscribes them on the go-command dispatcher, so in-process callers can
// use Dispatch and Query with the ingress message types. The dispatcher is
// process wide: unsubscribe before registering another gateway.
func RegisterGateway(adapter *RegistryAdapter, gateway *ingress.Gateway) (Subscriptions, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gocommand: gateway is required")
	}
	commands := gateway.Commands()
	queries := gateway.Queries()
	if commands.AcceptMessage == nil || commands.CompleteCallback == nil || queries.GetMessage == nil {
		return nil, fmt.Errorf("gocommand: gateway handlers are not configured")
	}

	var subs Subscriptions
	accept, err := RegisterAndSubscribe[ingresscommand.AcceptMessageMessage](adapter, commands.AcceptMessage)
	if err != nil {
		return nil, err
	}
	subs = append(subs, accept)

	complete, err := RegisterAndSubscribe[ingresscommand.CompleteCallbackMessage](adapter, commands.CompleteCallback)
	if err != nil {
		subs.Unsubscribe()
		return nil, err
	}
	subs = append(subs, complete)

	get, err := RegisterAndSubscribeQuery[ingressquery.GetMessageMessage, core.Message](adapter, queries.GetMessage)
	if err != nil {
		subs.Unsubscribe()
		return nil, err
	}
	subs = append(subs, get)
	return subs, nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}
