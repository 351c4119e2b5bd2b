package ingress

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-ingress/auth"
	ingresscommand "github.com/goliatone/go-ingress/command"
	"github.com/goliatone/go-ingress/core"
	"github.com/goliatone/go-ingress/forwarder"
	"github.com/goliatone/go-ingress/inbound"
	ingressquery "github.com/goliatone/go-ingress/query"
	"github.com/goliatone/go-ingress/resolver"
)

const loggerName = "ingress"

type Option func(*gatewayBuilder)

type gatewayBuilder struct {
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metricsRecorder core.MetricsRecorder
	stores          core.StoreProvider
	verifier        core.Verifier
	resolver        core.ThreadResolver
	forwarder       core.Forwarder
	httpClient      forwarder.HTTPDoer
	callbackURLs    core.CallbackURLResolver
	now             func() time.Time
	newID           func() string
}

func WithLogger(logger core.Logger) Option {
	return func(b *gatewayBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *gatewayBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *gatewayBuilder) {
		b.metricsRecorder = recorder
	}
}

// WithStores supplies the thread, legacy, message and balance stores. It is
// required.
func WithStores(stores core.StoreProvider) Option {
	return func(b *gatewayBuilder) {
		b.stores = stores
	}
}

func WithVerifier(verifier core.Verifier) Option {
	return func(b *gatewayBuilder) {
		b.verifier = verifier
	}
}

func WithThreadResolver(threadResolver core.ThreadResolver) Option {
	return func(b *gatewayBuilder) {
		b.resolver = threadResolver
	}
}

func WithForwarder(fwd core.Forwarder) Option {
	return func(b *gatewayBuilder) {
		b.forwarder = fwd
	}
}

// WithHTTPClient sets the client used by the default workflow forwarder.
func WithHTTPClient(client forwarder.HTTPDoer) Option {
	return func(b *gatewayBuilder) {
		b.httpClient = client
	}
}

func WithCallbackURLResolver(callbackURLs core.CallbackURLResolver) Option {
	return func(b *gatewayBuilder) {
		b.callbackURLs = callbackURLs
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *gatewayBuilder) {
		b.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(b *gatewayBuilder) {
		b.newID = newID
	}
}

type Commands struct {
	AcceptMessage    *ingresscommand.AcceptMessageCommand
	CompleteCallback *ingresscommand.CompleteCallbackCommand
}

type Queries struct {
	GetMessage *ingressquery.GetMessageQuery
}

// Gateway owns the wired pipeline. It holds no package level state; every
// dependency is passed in through options.
type Gateway struct {
	config     core.Config
	logger     core.Logger
	observer   core.Observer
	stores     core.StoreProvider
	dispatcher *inbound.Dispatcher
	callbacks  *inbound.CallbackProcessor
	reader     inbound.MessageReader
	commands   Commands
	queries    Queries
}

func New(cfg Config, opts ...Option) (*Gateway, error) {
	builder := gatewayBuilder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.MapError(err)
	}
	if builder.stores == nil {
		return nil, fmt.Errorf("ingress: store provider is required")
	}

	provider, logger := glog.Resolve(loggerName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger(loggerName); named != nil {
			logger = glog.Ensure(named)
		}
	}
	observer := core.NewObserver(logger, builder.metricsRecorder)

	if builder.verifier == nil {
		builder.verifier = auth.NewDualVerifier(cfg.Auth)
	}
	if builder.resolver == nil {
		builder.resolver = resolver.NewDefaultChain(builder.stores.ThreadStore(), builder.stores.LegacyStore())
	}
	if builder.forwarder == nil {
		workflow := forwarder.NewWorkflow(cfg, builder.httpClient)
		if builder.now != nil {
			workflow.Now = builder.now
		}
		builder.forwarder = workflow
	}
	if builder.callbackURLs == nil {
		builder.callbackURLs = core.BaseURLCallbackResolver{
			BaseURL: strings.TrimSpace(cfg.Workflow.PublicBaseURL),
			Path:    cfg.Workflow.CallbackPath,
		}
	}

	dispatcher, err := inbound.NewDispatcher(cfg, inbound.Dependencies{
		Verifier:     builder.verifier,
		Resolver:     builder.resolver,
		Messages:     builder.stores.MessageStore(),
		Balances:     builder.stores.BalanceStore(),
		Forwarder:    builder.forwarder,
		CallbackURLs: builder.callbackURLs,
		Observer:     observer,
	})
	if err != nil {
		return nil, err
	}
	callbacks, err := inbound.NewCallbackProcessor(builder.verifier, builder.stores.MessageStore(), observer)
	if err != nil {
		return nil, err
	}
	if builder.now != nil {
		dispatcher.Now = builder.now
		callbacks.Now = builder.now
	}
	if builder.newID != nil {
		dispatcher.NewID = builder.newID
		callbacks.NewID = builder.newID
	}

	gateway := &Gateway{
		config:     cfg,
		logger:     logger,
		observer:   observer,
		stores:     builder.stores,
		dispatcher: dispatcher,
		callbacks:  callbacks,
		reader:     inbound.MessageReader{Verifier: builder.verifier, Messages: builder.stores.MessageStore()},
	}
	gateway.commands = Commands{
		AcceptMessage:    ingresscommand.NewAcceptMessageCommand(dispatcher),
		CompleteCallback: ingresscommand.NewCompleteCallbackCommand(callbacks),
	}
	gateway.queries = Queries{
		GetMessage: ingressquery.NewGetMessageQuery(gateway.reader),
	}

	observer.Info(context.Background(), "ingress gateway configured", map[string]any{
		"service":                    cfg.ServiceName,
		"balance_mode":               cfg.Balance.Mode,
		"idempotency_failure_policy": cfg.Idempotency.FailurePolicy,
		"resolver_stages":            resolverStages(builder.resolver),
	})
	return gateway, nil
}

// Accept runs the ingress pipeline for one delivery.
func (g *Gateway) Accept(ctx context.Context, in core.InboundRequest) (core.AcceptResult, error) {
	if g == nil || g.dispatcher == nil {
		return core.AcceptResult{}, fmt.Errorf("ingress: gateway is not configured")
	}
	return g.dispatcher.Accept(ctx, in)
}

// Complete applies a workflow engine callback.
func (g *Gateway) Complete(ctx context.Context, in core.InboundRequest) (core.CallbackOutcome, error) {
	if g == nil || g.callbacks == nil {
		return core.CallbackOutcome{}, fmt.Errorf("ingress: gateway is not configured")
	}
	return g.callbacks.Complete(ctx, in)
}

func (g *Gateway) GetMessage(ctx context.Context, in core.InboundRequest, messageID string) (core.Message, error) {
	if g == nil {
		return core.Message{}, fmt.Errorf("ingress: gateway is not configured")
	}
	return g.reader.Get(ctx, in, messageID)
}

func (g *Gateway) Commands() Commands {
	if g == nil {
		return Commands{}
	}
	return g.commands
}

func (g *Gateway) Queries() Queries {
	if g == nil {
		return Queries{}
	}
	return g.queries
}

func (g *Gateway) Config() core.Config {
	if g == nil {
		return core.Config{}
	}
	return g.config
}

func (g *Gateway) Logger() core.Logger {
	if g == nil {
		return glog.Nop()
	}
	return g.logger
}

func (g *Gateway) Observer() core.Observer {
	if g == nil {
		return core.Observer{}
	}
	return g.observer
}

func (g *Gateway) Stores() core.StoreProvider {
	if g == nil {
		return nil
	}
	return g.stores
}

func resolverStages(threadResolver core.ThreadResolver) []string {
	if chain, ok := threadResolver.(*resolver.Chain); ok {
		return chain.Stages()
	}
	return nil
}
