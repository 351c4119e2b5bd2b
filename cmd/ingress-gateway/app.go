package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-command"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	ingress "github.com/goliatone/go-ingress"
	"github.com/goliatone/go-ingress/adapters/gocommand"
	"github.com/goliatone/go-ingress/core"
	"github.com/goliatone/go-ingress/httpapi"
	"github.com/goliatone/go-ingress/metrics"
	sqlstore "github.com/goliatone/go-ingress/store/sql"
)

// application owns everything with a lifecycle: the database client, the
// command bus subscriptions and the HTTP handler.
type application struct {
	config        core.Config
	client        *persistence.Client
	gateway       *ingress.Gateway
	subscriptions gocommand.Subscriptions
	metrics       *metrics.PrometheusRecorder
	handler       http.Handler
}

func newApplication(ctx context.Context, cfg core.Config, loggers core.LoggerProvider) (*application, error) {
	client, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app := &application{config: cfg, client: client}

	var factoryOpts []sqlstore.FactoryOption
	if cfg.Threads.CacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.Threads.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("thread cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithThreadCache(cacheService))
	}
	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.metrics = metrics.NewPrometheusRecorder()
	gateway, err := ingress.New(cfg,
		ingress.WithLoggerProvider(loggers),
		ingress.WithMetricsRecorder(app.metrics),
		ingress.WithStores(stores),
		ingress.WithHTTPClient(&http.Client{Timeout: cfg.Workflow.Timeout + time.Second}),
	)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.gateway = gateway

	registry := gocommand.NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := gocommand.RegisterGateway(registry, gateway)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.subscriptions = subscriptions
	if err := registry.Initialize(); err != nil {
		app.Close()
		return nil, err
	}

	server, err := httpapi.NewServer(cfg, httpapi.HandlersFromGateway(gateway),
		httpapi.WithMetricsHandler(app.metrics.Handler()),
		httpapi.WithObserver(gateway.Observer()),
	)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.handler = server
	return app, nil
}

func (a *application) Close() error {
	if a == nil {
		return nil
	}
	a.subscriptions.Unsubscribe()
	a.subscriptions = nil
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (a *application) serve(ctx context.Context, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              a.config.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	a.gateway.Observer().Info(ctx, "ingress gateway listening", map[string]any{
		"addr":    a.config.HTTP.Addr,
		"version": a.config.Version,
	})

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.gateway.Observer().Info(context.Background(), "ingress gateway shutting down", nil)
	if err := httpapi.Shutdown(context.Background(), server, shutdownTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
