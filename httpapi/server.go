// Package httpapi serves the gateway over HTTP: the ingress endpoint, the
// workflow callback endpoint, message status reads, health and metrics.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocmd "github.com/goliatone/go-command"

	ingress "github.com/goliatone/go-ingress"
	ingresscommand "github.com/goliatone/go-ingress/command"
	"github.com/goliatone/go-ingress/core"
	ingressquery "github.com/goliatone/go-ingress/query"
)

const (
	PathIngress       = "/v1/ingress/messages"
	PathIngressLegacy = "/webhooks/ingress"
	PathCallbacks     = "/v1/ingress/callbacks"
	PathMessage       = "/v1/messages/{id}"
	PathHealth        = "/health"
	PathMetrics       = "/metrics"

	metadataRequestID = "request_id"
)

// Handlers are the go-command handlers the routes dispatch to.
type Handlers struct {
	AcceptMessage    gocmd.Commander[ingresscommand.AcceptMessageMessage]
	CompleteCallback gocmd.Commander[ingresscommand.CompleteCallbackMessage]
	GetMessage       gocmd.Querier[ingressquery.GetMessageMessage, core.Message]
}

func HandlersFromGateway(gateway *ingress.Gateway) Handlers {
	if gateway == nil {
		return Handlers{}
	}
	commands := gateway.Commands()
	queries := gateway.Queries()
	return Handlers{
		AcceptMessage:    commands.AcceptMessage,
		CompleteCallback: commands.CompleteCallback,
		GetMessage:       queries.GetMessage,
	}
}

type Option func(*Server)

// WithMetricsHandler mounts handler on GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

func WithObserver(observer core.Observer) Option {
	return func(s *Server) {
		s.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

type Server struct {
	config   core.Config
	handlers Handlers
	metrics  http.Handler
	observer core.Observer
	now      func() time.Time
	router   chi.Router
}

func NewServer(cfg core.Config, handlers Handlers, opts ...Option) (*Server, error) {
	if handlers.AcceptMessage == nil || handlers.CompleteCallback == nil || handlers.GetMessage == nil {
		return nil, fmt.Errorf("httpapi: accept, callback and message handlers are required")
	}
	server := &Server{
		config:   cfg,
		handlers: handlers,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	server.router = server.routes()
	return server, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(PathHealth, s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, PathMetrics, s.metrics)
	}

	r.Group(func(api chi.Router) {
		api.Use(rateLimit(s.config.HTTP.RateLimitRPS, s.config.HTTP.RateLimitBurst, s.now))
		api.Use(limitBody(s.config.HTTP.MaxBodyBytes))
		api.Use(requestTimeout(s.config.HTTP.RequestTimeout))

		api.Post(PathIngress, s.handleIngress)
		api.Post(PathIngressLegacy, s.handleIngress)
		api.Post(PathCallbacks, s.handleCallback)
		api.Get(PathMessage, s.handleGetMessage)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Success: false, Error: "route not found", Code: core.ErrorBadInput})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Success: false, Error: "method not allowed", Code: core.ErrorBadInput})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Version:   s.config.Version,
	})
}

func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	in, ok := s.inboundRequest(w, r)
	if !ok {
		return
	}
	collector := gocmd.NewResult[core.AcceptResult]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	if err := s.handlers.AcceptMessage.Execute(ctx, ingresscommand.AcceptMessageMessage{Request: in}); err != nil {
		writeError(w, err)
		return
	}
	result, _ := collector.Load()
	writeJSON(w, http.StatusOK, newAcceptResponse(result))
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	in, ok := s.inboundRequest(w, r)
	if !ok {
		return
	}
	collector := gocmd.NewResult[core.CallbackOutcome]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	if err := s.handlers.CompleteCallback.Execute(ctx, ingresscommand.CompleteCallbackMessage{Request: in}); err != nil {
		writeError(w, err)
		return
	}
	outcome, _ := collector.Load()
	writeJSON(w, http.StatusOK, newCallbackResponse(outcome))
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	in, ok := s.inboundRequest(w, r)
	if !ok {
		return
	}
	msg, err := s.handlers.GetMessage.Query(r.Context(), ingressquery.GetMessageMessage{
		Request:   in,
		MessageID: strings.TrimSpace(chi.URLParam(r, "id")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: newMessageView(msg)})
}

// inboundRequest reads the raw body and flattens headers. The body bytes are
// kept verbatim because the signature covers them.
func (s *Server) inboundRequest(w http.ResponseWriter, r *http.Request) (core.InboundRequest, bool) {
	body, err := readBody(r)
	if err != nil {
		if isBodyTooLarge(err) {
			writeError(w, payloadTooLargeError(s.config.HTTP.MaxBodyBytes))
			return core.InboundRequest{}, false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Success: false, Error: "failed to read request body", Code: core.ErrorBadInput})
		return core.InboundRequest{}, false
	}
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	metadata := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		metadata[metadataRequestID] = requestID
	}
	return core.InboundRequest{
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		Metadata:   metadata,
	}, true
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// Shutdown is a helper for callers wrapping Server in an *http.Server.
func Shutdown(ctx context.Context, server *http.Server, timeout time.Duration) error {
	if server == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
