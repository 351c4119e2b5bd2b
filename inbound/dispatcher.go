package inbound

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingress/core"
)

const (
	StageAuthenticate = "authenticate"
	StageParse        = "parse"
	StageDedup        = "dedup"
	StageResolve      = "resolve"
	StageFund         = "fund"
	StagePersist      = "persist"
	StageForward      = "forward"
)

const (
	forwardRecordTimeout     = 5 * time.Second
	maxForwardRecordAttempts = 3
)

// Dispatcher runs the ingress pipeline: authenticate, parse, dedup, resolve
// the owning thread, fund, persist and forward. Any stage failure returns
// without touching later stages.
type Dispatcher struct {
	Verifier     core.Verifier
	Parser       *RequestParser
	Guard        Guard
	Resolver     core.ThreadResolver
	Balance      BalanceGate
	Persister    Persister
	Forwarder    core.Forwarder
	CallbackURLs core.CallbackURLResolver
	Messages     core.MessageStore
	Observer     core.Observer

	ThreadType              string
	EstimatedProcessingTime string

	Now   func() time.Time
	NewID func() string
}

// Dependencies groups the collaborators NewDispatcher wires together.
type Dependencies struct {
	Verifier     core.Verifier
	Resolver     core.ThreadResolver
	Messages     core.MessageStore
	Balances     core.BalanceStore
	Forwarder    core.Forwarder
	CallbackURLs core.CallbackURLResolver
	Observer     core.Observer
}

func NewDispatcher(cfg core.Config, deps Dependencies) (*Dispatcher, error) {
	parser, err := NewRequestParser()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		Verifier:                deps.Verifier,
		Parser:                  parser,
		Guard:                   Guard{Messages: deps.Messages, FailurePolicy: cfg.Idempotency.FailurePolicy, Observer: deps.Observer},
		Resolver:                deps.Resolver,
		Balance:                 BalanceGate{Balances: deps.Balances, Config: cfg.Balance},
		Persister:               Persister{Messages: deps.Messages},
		Forwarder:               deps.Forwarder,
		CallbackURLs:            deps.CallbackURLs,
		Messages:                deps.Messages,
		Observer:                deps.Observer,
		ThreadType:              cfg.Threads.DefaultType,
		EstimatedProcessingTime: cfg.Balance.EstimatedProcessingTime,
	}, nil
}

// Accept processes one ingress request. A replayed (thread_id, client_msg_id)
// returns Duplicate with an empty MessageID and performs no writes.
func (d *Dispatcher) Accept(ctx context.Context, in core.InboundRequest) (result core.AcceptResult, err error) {
	if d == nil {
		return core.AcceptResult{}, inboundInternal("inbound: dispatcher is nil", nil)
	}
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		status := "accepted"
		switch {
		case err != nil:
			status = "rejected"
		case result.Redelivered:
			status = "redelivered"
		case result.Duplicate:
			status = "duplicate"
		}
		d.Observer.Observe(ctx, startedAt, "accept", status, err, fields)
	}()

	if err := d.validateDependencies(); err != nil {
		fields["stage"] = StageAuthenticate
		return core.AcceptResult{}, err
	}

	fields["stage"] = StageAuthenticate
	principal, err := d.Verifier.Verify(ctx, in)
	if err != nil {
		return core.AcceptResult{}, inboundUnauthenticated(err)
	}
	fields["auth_scheme"] = principal.Scheme

	fields["stage"] = StageParse
	req, err := d.Parser.ParseIngress(in.Body)
	if err != nil {
		return core.AcceptResult{}, err
	}
	fields["event_type"] = string(req.EventType)
	fields["thread_id"] = req.ThreadID
	fields["client_msg_id"] = req.ClientMsgID

	fields["stage"] = StageDedup
	existing, found, err := d.Guard.Check(ctx, req.ThreadID, req.ClientMsgID)
	if err != nil {
		return core.AcceptResult{}, err
	}
	if found {
		fields["message_id"] = existing.ID
		if existing.Status == core.MessageStatusForwardFailed {
			return d.redeliver(ctx, req, in.Body, existing, fields)
		}
		return d.duplicate(req), nil
	}

	fields["stage"] = StageResolve
	resolution, err := d.Resolver.Resolve(ctx, core.ResolveRequest{
		ThreadID:      req.ThreadID,
		OwnershipHint: req.OwnershipHint(),
		ThreadType:    d.threadType(),
	})
	if err != nil {
		fields["resolution"] = formatStages(resolution.Diagnostic)
		return core.AcceptResult{}, passThrough(err, StageResolve)
	}
	thread := resolution.Thread
	fields["owner_id"] = thread.OwnerID
	fields["strategy"] = resolution.Strategy
	if resolution.Migrated {
		d.Observer.Info(ctx, "thread resolved through fallback", map[string]any{
			"thread_id": thread.ID,
			"strategy":  resolution.Strategy,
			"stages":    formatStages(resolution.Diagnostic),
		})
	}

	messageID := d.newID()
	fields["message_id"] = messageID

	fields["stage"] = StageFund
	reservation, err := d.Balance.Reserve(ctx, thread.OwnerID, messageID, req.EventType)
	if err != nil {
		return core.AcceptResult{}, err
	}

	fields["stage"] = StagePersist
	msg, err := d.Persister.Persist(ctx, messageID, req, thread)
	if err != nil {
		reason := ledgerReasonRefundPersist
		if errors.Is(err, core.ErrDuplicateMessage) {
			reason = ledgerReasonRefundDuplicate
		}
		if releaseErr := d.Balance.Release(ctx, reservation, reason); releaseErr != nil {
			d.Observer.Error(ctx, "balance refund failed", map[string]any{
				"owner_id":   thread.OwnerID,
				"message_id": messageID,
				"amount":     reservation.Amount,
				"error":      releaseErr.Error(),
			})
		}
		if errors.Is(err, core.ErrDuplicateMessage) {
			delete(fields, "message_id")
			return d.duplicate(req), nil
		}
		return core.AcceptResult{}, err
	}

	fields["stage"] = StageForward
	if err := d.forward(ctx, req, in.Body, thread, msg); err != nil {
		return core.AcceptResult{}, err
	}

	return core.AcceptResult{
		Received:                req.ClientMsgID,
		ThreadID:                thread.ID,
		MessageID:               msg.ID,
		OwnerID:                 thread.OwnerID,
		ResolvedBy:              resolution.Strategy,
		EstimatedProcessingTime: d.EstimatedProcessingTime,
	}, nil
}

func (d *Dispatcher) redeliver(
	ctx context.Context,
	req core.IngressRequest,
	body []byte,
	msg core.Message,
	fields map[string]any,
) (core.AcceptResult, error) {
	resent, err := BuildMessage(msg.ID, req, core.Thread{ID: msg.ThreadID})
	if err != nil {
		return core.AcceptResult{}, err
	}
	if !SameContent(msg, resent) {
		return core.AcceptResult{}, inboundError(
			"client_msg_id already used for different content",
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.ErrorConflict,
			map[string]any{"message_id": msg.ID, "client_msg_id": req.ClientMsgID},
		)
	}

	fields["stage"] = StageResolve
	resolution, err := d.Resolver.Resolve(ctx, core.ResolveRequest{
		ThreadID:   msg.ThreadID,
		ThreadType: d.threadType(),
	})
	if err != nil {
		return core.AcceptResult{}, passThrough(err, StageResolve)
	}
	fields["stage"] = StageForward
	if err := d.forward(ctx, req, body, resolution.Thread, msg); err != nil {
		return core.AcceptResult{}, err
	}
	return core.AcceptResult{
		Received:                req.ClientMsgID,
		ThreadID:                msg.ThreadID,
		MessageID:               msg.ID,
		OwnerID:                 resolution.Thread.OwnerID,
		ResolvedBy:              resolution.Strategy,
		Redelivered:             true,
		EstimatedProcessingTime: d.EstimatedProcessingTime,
	}, nil
}

// forward hands the persisted message to the workflow engine and records the
// attempt on the message row.
func (d *Dispatcher) forward(
	ctx context.Context,
	req core.IngressRequest,
	body []byte,
	thread core.Thread,
	msg core.Message,
) error {
	metadata := map[string]any{"message_id": msg.ID, "thread_id": thread.ID}
	callbackURL := ""
	if d.CallbackURLs != nil {
		resolved, err := d.CallbackURLs.ResolveCallbackURL(ctx, core.CallbackURLResolveRequest{
			MessageID: msg.ID,
			ThreadID:  thread.ID,
		})
		if err != nil {
			return inboundForwardingFailed(err, metadata)
		}
		callbackURL = resolved
	}

	forwardStartedAt := time.Now()
	result, forwardErr := d.Forwarder.Forward(ctx, core.ForwardRequest{
		Message:     msg,
		Thread:      thread,
		Request:     req,
		RawBody:     body,
		CallbackURL: callbackURL,
	})
	forwardTags := map[string]string{"status": "success", "event_type": string(req.EventType)}
	if forwardErr != nil {
		forwardTags["status"] = "failure"
	}
	d.Observer.IncCounter(ctx, "ingress.forward.total", 1, forwardTags)
	d.Observer.ObserveHistogram(ctx, "ingress.forward.duration_ms", float64(time.Since(forwardStartedAt).Milliseconds()), forwardTags)
	if result.StatusCode != 0 {
		metadata["status_code"] = result.StatusCode
	}

	d.recordForwardAttempt(ctx, msg, forwardErr)

	if forwardErr != nil {
		return inboundForwardingFailed(forwardErr, metadata)
	}
	return nil
}

// recordForwardAttempt bumps the attempt counter and moves a non terminal
// message to forwarded or forward_failed. The write runs on a context detached
// from the request so a caller timeout still leaves the row resendable. A
// callback that lands first wins: the terminal status is kept.
func (d *Dispatcher) recordForwardAttempt(ctx context.Context, msg core.Message, forwardErr error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forwardRecordTimeout)
	defer cancel()

	attempts := msg.ForwardAttempts + 1
	for attempt := 1; attempt <= maxForwardRecordAttempts; attempt++ {
		loaded := msg.Status
		next := msg
		if next.ForwardAttempts < attempts {
			next.ForwardAttempts = attempts
		}
		if !loaded.Terminal() {
			now := d.now()
			if forwardErr != nil {
				_ = next.TransitionTo(core.MessageStatusForwardFailed, forwardFailureReason(forwardErr), now)
			} else {
				_ = next.TransitionTo(core.MessageStatusForwarded, "", now)
			}
		}
		_, err := d.Messages.UpdateMessageStatus(writeCtx, next, loaded)
		if err == nil {
			return
		}
		if !errors.Is(err, core.ErrStaleMessageStatus) {
			d.Observer.Error(ctx, "record forward attempt failed", map[string]any{
				"message_id": msg.ID,
				"status":     string(next.Status),
				"error":      err.Error(),
			})
			return
		}
		current, getErr := d.Messages.GetMessage(writeCtx, msg.ID)
		if getErr != nil {
			d.Observer.Error(ctx, "reload message after concurrent update failed", map[string]any{
				"message_id": msg.ID,
				"error":      getErr.Error(),
			})
			return
		}
		d.Observer.Debug(ctx, "message status changed during forward", map[string]any{
			"message_id": msg.ID,
			"expected":   string(loaded),
			"current":    string(current.Status),
		})
		msg = current
	}
	d.Observer.Warn(ctx, "forward attempt not recorded", map[string]any{
		"message_id": msg.ID,
		"status":     string(msg.Status),
	})
}

func (d *Dispatcher) duplicate(req core.IngressRequest) core.AcceptResult {
	return core.AcceptResult{
		Received:  req.ClientMsgID,
		ThreadID:  req.ThreadID,
		MessageID: "",
		Duplicate: true,
	}
}

func (d *Dispatcher) validateDependencies() error {
	switch {
	case d.Verifier == nil:
		return inboundInternal("inbound: verifier is required", nil)
	case d.Parser == nil:
		return inboundInternal("inbound: request parser is required", nil)
	case d.Resolver == nil:
		return inboundInternal("inbound: thread resolver is required", nil)
	case d.Forwarder == nil:
		return inboundInternal("inbound: forwarder is required", nil)
	case d.Messages == nil:
		return inboundInternal("inbound: message store is required", nil)
	}
	return nil
}

func (d *Dispatcher) threadType() string {
	if value := strings.TrimSpace(d.ThreadType); value != "" {
		return value
	}
	return "chat"
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) newID() string {
	if d.NewID != nil {
		if id := strings.TrimSpace(d.NewID()); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func forwardFailureReason(err error) string {
	if mapped := core.MapError(err); mapped != nil && strings.TrimSpace(mapped.Message) != "" {
		return mapped.Message
	}
	return "forward failed"
}

func formatStages(diagnostics []core.StageDiagnostic) string {
	parts := make([]string, 0, len(diagnostics))
	for _, diagnostic := range diagnostics {
		parts = append(parts, diagnostic.Stage+"="+diagnostic.Outcome)
	}
	return strings.Join(parts, ",")
}
