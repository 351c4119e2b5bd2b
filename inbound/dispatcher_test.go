package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingress/auth"
	"github.com/goliatone/go-ingress/core"
	"github.com/goliatone/go-ingress/resolver"
	"github.com/goliatone/go-ingress/store/memory"
)

const testHMACSecret = "hmac-secret"

type stubForwarder struct {
	mu       sync.Mutex
	requests []core.ForwardRequest
	err      error
}

func (f *stubForwarder) Forward(_ context.Context, req core.ForwardRequest) (core.ForwardResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return core.ForwardResult{}, f.err
	}
	return core.ForwardResult{StatusCode: http.StatusOK}, nil
}

func (f *stubForwarder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type pipelineFixture struct {
	store      *memory.Store
	forwarder  *stubForwarder
	dispatcher *Dispatcher
}

func newPipelineFixture(t *testing.T, mutate func(*core.Config)) pipelineFixture {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Auth.HMACSecret = testHMACSecret
	cfg.Auth.JWTSecret = "jwt-secret"
	if mutate != nil {
		mutate(&cfg)
	}
	store := memory.New()
	forwarder := &stubForwarder{}
	dispatcher, err := NewDispatcher(cfg, Dependencies{
		Verifier:     auth.NewDualVerifier(cfg.Auth),
		Resolver:     resolver.NewDefaultChain(store, store),
		Messages:     store,
		Balances:     store,
		Forwarder:    forwarder,
		CallbackURLs: core.BaseURLCallbackResolver{BaseURL: "https://gateway.example.com", Path: cfg.Workflow.CallbackPath},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return pipelineFixture{store: store, forwarder: forwarder, dispatcher: dispatcher}
}

func (f pipelineFixture) seedThread(t *testing.T, threadID, ownerID string, balance int64) {
	t.Helper()
	if _, err := f.store.CreateThreadIfAbsent(context.Background(), core.Thread{ID: threadID, OwnerID: ownerID}); err != nil {
		t.Fatalf("seed thread: %v", err)
	}
	f.store.SetBalance(ownerID, balance)
}

func signedRequest(t *testing.T, body map[string]any) core.InboundRequest {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return core.InboundRequest{
		Headers: map[string]string{
			"Content-Type":        "application/json",
			"X-Webhook-Signature": auth.SignBody(testHMACSecret, raw),
		},
		Body: raw,
	}
}

func messageCreated(threadID, clientMsgID, text string) map[string]any {
	return map[string]any{
		"spec_version":  "1.0",
		"event_type":    "message.created",
		"thread_id":     threadID,
		"client_msg_id": clientMsgID,
		"payload":       map[string]any{"text": text},
	}
}

func assertStatus(t *testing.T, err error, status int, textCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", status)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T (%v)", err, err)
	}
	if rich.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rich.Code, rich.Message)
	}
	if textCode != "" && rich.TextCode != textCode {
		t.Fatalf("expected text code %q, got %q", textCode, rich.TextCode)
	}
}

func countMessages(t *testing.T, store *memory.Store, threadID string) int {
	t.Helper()
	count, err := store.CountByThread(context.Background(), threadID)
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}

func TestDispatcher_AcceptsSignedMessageAndForwards(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 100)

	result, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "hello")))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if result.MessageID == "" || result.Received != "m1" || result.ThreadID != "T1" || result.Duplicate {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result.EstimatedProcessingTime == "" {
		t.Fatalf("expected estimated processing time")
	}
	if count := countMessages(t, fx.store, "T1"); count != 1 {
		t.Fatalf("expected one message row, got %d", count)
	}
	stored, err := fx.store.GetMessage(context.Background(), result.MessageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if stored.Role != core.RoleUser || stored.Text != "hello" || stored.Status != core.MessageStatusForwarded || stored.ForwardAttempts != 1 {
		t.Fatalf("unexpected stored message: %#v", stored)
	}
	if fx.forwarder.calls() != 1 {
		t.Fatalf("expected one forward, got %d", fx.forwarder.calls())
	}
	forwarded := fx.forwarder.requests[0]
	if forwarded.Message.ID != result.MessageID || forwarded.CallbackURL == "" {
		t.Fatalf("unexpected forward request: %#v", forwarded)
	}
	balance, _ := fx.store.GetBalance(context.Background(), "U1")
	if balance.Amount != 99 {
		t.Fatalf("expected balance debited to 99, got %d", balance.Amount)
	}
}

func TestDispatcher_DuplicateClientMsgIDIsNoop(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 100)
	req := signedRequest(t, messageCreated("T1", "m1", "hello"))

	if _, err := fx.dispatcher.Accept(context.Background(), req); err != nil {
		t.Fatalf("accept first: %v", err)
	}
	second, err := fx.dispatcher.Accept(context.Background(), req)
	if err != nil {
		t.Fatalf("accept duplicate: %v", err)
	}
	if !second.Duplicate || second.MessageID != "" || second.Received != "m1" || second.ThreadID != "T1" {
		t.Fatalf("unexpected duplicate result: %#v", second)
	}
	if count := countMessages(t, fx.store, "T1"); count != 1 {
		t.Fatalf("expected message count unchanged at 1, got %d", count)
	}
	if fx.forwarder.calls() != 1 {
		t.Fatalf("expected forwarder not to be invoked again, got %d calls", fx.forwarder.calls())
	}
	balance, _ := fx.store.GetBalance(context.Background(), "U1")
	if balance.Amount != 99 {
		t.Fatalf("expected duplicate not to debit, got balance %d", balance.Amount)
	}
}

func TestDispatcher_RejectsUnsupportedEventWithoutWrites(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 100)
	body := messageCreated("T1", "m1", "hello")
	body["event_type"] = "unknown_type"

	_, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, body))
	assertStatus(t, err, http.StatusBadRequest, core.ErrorBadInput)
	if count := countMessages(t, fx.store, "T1"); count != 0 {
		t.Fatalf("expected no store writes, got %d messages", count)
	}
	if fx.forwarder.calls() != 0 {
		t.Fatalf("expected no forward")
	}
}

func TestDispatcher_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{name: "missing text", mutate: func(body map[string]any) { body["payload"] = map[string]any{"extra": map[string]any{}} }},
		{name: "missing thread id", mutate: func(body map[string]any) { delete(body, "thread_id") }},
		{name: "missing client msg id", mutate: func(body map[string]any) { delete(body, "client_msg_id") }},
		{name: "non string thread id", mutate: func(body map[string]any) { body["thread_id"] = 42 }},
		{name: "blank thread id", mutate: func(body map[string]any) { body["thread_id"] = "   " }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newPipelineFixture(t, nil)
			fx.seedThread(t, "T1", "U1", 100)
			body := messageCreated("T1", "m1", "hello")
			tc.mutate(body)
			_, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, body))
			assertStatus(t, err, http.StatusBadRequest, core.ErrorBadInput)
			if count := countMessages(t, fx.store, "T1"); count != 0 {
				t.Fatalf("expected no message rows, got %d", count)
			}
		})
	}
}

func TestDispatcher_RejectsBadSignature(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 100)
	req := signedRequest(t, messageCreated("T1", "m1", "hello"))
	req.Headers["X-Webhook-Signature"] = auth.SignBody("wrong-secret", req.Body)

	_, err := fx.dispatcher.Accept(context.Background(), req)
	assertStatus(t, err, http.StatusUnauthorized, core.ErrorUnauthenticated)
	if count := countMessages(t, fx.store, "T1"); count != 0 {
		t.Fatalf("expected no writes after auth failure")
	}
}

func TestDispatcher_InsufficientBalanceReturns402(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 0)

	_, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "hello")))
	assertStatus(t, err, http.StatusPaymentRequired, core.ErrorQuotaExceeded)
	if count := countMessages(t, fx.store, "T1"); count != 0 {
		t.Fatalf("expected no message row, got %d", count)
	}
	if fx.forwarder.calls() != 0 {
		t.Fatalf("expected no forward")
	}
}

func TestDispatcher_CheckModeReadsBalanceWithoutDebit(t *testing.T) {
	fx := newPipelineFixture(t, func(cfg *core.Config) { cfg.Balance.Mode = core.BalanceModeCheck })
	fx.seedThread(t, "T1", "U1", 5)

	if _, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "hello"))); err != nil {
		t.Fatalf("accept: %v", err)
	}
	balance, _ := fx.store.GetBalance(context.Background(), "U1")
	if balance.Amount != 5 {
		t.Fatalf("expected untouched balance in check mode, got %d", balance.Amount)
	}
}

func TestDispatcher_UnresolvableThreadReturns404(t *testing.T) {
	fx := newPipelineFixture(t, nil)

	_, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("ghost", "m1", "hello")))
	assertStatus(t, err, http.StatusNotFound, core.ErrorThreadNotFound)
}

func TestDispatcher_OwnershipHintCreatesThread(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.store.SetBalance("U7", 10)
	body := messageCreated("T-new", "m1", "hello")
	body["payload"] = map[string]any{"text": "hello", "extra": map[string]any{"owner_id": "U7"}}

	result, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, body))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if result.OwnerID != "U7" || result.ResolvedBy != resolver.StageOwnershipHint {
		t.Fatalf("unexpected result: %#v", result)
	}
	thread, err := fx.store.GetThread(context.Background(), "T-new")
	if err != nil || thread.OwnerID != "U7" {
		t.Fatalf("expected thread created for hinted owner, got %#v (%v)", thread, err)
	}
}

func TestDispatcher_EventsPersistedAsCompleted(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 0)
	body := map[string]any{
		"event_type":    "task_update",
		"thread_id":     "T1",
		"client_msg_id": "evt-1",
		"payload":       map[string]any{"task_id": "task-9", "state": "done"},
	}

	result, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, body))
	if err != nil {
		t.Fatalf("accept event: %v", err)
	}
	stored, err := fx.store.GetMessage(context.Background(), result.MessageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if stored.Status != core.MessageStatusCompleted || stored.Kind != "task_update" || stored.Extra["task_id"] != "task-9" {
		t.Fatalf("unexpected event record: %#v", stored)
	}
}

func TestDispatcher_ForwardFailureThenRedelivery(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 100)
	fx.forwarder.err = errors.New("workflow engine returned 503")
	req := signedRequest(t, messageCreated("T1", "m1", "hello"))

	_, err := fx.dispatcher.Accept(context.Background(), req)
	assertStatus(t, err, http.StatusInternalServerError, core.ErrorForwardingFailed)
	var rich *goerrors.Error
	goerrors.As(err, &rich)
	failedID, _ := rich.Metadata["message_id"].(string)
	if failedID == "" {
		t.Fatalf("expected message id in error metadata")
	}
	stored, _ := fx.store.GetMessage(context.Background(), failedID)
	if stored.Status != core.MessageStatusForwardFailed || stored.LastError == "" {
		t.Fatalf("expected forward_failed status, got %#v", stored)
	}

	fx.forwarder.err = nil
	result, err := fx.dispatcher.Accept(context.Background(), req)
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if !result.Redelivered || result.MessageID != failedID {
		t.Fatalf("expected redelivery of %q, got %#v", failedID, result)
	}
	if count := countMessages(t, fx.store, "T1"); count != 1 {
		t.Fatalf("expected single row after redelivery, got %d", count)
	}
	stored, _ = fx.store.GetMessage(context.Background(), failedID)
	if stored.Status != core.MessageStatusForwarded || stored.ForwardAttempts != 2 {
		t.Fatalf("unexpected message after redelivery: %#v", stored)
	}
	balance, _ := fx.store.GetBalance(context.Background(), "U1")
	if balance.Amount != 99 {
		t.Fatalf("expected a single debit, got balance %d", balance.Amount)
	}
}

type racingMessageStore struct {
	*memory.Store
	lookupErr error
}

func (s racingMessageStore) FindByClientMsgID(context.Context, string, string) (core.Message, error) {
	if s.lookupErr != nil {
		return core.Message{}, s.lookupErr
	}
	return core.Message{}, core.ErrMessageNotFound
}

func TestDispatcher_InsertRaceAnswersDuplicateAndRefunds(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 10)
	if _, err := fx.store.CreateMessage(context.Background(), core.Message{ThreadID: "T1", ClientMsgID: "m1", Text: "first"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	racing := racingMessageStore{Store: fx.store}
	fx.dispatcher.Guard.Messages = racing
	fx.dispatcher.Persister.Messages = racing

	result, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "hello")))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !result.Duplicate || result.MessageID != "" {
		t.Fatalf("expected duplicate result, got %#v", result)
	}
	balance, _ := fx.store.GetBalance(context.Background(), "U1")
	if balance.Amount != 10 {
		t.Fatalf("expected refund to restore balance, got %d", balance.Amount)
	}
	if fx.forwarder.calls() != 0 {
		t.Fatalf("expected no forward for raced duplicate")
	}
}

func TestDispatcher_IdempotencyLookupFailurePolicy(t *testing.T) {
	lookupErr := errors.New("read timeout")

	t.Run("fail open proceeds", func(t *testing.T) {
		fx := newPipelineFixture(t, nil)
		fx.seedThread(t, "T1", "U1", 10)
		fx.dispatcher.Guard.Messages = racingMessageStore{Store: fx.store, lookupErr: lookupErr}
		if _, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "hello"))); err != nil {
			t.Fatalf("expected fail open to accept, got %v", err)
		}
	})

	t.Run("fail closed rejects", func(t *testing.T) {
		fx := newPipelineFixture(t, func(cfg *core.Config) { cfg.Idempotency.FailurePolicy = core.IdempotencyFailClosed })
		fx.seedThread(t, "T1", "U1", 10)
		fx.dispatcher.Guard.Messages = racingMessageStore{Store: fx.store, lookupErr: lookupErr}
		_, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "hello")))
		assertStatus(t, err, http.StatusInternalServerError, core.ErrorIdempotencyUnavailable)
		if count := countMessages(t, fx.store, "T1"); count != 0 {
			t.Fatalf("expected no writes, got %d", count)
		}
	})
}

func TestDispatcher_ConcurrentRetriesPersistOnce(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 100)
	req := signedRequest(t, messageCreated("T1", "m1", "hello"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fx.dispatcher.Accept(context.Background(), req); err != nil {
				t.Errorf("accept: %v", err)
			}
		}()
	}
	wg.Wait()

	if count := countMessages(t, fx.store, "T1"); count != 1 {
		t.Fatalf("expected exactly one message row, got %d", count)
	}
	balance, _ := fx.store.GetBalance(context.Background(), "U1")
	if balance.Amount != 99 {
		t.Fatalf("expected exactly one net debit, got balance %d", balance.Amount)
	}
}

type callbackForwarder struct {
	t         *testing.T
	processor *CallbackProcessor
	err       error
	callErr   error
}

func (f *callbackForwarder) Forward(ctx context.Context, req core.ForwardRequest) (core.ForwardResult, error) {
	_, f.callErr = f.processor.Complete(ctx, signedRequest(f.t, map[string]any{
		"message_id": req.Message.ID,
		"status":     "completed",
		"result":     map[string]any{"text": "answer"},
	}))
	if f.err != nil {
		return core.ForwardResult{}, f.err
	}
	return core.ForwardResult{StatusCode: http.StatusOK}, nil
}

func TestDispatcher_CallbackDuringForwardKeepsTerminalStatus(t *testing.T) {
	cases := map[string]error{
		"forward succeeds": nil,
		"forward fails":    errors.New("read timeout after callback"),
	}
	for name, forwardErr := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newPipelineFixture(t, nil)
			fx.seedThread(t, "T1", "U1", 100)
			processor, err := NewCallbackProcessor(fx.dispatcher.Verifier, fx.store, core.Observer{})
			if err != nil {
				t.Fatalf("new callback processor: %v", err)
			}
			forwarder := &callbackForwarder{t: t, processor: processor, err: forwardErr}
			fx.dispatcher.Forwarder = forwarder

			result, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "hello")))
			if forwarder.callErr != nil {
				t.Fatalf("callback: %v", forwarder.callErr)
			}
			messageID := result.MessageID
			if forwardErr != nil {
				assertStatus(t, err, http.StatusInternalServerError, core.ErrorForwardingFailed)
				var rich *goerrors.Error
				goerrors.As(err, &rich)
				messageID, _ = rich.Metadata["message_id"].(string)
			} else if err != nil {
				t.Fatalf("accept: %v", err)
			}

			stored, err := fx.store.GetMessage(context.Background(), messageID)
			if err != nil {
				t.Fatalf("get message: %v", err)
			}
			if stored.Status != core.MessageStatusCompleted || stored.ForwardAttempts != 1 {
				t.Fatalf("expected completed with one attempt, got %q attempts=%d", stored.Status, stored.ForwardAttempts)
			}
		})
	}
}

func TestDispatcher_ResendWithDifferentContentIsRejected(t *testing.T) {
	fx := newPipelineFixture(t, nil)
	fx.seedThread(t, "T1", "U1", 100)
	fx.forwarder.err = errors.New("workflow engine returned 503")
	if _, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "original"))); err == nil {
		t.Fatalf("expected first forward to fail")
	}
	fx.forwarder.err = nil

	_, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "rewritten")))
	assertStatus(t, err, http.StatusConflict, core.ErrorConflict)
	if fx.forwarder.calls() != 1 {
		t.Fatalf("expected mismatched resend not to be forwarded, got %d calls", fx.forwarder.calls())
	}

	result, err := fx.dispatcher.Accept(context.Background(), signedRequest(t, messageCreated("T1", "m1", "original")))
	if err != nil {
		t.Fatalf("matching resend: %v", err)
	}
	if !result.Redelivered {
		t.Fatalf("expected matching resend to redeliver, got %#v", result)
	}
	if got := fx.forwarder.requests[1].Request.Payload.Text; got != "original" {
		t.Fatalf("expected persisted content to be forwarded, got %q", got)
	}
}
