package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-ingress/core"
)

type stubAcceptor struct {
	acceptFn func(ctx context.Context, in core.InboundRequest) (core.AcceptResult, error)
}

func (s stubAcceptor) Accept(ctx context.Context, in core.InboundRequest) (core.AcceptResult, error) {
	if s.acceptFn == nil {
		return core.AcceptResult{}, nil
	}
	return s.acceptFn(ctx, in)
}

type stubCompleter struct {
	completeFn func(ctx context.Context, in core.InboundRequest) (core.CallbackOutcome, error)
}

func (s stubCompleter) Complete(ctx context.Context, in core.InboundRequest) (core.CallbackOutcome, error) {
	if s.completeFn == nil {
		return core.CallbackOutcome{}, nil
	}
	return s.completeFn(ctx, in)
}

func TestAcceptMessageCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.AcceptResult{Received: "message.created", ThreadID: "T1", MessageID: "msg-1"}
	called := false
	svc := stubAcceptor{acceptFn: func(_ context.Context, in core.InboundRequest) (core.AcceptResult, error) {
		called = true
		if string(in.Body) != `{"thread_id":"T1"}` {
			t.Fatalf("expected body passed through, got %q", in.Body)
		}
		return expected, nil
	}}

	collector := gocmd.NewResult[core.AcceptResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewAcceptMessageCommand(svc).Execute(ctx, AcceptMessageMessage{Request: core.InboundRequest{
		Body: []byte(`{"thread_id":"T1"}`),
	}})
	if err != nil {
		t.Fatalf("execute accept: %v", err)
	}
	if !called {
		t.Fatalf("expected acceptor invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.MessageID != expected.MessageID || result.ThreadID != expected.ThreadID {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestAcceptMessageCommand_PropagatesServiceError(t *testing.T) {
	boom := errors.New("boom")
	svc := stubAcceptor{acceptFn: func(context.Context, core.InboundRequest) (core.AcceptResult, error) {
		return core.AcceptResult{}, boom
	}}
	collector := gocmd.NewResult[core.AcceptResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := NewAcceptMessageCommand(svc).Execute(ctx, AcceptMessageMessage{Request: core.InboundRequest{Body: []byte(`{}`)}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected service error, got %v", err)
	}
	if _, ok := collector.Load(); ok {
		t.Fatalf("expected no result stored on failure")
	}
}

func TestCompleteCallbackCommand_ExecuteStoresOutcome(t *testing.T) {
	svc := stubCompleter{completeFn: func(context.Context, core.InboundRequest) (core.CallbackOutcome, error) {
		return core.CallbackOutcome{MessageID: "msg-1", Status: core.MessageStatusCompleted, ReplyID: "reply-1"}, nil
	}}
	collector := gocmd.NewResult[core.CallbackOutcome]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewCompleteCallbackCommand(svc).Execute(ctx, CompleteCallbackMessage{
		Request: core.InboundRequest{Body: []byte(`{"message_id":"msg-1"}`)},
	}); err != nil {
		t.Fatalf("execute callback: %v", err)
	}
	outcome, ok := collector.Load()
	if !ok || outcome.ReplyID != "reply-1" {
		t.Fatalf("unexpected stored outcome: %#v (ok=%v)", outcome, ok)
	}
}

func TestCommands_RunWithoutResultCollector(t *testing.T) {
	if err := NewAcceptMessageCommand(stubAcceptor{}).Execute(context.Background(), AcceptMessageMessage{
		Request: core.InboundRequest{Body: []byte(`{}`)},
	}); err != nil {
		t.Fatalf("execute without collector: %v", err)
	}
}

func TestMessages_ValidateReturnsRichError(t *testing.T) {
	for name, err := range map[string]error{
		"accept":   AcceptMessageMessage{Request: core.InboundRequest{Body: []byte("  ")}}.Validate(),
		"callback": CompleteCallbackMessage{}.Validate(),
	} {
		t.Run(name, func(t *testing.T) {
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", err)
			}
			if rich.Category != goerrors.CategoryValidation {
				t.Fatalf("expected validation category, got %q", rich.Category)
			}
			if rich.TextCode != core.ErrorBadInput {
				t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
			}
		})
	}
}

func TestAcceptMessageCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *AcceptMessageCommand
	err := cmd.Execute(context.Background(), AcceptMessageMessage{})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if (AcceptMessageMessage{}).Type() != TypeAcceptMessage {
		t.Fatalf("unexpected message type")
	}
}
