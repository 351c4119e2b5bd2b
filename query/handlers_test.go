package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-ingress/core"
)

type stubMessageGetter struct {
	messages map[string]core.Message
	calls    int
}

func (s *stubMessageGetter) Get(_ context.Context, _ core.InboundRequest, messageID string) (core.Message, error) {
	s.calls++
	msg, ok := s.messages[messageID]
	if !ok {
		return core.Message{}, core.ErrMessageNotFound
	}
	return msg, nil
}

func TestGetMessageQuery_DelegatesToReader(t *testing.T) {
	reader := &stubMessageGetter{messages: map[string]core.Message{
		"msg-1": {ID: "msg-1", ThreadID: "T1", Status: core.MessageStatusForwarded},
	}}
	msg, err := NewGetMessageQuery(reader).Query(context.Background(), GetMessageMessage{MessageID: "msg-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if msg.Status != core.MessageStatusForwarded || reader.calls != 1 {
		t.Fatalf("unexpected query result: %#v (calls=%d)", msg, reader.calls)
	}
}

func TestGetMessageQuery_ValidatesBeforeReading(t *testing.T) {
	reader := &stubMessageGetter{}
	_, err := NewGetMessageQuery(reader).Query(context.Background(), GetMessageMessage{MessageID: "  "})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("unexpected validation error: %#v", rich)
	}
	if reader.calls != 0 {
		t.Fatalf("expected reader not to be called")
	}
}

func TestGetMessageQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetMessageQuery
	_, err := q.Query(context.Background(), GetMessageMessage{MessageID: "msg-1"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
