package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goliatone/go-ingress/core"
)

func TestStore_CreateThreadIfAbsentKeepsFirstOwner(t *testing.T) {
	store := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, owner := range []string{"U1", "U2", "U3", "U4"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			if _, err := store.CreateThreadIfAbsent(ctx, core.Thread{ID: "T1", OwnerID: owner}); err != nil {
				t.Errorf("create thread: %v", err)
			}
		}(owner)
	}
	wg.Wait()

	first, err := store.GetThread(ctx, "T1")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	again, err := store.CreateThreadIfAbsent(ctx, core.Thread{ID: "T1", OwnerID: "other"})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if again.OwnerID != first.OwnerID {
		t.Fatalf("expected owner %q to stick, got %q", first.OwnerID, again.OwnerID)
	}
}

func TestStore_CreateMessageRejectsDuplicateClientKey(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.CreateMessage(ctx, core.Message{ThreadID: "T1", ClientMsgID: "m1", Text: "hello"})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if first.Sequence != 1 || first.ID == "" {
		t.Fatalf("unexpected message: %#v", first)
	}
	if _, err := store.CreateMessage(ctx, core.Message{ThreadID: "T1", ClientMsgID: "m1"}); !errors.Is(err, core.ErrDuplicateMessage) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	second, err := store.CreateMessage(ctx, core.Message{ThreadID: "T1", ClientMsgID: "m2"})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if second.Sequence != 2 {
		t.Fatalf("expected sequence 2, got %d", second.Sequence)
	}
	count, _ := store.CountByThread(ctx, "T1")
	if count != 2 {
		t.Fatalf("expected 2 messages, got %d", count)
	}
}

func TestStore_DebitIsConditional(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.SetBalance("U1", 1)

	if _, err := store.Debit(ctx, "U1", "msg-1", 1); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := store.Debit(ctx, "U1", "msg-2", 1); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	balance, err := store.Credit(ctx, "U1", "msg-1", 1, "refund")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance.Amount != 1 {
		t.Fatalf("expected refunded balance 1, got %d", balance.Amount)
	}
	if entries := store.Ledger(); len(entries) != 2 || entries[0].Delta != -1 || entries[1].Reason != "refund" {
		t.Fatalf("unexpected ledger: %#v", entries)
	}
}

func TestStore_UpdateMessageStatusHonoursExpectedStatus(t *testing.T) {
	store := New()
	ctx := context.Background()
	msg, err := store.CreateMessage(ctx, core.Message{ThreadID: "T1", ClientMsgID: "m1", Status: core.MessageStatusQueued})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	completed := msg
	completed.Status = core.MessageStatusCompleted
	if _, err := store.UpdateMessageStatus(ctx, completed, core.MessageStatusQueued); err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	forwarded := msg
	forwarded.Status = core.MessageStatusForwarded
	if _, err := store.UpdateMessageStatus(ctx, forwarded, core.MessageStatusQueued); !errors.Is(err, core.ErrStaleMessageStatus) {
		t.Fatalf("expected stale status error, got %v", err)
	}
	stored, _ := store.GetMessage(ctx, msg.ID)
	if stored.Status != core.MessageStatusCompleted {
		t.Fatalf("expected completed to stand, got %q", stored.Status)
	}
	if _, err := store.UpdateMessageStatus(ctx, core.Message{ID: "missing"}, core.MessageStatusQueued); !errors.Is(err, core.ErrMessageNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
