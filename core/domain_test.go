package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMessageTransitionTo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{Status: MessageStatusQueued}

	if err := msg.TransitionTo(MessageStatusForwardFailed, " workflow returned 503 ", now); err != nil {
		t.Fatalf("queued -> forward_failed: %v", err)
	}
	if msg.LastError != "workflow returned 503" || !msg.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected message after failure: %#v", msg)
	}
	if err := msg.TransitionTo(MessageStatusForwarded, "", now); err != nil {
		t.Fatalf("forward_failed -> forwarded: %v", err)
	}
	if err := msg.TransitionTo(MessageStatusCompleted, "", now); err != nil {
		t.Fatalf("forwarded -> completed: %v", err)
	}
	if err := msg.TransitionTo(MessageStatusCompleted, "", now.Add(time.Second)); err != nil {
		t.Fatalf("expected same status to be a no-op, got %v", err)
	}

	err := msg.TransitionTo(MessageStatusFailed, "late", now)
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected terminal status to reject transitions, got %v", err)
	}
	if msg.Status != MessageStatusCompleted {
		t.Fatalf("expected status to stay completed, got %s", msg.Status)
	}

	var nilMessage *Message
	if err := nilMessage.TransitionTo(MessageStatusCompleted, "", now); err != nil {
		t.Fatalf("expected nil message to be ignored, got %v", err)
	}
}

func TestMessageStatusTerminal(t *testing.T) {
	for status, terminal := range map[MessageStatus]bool{
		MessageStatusQueued:        false,
		MessageStatusForwarded:     false,
		MessageStatusForwardFailed: false,
		MessageStatusCompleted:     true,
		MessageStatusFailed:        true,
	} {
		if status.Terminal() != terminal {
			t.Fatalf("expected %s terminal=%v", status, terminal)
		}
	}
}

func TestEventTypeClassification(t *testing.T) {
	if !EventMessageCreated.Supported() || EventMessageCreated.IsNotification() {
		t.Fatalf("expected message.created to be supported work")
	}
	if !EventTaskUpdate.IsNotification() || !EventBlackboardUpdate.IsNotification() {
		t.Fatalf("expected update events to be notifications")
	}
	if EventType("message.deleted").Supported() {
		t.Fatalf("expected unknown event to be unsupported")
	}
}

func TestRoleFromHint(t *testing.T) {
	if RoleFromHint(" System ") != RoleSystem {
		t.Fatalf("expected system hint to map to system role")
	}
	if RoleFromHint("assistant") != RoleUser || RoleFromHint("") != RoleUser {
		t.Fatalf("expected other hints to map to user role")
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	value, err := NormalizeIdentifier("thread_id", "  T-1  ")
	if err != nil || value != "T-1" {
		t.Fatalf("expected trimmed identifier, got %q %v", value, err)
	}

	for name, input := range map[string]string{
		"empty":       "   ",
		"too long":    strings.Repeat("a", MaxIdentifierLength+1),
		"invalid":     "abc\xff",
		"unprintable": "abc\x00def",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeIdentifier("client_msg_id", input)
			if !errors.Is(err, ErrInvalidIdentifier) {
				t.Fatalf("expected invalid identifier, got %v", err)
			}
			if !strings.Contains(err.Error(), "client_msg_id") {
				t.Fatalf("expected field name in error, got %v", err)
			}
		})
	}
}

func TestCloneMap(t *testing.T) {
	source := map[string]any{"a": 1}
	clone := CloneMap(source)
	clone["b"] = 2
	if _, ok := source["b"]; ok {
		t.Fatalf("expected clone to be independent")
	}
	if empty := CloneMap(nil); empty == nil {
		t.Fatalf("expected non-nil map for nil input")
	}
}

func TestPriorityUnmarshalBounds(t *testing.T) {
	var p Priority
	if err := p.UnmarshalJSON([]byte(`100`)); err != nil || p != MaxPriority {
		t.Fatalf("expected max priority to decode, got %d %v", p, err)
	}
	if err := p.UnmarshalJSON([]byte(`"urgent"`)); err != nil || p != PriorityUrgent {
		t.Fatalf("expected named level, got %d %v", p, err)
	}
	for _, raw := range []string{`101`, `-1`, `1e20`, `3.5`, `"1e300"`} {
		if err := p.UnmarshalJSON([]byte(raw)); !errors.Is(err, ErrPriorityOutOfRange) {
			t.Fatalf("expected out of range error for %s, got %v", raw, err)
		}
	}
}
