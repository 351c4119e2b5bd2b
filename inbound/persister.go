package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/goliatone/go-ingress/core"
)

const defaultMessageKind = "text"

// Persister writes the canonical record of an accepted request. Chat
// messages are queued for the workflow engine; state update events are
// stored as completed audit records.
type Persister struct {
	Messages core.MessageStore
}

// Persist stores the message. core.ErrDuplicateMessage is returned unchanged
// so the caller can answer with the replay contract.
func (p Persister) Persist(ctx context.Context, messageID string, req core.IngressRequest, thread core.Thread) (core.Message, error) {
	if p.Messages == nil {
		return core.Message{}, inboundInternal("inbound: message store is required", nil)
	}
	msg, err := BuildMessage(messageID, req, thread)
	if err != nil {
		return core.Message{}, err
	}
	stored, err := p.Messages.CreateMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateMessage) {
			return core.Message{}, core.ErrDuplicateMessage
		}
		return core.Message{}, inboundPersistenceFailed(err, map[string]any{
			"thread_id":     thread.ID,
			"client_msg_id": req.ClientMsgID,
			"message_id":    messageID,
		})
	}
	return stored, nil
}

// BuildMessage maps an ingress request onto the row persisted for it.
func BuildMessage(messageID string, req core.IngressRequest, thread core.Thread) (core.Message, error) {
	msg := core.Message{
		ID:          messageID,
		ThreadID:    thread.ID,
		Role:        core.RoleFromHint(req.RoleHint),
		ClientMsgID: req.ClientMsgID,
		Priority:    int(req.Priority),
	}
	switch {
	case req.EventType == core.EventMessageCreated:
		text := strings.TrimSpace(req.Payload.Text)
		if text == "" {
			return core.Message{}, inboundBadInput("payload.text is required for message.created", nil)
		}
		msg.Text = req.Payload.Text
		msg.Kind = req.MessageType
		if msg.Kind == "" {
			msg.Kind = defaultMessageKind
		}
		msg.Extra = core.CloneMap(req.Payload.Extra)
		msg.Status = core.MessageStatusQueued
	case req.EventType.IsNotification():
		msg.Text = req.Payload.Text
		msg.Kind = string(req.EventType)
		msg.Extra = core.CloneMap(req.Payload.Fields)
		delete(msg.Extra, "text")
		msg.Status = core.MessageStatusCompleted
	default:
		return core.Message{}, inboundBadInput("unsupported event_type", map[string]any{"event_type": string(req.EventType)})
	}
	if msg.Priority == 0 {
		msg.Priority = int(core.PriorityNormal)
	}
	return msg, nil
}

// SameContent reports whether two messages carry the same caller supplied
// content. Extra maps compare by their JSON encoding so stored and freshly
// parsed numbers match.
func SameContent(a, b core.Message) bool {
	if a.Role != b.Role || a.Kind != b.Kind || a.Text != b.Text || a.Priority != b.Priority {
		return false
	}
	if len(a.Extra) == 0 || len(b.Extra) == 0 {
		return len(a.Extra) == len(b.Extra)
	}
	left, err := json.Marshal(a.Extra)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b.Extra)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
