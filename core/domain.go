package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	ErrThreadNotFound          = errors.New("core: thread not found")
	ErrMessageNotFound         = errors.New("core: message not found")
	ErrBalanceNotFound         = errors.New("core: account balance not found")
	ErrInsufficientBalance     = errors.New("core: insufficient balance")
	ErrDuplicateMessage        = errors.New("core: duplicate message")
	ErrInvalidIdentifier       = errors.New("core: invalid identifier")
	ErrInvalidStatusTransition = errors.New("core: invalid message status transition")
	ErrStaleMessageStatus      = errors.New("core: message status changed concurrently")
)

const MaxIdentifierLength = 255

type EventType string

const (
	EventMessageCreated   EventType = "message.created"
	EventBlackboardUpdate EventType = "blackboard_update"
	EventTaskUpdate       EventType = "task_update"
)

func (e EventType) Supported() bool {
	switch e {
	case EventMessageCreated, EventBlackboardUpdate, EventTaskUpdate:
		return true
	default:
		return false
	}
}

// IsNotification reports whether the event is a state update persisted as an
// audit record rather than queued work.
func (e EventType) IsNotification() bool {
	return e == EventBlackboardUpdate || e == EventTaskUpdate
}

type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// RoleFromHint maps a caller supplied role hint onto the roles accepted for
// inbound messages. Anything that is not explicitly "system" is a user turn.
func RoleFromHint(hint string) Role {
	if strings.EqualFold(strings.TrimSpace(hint), string(RoleSystem)) {
		return RoleSystem
	}
	return RoleUser
}

type MessageStatus string

const (
	MessageStatusQueued        MessageStatus = "queued"
	MessageStatusForwarded     MessageStatus = "forwarded"
	MessageStatusForwardFailed MessageStatus = "forward_failed"
	MessageStatusCompleted     MessageStatus = "completed"
	MessageStatusFailed        MessageStatus = "failed"
)

func (s MessageStatus) Terminal() bool {
	return s == MessageStatusCompleted || s == MessageStatusFailed
}

func messageTransitionAllowed(from, to MessageStatus) bool {
	switch from {
	case MessageStatusQueued:
		return to == MessageStatusForwarded || to == MessageStatusForwardFailed ||
			to == MessageStatusCompleted || to == MessageStatusFailed
	case MessageStatusForwardFailed:
		return to == MessageStatusForwarded || to == MessageStatusForwardFailed ||
			to == MessageStatusCompleted || to == MessageStatusFailed
	case MessageStatusForwarded:
		return to == MessageStatusCompleted || to == MessageStatusFailed
	default:
		return false
	}
}

type Thread struct {
	ID        string
	OwnerID   string
	Title     string
	Type      string
	Settings  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID              string
	ThreadID        string
	Role            Role
	Kind            string
	Text            string
	Extra           map[string]any
	ClientMsgID     string
	Status          MessageStatus
	Sequence        int64
	Priority        int
	ForwardAttempts int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (m *Message) TransitionTo(status MessageStatus, reason string, now time.Time) error {
	if m == nil {
		return nil
	}
	if m.Status == status {
		m.UpdatedAt = now
		return nil
	}
	if !messageTransitionAllowed(m.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, m.Status, status)
	}
	m.Status = status
	m.LastError = strings.TrimSpace(reason)
	m.UpdatedAt = now
	return nil
}

type Balance struct {
	AccountID string
	Amount    int64
	UpdatedAt time.Time
}

type LedgerEntry struct {
	ID        string
	AccountID string
	MessageID string
	Delta     int64
	Reason    string
	CreatedAt time.Time
}

// LegacyRoom is the previous storage shape for conversations.
type LegacyRoom struct {
	ID       string
	OwnerID  string
	Name     string
	Settings map[string]any
}

type LegacyMembership struct {
	RoomID string
	UserID string
	Role   string
}

const LegacyRoleOwner = "owner"

// NormalizeIdentifier trims and checks a caller supplied identifier.
func NormalizeIdentifier(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidIdentifier, field)
	}
	if len(value) > MaxIdentifierLength {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidIdentifier, field, MaxIdentifierLength)
	}
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("%w: %s is not valid utf-8", ErrInvalidIdentifier, field)
	}
	for _, r := range value {
		if !unicode.IsPrint(r) {
			return "", fmt.Errorf("%w: %s contains non printable characters", ErrInvalidIdentifier, field)
		}
	}
	return value, nil
}

func CloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
