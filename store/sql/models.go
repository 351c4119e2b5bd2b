package sqlstore

import (
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-ingress/core"
)

type threadRecord struct {
	bun.BaseModel `bun:"table:ingress_threads,alias:it"`

	ID        string         `bun:"id,pk"`
	OwnerID   string         `bun:"owner_id,notnull"`
	Title     string         `bun:"title,notnull"`
	Type      string         `bun:"type,notnull"`
	Settings  map[string]any `bun:"settings,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type messageRecord struct {
	bun.BaseModel `bun:"table:ingress_messages,alias:im"`

	ID              string         `bun:"id,pk"`
	ThreadID        string         `bun:"thread_id,notnull"`
	Role            string         `bun:"role,notnull"`
	Kind            string         `bun:"kind,notnull"`
	Text            string         `bun:"text,notnull"`
	Extra           map[string]any `bun:"extra,type:jsonb,notnull"`
	ClientMsgID     string         `bun:"client_msg_id,notnull"`
	Status          string         `bun:"status,notnull"`
	Sequence        int64          `bun:"sequence,notnull"`
	Priority        int            `bun:"priority,notnull"`
	ForwardAttempts int            `bun:"forward_attempts,notnull"`
	LastError       string         `bun:"last_error,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type balanceRecord struct {
	bun.BaseModel `bun:"table:ingress_account_balances,alias:iab"`

	AccountID string    `bun:"account_id,pk"`
	Balance   int64     `bun:"balance,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type ledgerRecord struct {
	bun.BaseModel `bun:"table:ingress_balance_ledger,alias:ibl"`

	ID        string    `bun:"id,pk"`
	AccountID string    `bun:"account_id,notnull"`
	MessageID string    `bun:"message_id,notnull"`
	Delta     int64     `bun:"delta,notnull"`
	Reason    string    `bun:"reason,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type legacyRoomRecord struct {
	bun.BaseModel `bun:"table:legacy_chat_rooms,alias:lcr"`

	ID        string         `bun:"id,pk"`
	OwnerID   string         `bun:"owner_id,notnull"`
	Name      string         `bun:"name,notnull"`
	Settings  map[string]any `bun:"settings,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type legacyMemberRecord struct {
	bun.BaseModel `bun:"table:legacy_chat_room_members,alias:lcm"`

	RoomID    string    `bun:"room_id,pk"`
	UserID    string    `bun:"user_id,pk"`
	Role      string    `bun:"role,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newThreadRecord(thread core.Thread, now time.Time) *threadRecord {
	return &threadRecord{
		ID:        strings.TrimSpace(thread.ID),
		OwnerID:   strings.TrimSpace(thread.OwnerID),
		Title:     thread.Title,
		Type:      thread.Type,
		Settings:  copyAnyMap(thread.Settings),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *threadRecord) toDomain() core.Thread {
	if r == nil {
		return core.Thread{}
	}
	return core.Thread{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Title:     r.Title,
		Type:      r.Type,
		Settings:  copyAnyMap(r.Settings),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func newMessageRecord(msg core.Message, now time.Time) *messageRecord {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &messageRecord{
		ID:              strings.TrimSpace(msg.ID),
		ThreadID:        strings.TrimSpace(msg.ThreadID),
		Role:            string(msg.Role),
		Kind:            msg.Kind,
		Text:            msg.Text,
		Extra:           copyAnyMap(msg.Extra),
		ClientMsgID:     strings.TrimSpace(msg.ClientMsgID),
		Status:          string(msg.Status),
		Sequence:        msg.Sequence,
		Priority:        msg.Priority,
		ForwardAttempts: msg.ForwardAttempts,
		LastError:       msg.LastError,
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	}
}

func (r *messageRecord) toDomain() core.Message {
	if r == nil {
		return core.Message{}
	}
	return core.Message{
		ID:              r.ID,
		ThreadID:        r.ThreadID,
		Role:            core.Role(r.Role),
		Kind:            r.Kind,
		Text:            r.Text,
		Extra:           copyAnyMap(r.Extra),
		ClientMsgID:     r.ClientMsgID,
		Status:          core.MessageStatus(r.Status),
		Sequence:        r.Sequence,
		Priority:        r.Priority,
		ForwardAttempts: r.ForwardAttempts,
		LastError:       r.LastError,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func (r *balanceRecord) toDomain() core.Balance {
	if r == nil {
		return core.Balance{}
	}
	return core.Balance{
		AccountID: r.AccountID,
		Amount:    r.Balance,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (r *ledgerRecord) toDomain() core.LedgerEntry {
	if r == nil {
		return core.LedgerEntry{}
	}
	return core.LedgerEntry{
		ID:        r.ID,
		AccountID: r.AccountID,
		MessageID: r.MessageID,
		Delta:     r.Delta,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (r *legacyRoomRecord) toDomain() core.LegacyRoom {
	if r == nil {
		return core.LegacyRoom{}
	}
	return core.LegacyRoom{
		ID:       r.ID,
		OwnerID:  r.OwnerID,
		Name:     r.Name,
		Settings: copyAnyMap(r.Settings),
	}
}

func (r *legacyMemberRecord) toDomain() core.LegacyMembership {
	if r == nil {
		return core.LegacyMembership{}
	}
	return core.LegacyMembership{
		RoomID: r.RoomID,
		UserID: r.UserID,
		Role:   r.Role,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
