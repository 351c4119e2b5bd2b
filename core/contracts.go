package core

import (
	"context"
	"errors"

	glog "github.com/goliatone/go-logger/glog"
)

var ErrLegacyRecordNotFound = errors.New("core: legacy record not found")

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// ThreadStore is the canonical thread table. CreateThreadIfAbsent is an
// upsert keyed on the thread id: when the row already exists the stored row
// is returned unchanged, so racing writers converge on a single owner.
type ThreadStore interface {
	GetThread(ctx context.Context, id string) (Thread, error)
	CreateThreadIfAbsent(ctx context.Context, thread Thread) (Thread, error)
}

// LegacyStore reads the previous room based storage shape. It is never
// written by the gateway.
type LegacyStore interface {
	GetLegacyRoom(ctx context.Context, id string) (LegacyRoom, error)
	FindLegacyOwner(ctx context.Context, roomID string) (LegacyMembership, error)
}

type MessageStore interface {
	GetMessage(ctx context.Context, id string) (Message, error)
	FindByClientMsgID(ctx context.Context, threadID string, clientMsgID string) (Message, error)
	// CreateMessage inserts a message and assigns its sequence. A unique
	// violation on (thread_id, client_msg_id) is reported as ErrDuplicateMessage.
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	// UpdateMessageStatus writes status, attempts and last error. When expected
	// is non-empty the write only applies while the stored status is one of
	// them; otherwise ErrStaleMessageStatus is returned.
	UpdateMessageStatus(ctx context.Context, msg Message, expected ...MessageStatus) (Message, error)
	CountByThread(ctx context.Context, threadID string) (int, error)
}

type BalanceStore interface {
	GetBalance(ctx context.Context, accountID string) (Balance, error)
	// Debit decrements the balance only when it covers amount, otherwise it
	// returns ErrInsufficientBalance and leaves the row untouched.
	Debit(ctx context.Context, accountID string, messageID string, amount int64) (Balance, error)
	Credit(ctx context.Context, accountID string, messageID string, amount int64, reason string) (Balance, error)
}

type Verifier interface {
	Verify(ctx context.Context, req InboundRequest) (Principal, error)
}

type Forwarder interface {
	Forward(ctx context.Context, req ForwardRequest) (ForwardResult, error)
}

type ThreadResolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (Resolution, error)
}

type CallbackURLResolver interface {
	ResolveCallbackURL(ctx context.Context, req CallbackURLResolveRequest) (string, error)
}

// StoreProvider is implemented by repository factories that expose the full
// set of gateway stores.
type StoreProvider interface {
	ThreadStore() ThreadStore
	LegacyStore() LegacyStore
	MessageStore() MessageStore
	BalanceStore() BalanceStore
}
