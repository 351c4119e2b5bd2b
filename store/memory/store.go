// Package memory provides mutex guarded stores satisfying the gateway store
// contracts. It backs tests and single process development setups.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-ingress/core"
)

type messageKey struct {
	threadID    string
	clientMsgID string
}

type Store struct {
	mu sync.Mutex

	now func() time.Time

	threads     map[string]core.Thread
	rooms       map[string]core.LegacyRoom
	memberships map[string][]core.LegacyMembership
	messages    map[string]core.Message
	byClientKey map[messageKey]string
	sequences   map[string]int64
	balances    map[string]core.Balance
	ledger      []core.LedgerEntry
}

func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		threads:     map[string]core.Thread{},
		rooms:       map[string]core.LegacyRoom{},
		memberships: map[string][]core.LegacyMembership{},
		messages:    map[string]core.Message{},
		byClientKey: map[messageKey]string{},
		sequences:   map[string]int64{},
		balances:    map[string]core.Balance{},
	}
}

// WithClock replaces the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) ThreadStore() core.ThreadStore   { return s }
func (s *Store) LegacyStore() core.LegacyStore   { return s }
func (s *Store) MessageStore() core.MessageStore { return s }
func (s *Store) BalanceStore() core.BalanceStore { return s }

func (s *Store) GetThread(_ context.Context, id string) (core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[strings.TrimSpace(id)]
	if !ok {
		return core.Thread{}, core.ErrThreadNotFound
	}
	return cloneThread(thread), nil
}

func (s *Store) CreateThreadIfAbsent(_ context.Context, thread core.Thread) (core.Thread, error) {
	id := strings.TrimSpace(thread.ID)
	if id == "" {
		return core.Thread{}, fmt.Errorf("memory: thread id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.threads[id]; ok {
		return cloneThread(existing), nil
	}
	now := s.now()
	thread.ID = id
	thread.Settings = core.CloneMap(thread.Settings)
	thread.CreatedAt = now
	thread.UpdatedAt = now
	s.threads[id] = thread
	return cloneThread(thread), nil
}

func (s *Store) GetLegacyRoom(_ context.Context, id string) (core.LegacyRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[strings.TrimSpace(id)]
	if !ok {
		return core.LegacyRoom{}, core.ErrLegacyRecordNotFound
	}
	room.Settings = core.CloneMap(room.Settings)
	return room, nil
}

func (s *Store) FindLegacyOwner(_ context.Context, roomID string) (core.LegacyMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, member := range s.memberships[strings.TrimSpace(roomID)] {
		if strings.EqualFold(member.Role, core.LegacyRoleOwner) {
			return member, nil
		}
	}
	return core.LegacyMembership{}, core.ErrLegacyRecordNotFound
}

// SeedLegacyRoom inserts a row in the legacy room table.
func (s *Store) SeedLegacyRoom(room core.LegacyRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.Settings = core.CloneMap(room.Settings)
	s.rooms[room.ID] = room
}

func (s *Store) SeedLegacyMembership(member core.LegacyMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[member.RoomID] = append(s.memberships[member.RoomID], member)
}

func (s *Store) GetMessage(_ context.Context, id string) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[strings.TrimSpace(id)]
	if !ok {
		return core.Message{}, core.ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (s *Store) FindByClientMsgID(_ context.Context, threadID string, clientMsgID string) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byClientKey[messageKey{threadID: threadID, clientMsgID: clientMsgID}]
	if !ok {
		return core.Message{}, core.ErrMessageNotFound
	}
	return cloneMessage(s.messages[id]), nil
}

func (s *Store) CreateMessage(_ context.Context, msg core.Message) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := s.messages[msg.ID]; exists {
		return core.Message{}, core.ErrDuplicateMessage
	}
	key := messageKey{threadID: msg.ThreadID, clientMsgID: msg.ClientMsgID}
	if _, exists := s.byClientKey[key]; exists {
		return core.Message{}, core.ErrDuplicateMessage
	}
	now := s.now()
	s.sequences[msg.ThreadID]++
	msg.Sequence = s.sequences[msg.ThreadID]
	msg.Extra = core.CloneMap(msg.Extra)
	msg.CreatedAt = now
	msg.UpdatedAt = now
	s.messages[msg.ID] = msg
	s.byClientKey[key] = msg.ID
	return cloneMessage(msg), nil
}

func (s *Store) UpdateMessageStatus(_ context.Context, msg core.Message, expected ...core.MessageStatus) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.messages[msg.ID]
	if !ok {
		return core.Message{}, core.ErrMessageNotFound
	}
	if len(expected) > 0 && !slices.Contains(expected, stored.Status) {
		return core.Message{}, core.ErrStaleMessageStatus
	}
	stored.Status = msg.Status
	stored.ForwardAttempts = msg.ForwardAttempts
	stored.LastError = msg.LastError
	stored.UpdatedAt = s.now()
	s.messages[msg.ID] = stored
	return cloneMessage(stored), nil
}

func (s *Store) CountByThread(_ context.Context, threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		if msg.ThreadID == threadID {
			count++
		}
	}
	return count, nil
}

// SetBalance creates or replaces the balance for accountID.
func (s *Store) SetBalance(accountID string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[accountID] = core.Balance{AccountID: accountID, Amount: amount, UpdatedAt: s.now()}
}

func (s *Store) GetBalance(_ context.Context, accountID string) (core.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[strings.TrimSpace(accountID)]
	if !ok {
		return core.Balance{}, core.ErrBalanceNotFound
	}
	return balance, nil
}

func (s *Store) Debit(_ context.Context, accountID string, messageID string, amount int64) (core.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[accountID]
	if !ok {
		if amount <= 0 {
			return core.Balance{AccountID: accountID}, nil
		}
		return core.Balance{}, core.ErrInsufficientBalance
	}
	if amount <= 0 {
		return balance, nil
	}
	if balance.Amount < amount {
		return core.Balance{}, core.ErrInsufficientBalance
	}
	balance.Amount -= amount
	balance.UpdatedAt = s.now()
	s.balances[accountID] = balance
	s.appendLedger(accountID, messageID, -amount, "debit")
	return balance, nil
}

func (s *Store) Credit(_ context.Context, accountID string, messageID string, amount int64, reason string) (core.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance := s.balances[accountID]
	balance.AccountID = accountID
	if amount <= 0 {
		return balance, nil
	}
	balance.Amount += amount
	balance.UpdatedAt = s.now()
	s.balances[accountID] = balance
	s.appendLedger(accountID, messageID, amount, reason)
	return balance, nil
}

// Ledger returns a copy of the recorded balance movements.
func (s *Store) Ledger() []core.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.LedgerEntry(nil), s.ledger...)
}

func (s *Store) appendLedger(accountID, messageID string, delta int64, reason string) {
	s.ledger = append(s.ledger, core.LedgerEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		MessageID: messageID,
		Delta:     delta,
		Reason:    reason,
		CreatedAt: s.now(),
	})
}

func cloneThread(thread core.Thread) core.Thread {
	thread.Settings = core.CloneMap(thread.Settings)
	return thread
}

func cloneMessage(msg core.Message) core.Message {
	msg.Extra = core.CloneMap(msg.Extra)
	return msg
}

var (
	_ core.ThreadStore   = (*Store)(nil)
	_ core.LegacyStore   = (*Store)(nil)
	_ core.MessageStore  = (*Store)(nil)
	_ core.BalanceStore  = (*Store)(nil)
	_ core.StoreProvider = (*Store)(nil)
)
