package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-ingress/core"
)

// sequence allocation retries when two writers pick the same next sequence
// for a thread.
const maxSequenceAttempts = 5

type MessageStore struct {
	db   *bun.DB
	repo repository.Repository[*messageRecord]
	now  func() time.Time
}

func NewMessageStore(db *bun.DB) (*MessageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*messageRecord](db, messageHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid message repository wiring: %w", err)
		}
	}
	return &MessageStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *MessageStore) GetMessage(ctx context.Context, id string) (core.Message, error) {
	if s == nil || s.db == nil {
		return core.Message{}, fmt.Errorf("sqlstore: message store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return core.Message{}, core.ErrMessageNotFound
	}
	record := &messageRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", trimmed).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Message{}, core.ErrMessageNotFound
		}
		return core.Message{}, err
	}
	return record.toDomain(), nil
}

func (s *MessageStore) FindByClientMsgID(ctx context.Context, threadID string, clientMsgID string) (core.Message, error) {
	if s == nil || s.repo == nil {
		return core.Message{}, fmt.Errorf("sqlstore: message store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("thread_id", "=", strings.TrimSpace(threadID)),
		repository.SelectBy("client_msg_id", "=", strings.TrimSpace(clientMsgID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Message{}, err
	}
	if len(records) == 0 {
		return core.Message{}, core.ErrMessageNotFound
	}
	return records[0].toDomain(), nil
}

// CreateMessage allocates the next per thread sequence and inserts the row in
// one transaction. A conflict on (thread_id, client_msg_id) reports
// core.ErrDuplicateMessage; a conflict on the sequence alone is retried.
func (s *MessageStore) CreateMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	if s == nil || s.db == nil {
		return core.Message{}, fmt.Errorf("sqlstore: message store is not configured")
	}
	msg.ThreadID = strings.TrimSpace(msg.ThreadID)
	msg.ClientMsgID = strings.TrimSpace(msg.ClientMsgID)
	if msg.ThreadID == "" || msg.ClientMsgID == "" {
		return core.Message{}, fmt.Errorf("sqlstore: thread id and client message id are required")
	}
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		created, err := s.insertWithSequence(ctx, msg)
		if err == nil {
			return created, nil
		}
		if !isUniqueViolation(err) {
			return core.Message{}, err
		}
		lastErr = err
		if _, findErr := s.FindByClientMsgID(ctx, msg.ThreadID, msg.ClientMsgID); findErr == nil {
			return core.Message{}, core.ErrDuplicateMessage
		}
		if _, getErr := s.GetMessage(ctx, msg.ID); getErr == nil {
			return core.Message{}, core.ErrDuplicateMessage
		}
	}
	return core.Message{}, fmt.Errorf("sqlstore: allocate message sequence: %w", lastErr)
}

func (s *MessageStore) insertWithSequence(ctx context.Context, msg core.Message) (core.Message, error) {
	var created core.Message
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var maxSequence int64
		if err := tx.NewSelect().
			Model((*messageRecord)(nil)).
			ColumnExpr("COALESCE(MAX(sequence), 0)").
			Where("?TableAlias.thread_id = ?", msg.ThreadID).
			Scan(ctx, &maxSequence); err != nil {
			return err
		}
		msg.Sequence = maxSequence + 1
		record := newMessageRecord(msg, s.now())
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return err
		}
		created = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Message{}, err
	}
	return created, nil
}

func (s *MessageStore) UpdateMessageStatus(ctx context.Context, msg core.Message, expected ...core.MessageStatus) (core.Message, error) {
	if s == nil || s.db == nil {
		return core.Message{}, fmt.Errorf("sqlstore: message store is not configured")
	}
	id := strings.TrimSpace(msg.ID)
	if id == "" {
		return core.Message{}, fmt.Errorf("sqlstore: message id is required")
	}
	now := s.now()
	query := s.db.NewUpdate().
		Model((*messageRecord)(nil)).
		Set("status = ?", string(msg.Status)).
		Set("forward_attempts = ?", msg.ForwardAttempts).
		Set("last_error = ?", msg.LastError).
		Set("updated_at = ?", now).
		Where("id = ?", id)
	if len(expected) > 0 {
		statuses := make([]string, 0, len(expected))
		for _, status := range expected {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status IN (?)", bun.In(statuses))
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return core.Message{}, err
	}
	if affected, affErr := res.RowsAffected(); affErr == nil && affected == 0 {
		if len(expected) == 0 {
			return core.Message{}, core.ErrMessageNotFound
		}
		if _, getErr := s.GetMessage(ctx, id); getErr != nil {
			return core.Message{}, getErr
		}
		return core.Message{}, core.ErrStaleMessageStatus
	}
	return s.GetMessage(ctx, id)
}

func (s *MessageStore) CountByThread(ctx context.Context, threadID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: message store is not configured")
	}
	return s.db.NewSelect().
		Model((*messageRecord)(nil)).
		Where("?TableAlias.thread_id = ?", strings.TrimSpace(threadID)).
		Count(ctx)
}

// ListByThread returns the thread's messages in sequence order.
func (s *MessageStore) ListByThread(ctx context.Context, threadID string) ([]core.Message, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: message store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("thread_id", "=", strings.TrimSpace(threadID)),
		repository.OrderBy("sequence ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Message, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
