package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-ingress/core"
)

type ThreadStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewThreadStore(db bun.IDB) (*ThreadStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ThreadStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *ThreadStore) GetThread(ctx context.Context, id string) (core.Thread, error) {
	if s == nil || s.db == nil {
		return core.Thread{}, fmt.Errorf("sqlstore: thread store is not configured")
	}
	record := &threadRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Thread{}, core.ErrThreadNotFound
		}
		return core.Thread{}, err
	}
	return record.toDomain(), nil
}

// CreateThreadIfAbsent inserts the thread unless a row with the same id is
// already present, then reads back whichever row won.
func (s *ThreadStore) CreateThreadIfAbsent(ctx context.Context, thread core.Thread) (core.Thread, error) {
	if s == nil || s.db == nil {
		return core.Thread{}, fmt.Errorf("sqlstore: thread store is not configured")
	}
	thread.ID = strings.TrimSpace(thread.ID)
	if thread.ID == "" {
		return core.Thread{}, fmt.Errorf("sqlstore: thread id is required")
	}
	record := newThreadRecord(thread, s.now())
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx); err != nil {
		return core.Thread{}, err
	}
	return s.GetThread(ctx, thread.ID)
}
