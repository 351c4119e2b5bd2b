package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-ingress/core"
)

// LegacyStore reads the room based tables that predate threads. It never
// writes to them.
type LegacyStore struct {
	db bun.IDB
}

func NewLegacyStore(db bun.IDB) (*LegacyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &LegacyStore{db: db}, nil
}

func (s *LegacyStore) GetLegacyRoom(ctx context.Context, id string) (core.LegacyRoom, error) {
	if s == nil || s.db == nil {
		return core.LegacyRoom{}, fmt.Errorf("sqlstore: legacy store is not configured")
	}
	record := &legacyRoomRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.LegacyRoom{}, core.ErrLegacyRecordNotFound
		}
		return core.LegacyRoom{}, err
	}
	return record.toDomain(), nil
}

func (s *LegacyStore) FindLegacyOwner(ctx context.Context, roomID string) (core.LegacyMembership, error) {
	if s == nil || s.db == nil {
		return core.LegacyMembership{}, fmt.Errorf("sqlstore: legacy store is not configured")
	}
	record := &legacyMemberRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.room_id = ?", strings.TrimSpace(roomID)).
		Where("?TableAlias.role = ?", core.LegacyRoleOwner).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.LegacyMembership{}, core.ErrLegacyRecordNotFound
		}
		return core.LegacyMembership{}, err
	}
	return record.toDomain(), nil
}
