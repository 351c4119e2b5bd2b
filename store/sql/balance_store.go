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

const ledgerReasonDebit = "debit"

type BalanceStore struct {
	db     *bun.DB
	ledger repository.Repository[*ledgerRecord]
	now    func() time.Time
}

func NewBalanceStore(db *bun.DB) (*BalanceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	ledger := repository.NewRepository[*ledgerRecord](db, ledgerHandlers())
	if validator, ok := ledger.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid ledger repository wiring: %w", err)
		}
	}
	return &BalanceStore{
		db:     db,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *BalanceStore) GetBalance(ctx context.Context, accountID string) (core.Balance, error) {
	if s == nil || s.db == nil {
		return core.Balance{}, fmt.Errorf("sqlstore: balance store is not configured")
	}
	return getBalance(ctx, s.db, strings.TrimSpace(accountID))
}

// Debit decrements with a guarded UPDATE so concurrent debits can never take
// the balance below zero.
func (s *BalanceStore) Debit(ctx context.Context, accountID string, messageID string, amount int64) (core.Balance, error) {
	if s == nil || s.db == nil {
		return core.Balance{}, fmt.Errorf("sqlstore: balance store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if amount <= 0 {
		balance, err := getBalance(ctx, s.db, accountID)
		if errors.Is(err, core.ErrBalanceNotFound) {
			return core.Balance{AccountID: accountID}, nil
		}
		return balance, err
	}

	var out core.Balance
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.now()
		res, err := tx.NewUpdate().
			Model((*balanceRecord)(nil)).
			Set("balance = balance - ?", amount).
			Set("updated_at = ?", now).
			Where("account_id = ?", accountID).
			Where("balance >= ?", amount).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.ErrInsufficientBalance
		}
		if err := s.appendLedger(ctx, tx, accountID, messageID, -amount, ledgerReasonDebit, now); err != nil {
			return err
		}
		out, err = getBalance(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return core.Balance{}, err
	}
	return out, nil
}

// Credit adds amount to the account, opening it when it does not exist yet.
func (s *BalanceStore) Credit(ctx context.Context, accountID string, messageID string, amount int64, reason string) (core.Balance, error) {
	if s == nil || s.db == nil {
		return core.Balance{}, fmt.Errorf("sqlstore: balance store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return core.Balance{}, fmt.Errorf("sqlstore: account id is required")
	}
	if amount <= 0 {
		balance, err := getBalance(ctx, s.db, accountID)
		if errors.Is(err, core.ErrBalanceNotFound) {
			return core.Balance{AccountID: accountID}, nil
		}
		return balance, err
	}

	var out core.Balance
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.now()
		res, err := tx.NewUpdate().
			Model((*balanceRecord)(nil)).
			Set("balance = balance + ?", amount).
			Set("updated_at = ?", now).
			Where("account_id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			record := &balanceRecord{AccountID: accountID, Balance: amount, UpdatedAt: now}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return err
			}
		}
		if err := s.appendLedger(ctx, tx, accountID, messageID, amount, strings.TrimSpace(reason), now); err != nil {
			return err
		}
		out, err = getBalance(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return core.Balance{}, err
	}
	return out, nil
}

// Ledger lists the balance movements recorded for an account, oldest first.
func (s *BalanceStore) Ledger(ctx context.Context, accountID string) ([]core.LedgerEntry, error) {
	if s == nil || s.ledger == nil {
		return nil, fmt.Errorf("sqlstore: balance store is not configured")
	}
	records, _, err := s.ledger.List(ctx,
		repository.SelectBy("account_id", "=", strings.TrimSpace(accountID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.LedgerEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *BalanceStore) appendLedger(
	ctx context.Context,
	tx bun.Tx,
	accountID string,
	messageID string,
	delta int64,
	reason string,
	now time.Time,
) error {
	record := &ledgerRecord{
		ID:        uuid.NewString(),
		AccountID: accountID,
		MessageID: strings.TrimSpace(messageID),
		Delta:     delta,
		Reason:    reason,
		CreatedAt: now,
	}
	_, err := s.ledger.CreateTx(ctx, tx, record)
	return err
}

func getBalance(ctx context.Context, db bun.IDB, accountID string) (core.Balance, error) {
	record := &balanceRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.account_id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Balance{}, core.ErrBalanceNotFound
		}
		return core.Balance{}, err
	}
	return record.toDomain(), nil
}
