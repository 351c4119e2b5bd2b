package inbound

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-ingress/core"
)

const (
	ledgerReasonRefundDuplicate = "refund:duplicate"
	ledgerReasonRefundPersist   = "refund:persist_failed"
)

// BalanceGate checks the owning account's quota against the cost of the
// event. In debit mode the cost is taken with a conditional decrement so
// concurrent requests cannot overdraw the account.
type BalanceGate struct {
	Balances core.BalanceStore
	Config   core.BalanceConfig
}

// Reservation records what the gate took so it can be handed back.
type Reservation struct {
	AccountID string
	MessageID string
	Amount    int64
	Debited   bool
}

func (g BalanceGate) Reserve(ctx context.Context, accountID, messageID string, event core.EventType) (Reservation, error) {
	if g.Balances == nil {
		return Reservation{}, inboundInternal("inbound: balance store is required", nil)
	}
	cost := g.Config.Cost(event)
	reservation := Reservation{AccountID: accountID, MessageID: messageID, Amount: cost}
	metadata := map[string]any{"owner_id": accountID, "cost": cost, "event_type": string(event)}

	if g.mode() == core.BalanceModeDebit && cost > 0 {
		if _, err := g.Balances.Debit(ctx, accountID, messageID, cost); err != nil {
			if errors.Is(err, core.ErrInsufficientBalance) || errors.Is(err, core.ErrBalanceNotFound) {
				return Reservation{}, inboundQuotaExceeded(metadata)
			}
			return Reservation{}, passThrough(err, "balance")
		}
		reservation.Debited = true
		return reservation, nil
	}

	balance, err := g.Balances.GetBalance(ctx, accountID)
	if err != nil && !errors.Is(err, core.ErrBalanceNotFound) {
		return Reservation{}, passThrough(err, "balance")
	}
	if balance.Amount < cost {
		metadata["balance"] = balance.Amount
		return Reservation{}, inboundQuotaExceeded(metadata)
	}
	return reservation, nil
}

// Release refunds a debited reservation. It is a no-op for check mode.
func (g BalanceGate) Release(ctx context.Context, reservation Reservation, reason string) error {
	if !reservation.Debited || reservation.Amount <= 0 || g.Balances == nil {
		return nil
	}
	_, err := g.Balances.Credit(ctx, reservation.AccountID, reservation.MessageID, reservation.Amount, reason)
	return err
}

func (g BalanceGate) mode() string {
	if strings.TrimSpace(g.Config.Mode) == core.BalanceModeCheck {
		return core.BalanceModeCheck
	}
	return core.BalanceModeDebit
}
