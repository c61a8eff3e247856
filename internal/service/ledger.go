package service

import (
	"context"
	"fmt"
)

type balanceStore interface {
	TrySpend(ctx context.Context, userID int64, amount int) (bool, error)
	AddCredits(ctx context.Context, userID int64, amount int) error
}

// Ledger is the only way balances change outside purchase and referral transactions.
type Ledger struct {
	store balanceStore
}

func NewLedger(store balanceStore) *Ledger {
	return &Ledger{store: store}
}

// TrySpend reports whether amount was deducted. It never leaves a negative balance.
func (l *Ledger) TrySpend(ctx context.Context, userID int64, amount int) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("spend amount must be positive, got %d", amount)
	}
	return l.store.TrySpend(ctx, userID, amount)
}

// Refund returns credits taken by a spend whose generation failed.
func (l *Ledger) Refund(ctx context.Context, userID int64, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	return l.store.AddCredits(ctx, userID, amount)
}

func (l *Ledger) AddCredits(ctx context.Context, userID int64, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return l.store.AddCredits(ctx, userID, amount)
}
