package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/PromptStudioBot/internal/database"
)

type ReferralRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewReferralRepository(db *sql.DB, dialect database.Dialect) *ReferralRepository {
	return &ReferralRepository{db: db, dialect: dialect}
}

// Grant records the (referrer, referred) pair and pays the bonus to both sides in one
// transaction. A repeated pair is a no-op and reports false.
func (r *ReferralRepository) Grant(ctx context.Context, referrerID, referredID int64, bonus int) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := r.dialect.InsertIgnore() + ` INTO referrals (referrer_id, referred_id, created_at) VALUES (?, ?, ?)`
	res, err := tx.ExecContext(ctx, insert, referrerID, referredID, nowMillis())
	if err != nil {
		return false, fmt.Errorf("insert referral: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("referral rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if bonus > 0 {
		if err := addCredits(ctx, tx, referrerID, bonus); err != nil {
			return false, fmt.Errorf("credit referrer: %w", err)
		}
		if err := addCredits(ctx, tx, referredID, bonus); err != nil {
			return false, fmt.Errorf("credit referred: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit referral tx: %w", err)
	}
	return true, nil
}

func (r *ReferralRepository) CountByReferrer(ctx context.Context, referrerID int64) (int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM referrals WHERE referrer_id = ?`, referrerID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return count, nil
}
