package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/PromptStudioBot/internal/database"
	"github.com/digkill/PromptStudioBot/internal/models"
)

type PurchaseRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewPurchaseRepository(db *sql.DB, dialect database.Dialect) *PurchaseRepository {
	return &PurchaseRepository{db: db, dialect: dialect}
}

// Record stores a successful payment and credits the buyer. Telegram may redeliver the
// same successful_payment update, so a known charge id is a no-op reporting false.
func (r *PurchaseRepository) Record(ctx context.Context, p *models.Purchase) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	created := nowMillis()
	insert := r.dialect.InsertIgnore() + ` INTO purchases (user_id, payload, stars, credits_added, telegram_charge_id, created_at)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)`
	res, err := tx.ExecContext(ctx, insert, p.UserID, p.Payload, p.Stars, p.CreditsAdded, p.TelegramChargeID, created)
	if err != nil {
		return false, fmt.Errorf("insert purchase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("purchase rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	p.CreatedAt = fromMillis(created)

	if err := addCredits(ctx, tx, p.UserID, p.CreditsAdded); err != nil {
		return false, fmt.Errorf("credit purchase: %w", err)
	}
	const stars = `UPDATE users SET total_spent_stars = total_spent_stars + ? WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, stars, p.Stars, p.UserID); err != nil {
		return false, fmt.Errorf("add spent stars: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit purchase tx: %w", err)
	}
	return true, nil
}
