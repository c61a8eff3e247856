package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/PromptStudioBot/internal/database"
	"github.com/digkill/PromptStudioBot/internal/models"
)

type UserRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewUserRepository(db *sql.DB, dialect database.Dialect) *UserRepository {
	return &UserRepository{db: db, dialect: dialect}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

// Get returns nil when the user has never interacted with the bot.
func (r *UserRepository) Get(ctx context.Context, userID int64) (*models.User, error) {
	const query = `
SELECT user_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), credits, total_spent_stars,
       COALESCE(last_result_url, ''), referred_by, joined_at, last_active_at
FROM users WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var (
		u            models.User
		referredBy   sql.NullInt64
		joined, seen int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Credits, &u.TotalSpentStars, &u.LastResultURL, &referredBy, &joined, &seen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if referredBy.Valid {
		u.ReferredBy = &referredBy.Int64
	}
	u.JoinedAt = fromMillis(joined)
	u.LastActiveAt = fromMillis(seen)
	return &u, nil
}

// Ensure creates the user with the starting balance on first contact and otherwise refreshes
// display metadata and last activity. referredBy is only stored on creation.
func (r *UserRepository) Ensure(ctx context.Context, profile models.Profile, startCredits int, referredBy *int64) (*models.User, bool, error) {
	now := nowMillis()
	var ref sql.NullInt64
	if referredBy != nil && *referredBy != profile.ID {
		ref = sql.NullInt64{Int64: *referredBy, Valid: true}
	}

	insert := r.dialect.InsertIgnore() + ` INTO users (user_id, username, first_name, last_name, credits, referred_by, joined_at, last_active_at)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, insert, profile.ID, profile.Username, profile.FirstName, profile.LastName, startCredits, ref, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("user rows affected: %w", err)
	}
	created := affected > 0

	if !created {
		const update = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), last_name = NULLIF(?, ''), last_active_at = ?
WHERE user_id = ?`
		if _, err := r.db.ExecContext(ctx, update, profile.Username, profile.FirstName, profile.LastName, now, profile.ID); err != nil {
			return nil, false, fmt.Errorf("update profile: %w", err)
		}
	}

	user, err := r.Get(ctx, profile.ID)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, ErrUserNotFound
	}
	return user, created, nil
}

// TrySpend decrements the balance only when it covers amount, in one conditional statement.
func (r *UserRepository) TrySpend(ctx context.Context, userID int64, amount int) (bool, error) {
	const query = `UPDATE users SET credits = credits - ? WHERE user_id = ? AND credits >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, userID, amount)
	if err != nil {
		return false, fmt.Errorf("spend credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("spend rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) AddCredits(ctx context.Context, userID int64, amount int) error {
	if err := addCredits(ctx, r.db, userID, amount); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return nil
}

func (r *UserRepository) SetLastResult(ctx context.Context, userID int64, url string) error {
	const query = `UPDATE users SET last_result_url = ?, last_active_at = ? WHERE user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, url, nowMillis(), userID); err != nil {
		return fmt.Errorf("set last result: %w", err)
	}
	return nil
}

func (r *UserRepository) ListIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT user_id FROM users ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
