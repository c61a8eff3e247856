package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrUserNotFound is returned by balance mutations that target a missing user row.
var ErrUserNotFound = errors.New("user not found")

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func addCredits(ctx context.Context, exec execer, userID int64, amount int) error {
	const query = `UPDATE users SET credits = credits + ? WHERE user_id = ?`
	res, err := exec.ExecContext(ctx, query, amount, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
