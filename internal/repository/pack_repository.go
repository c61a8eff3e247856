package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/PromptStudioBot/internal/database"
	"github.com/digkill/PromptStudioBot/internal/models"
)

type PackRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewPackRepository(db *sql.DB, dialect database.Dialect) *PackRepository {
	return &PackRepository{db: db, dialect: dialect}
}

// List returns packs ordered by price.
func (r *PackRepository) List(ctx context.Context, activeOnly bool) ([]models.Pack, error) {
	query := `
SELECT id, code, title, COALESCE(description, ''), credits, stars, is_active, created_at
FROM packs`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY stars ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	defer rows.Close()

	var packs []models.Pack
	for rows.Next() {
		pack, err := scanPack(rows)
		if err != nil {
			return nil, err
		}
		packs = append(packs, *pack)
	}
	return packs, rows.Err()
}

func (r *PackRepository) GetByCode(ctx context.Context, code string) (*models.Pack, error) {
	const query = `
SELECT id, code, title, COALESCE(description, ''), credits, stars, is_active, created_at
FROM packs WHERE code = ?`
	pack, err := scanPack(r.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return pack, err
}

func (r *PackRepository) Create(ctx context.Context, pack *models.Pack) (*models.Pack, error) {
	const query = `
INSERT INTO packs (code, title, description, credits, stars, is_active, created_at)
VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, pack.Code, pack.Title, pack.Description, pack.Credits, pack.Stars, pack.IsActive, nowMillis()); err != nil {
		return nil, fmt.Errorf("create pack: %w", err)
	}
	return r.GetByCode(ctx, pack.Code)
}

// EnsureDefaults inserts any of the given packs whose code is not present yet.
func (r *PackRepository) EnsureDefaults(ctx context.Context, packs []models.Pack) error {
	query := r.dialect.InsertIgnore() + ` INTO packs (code, title, description, credits, stars, is_active, created_at)
VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)`
	for _, pack := range packs {
		if _, err := r.db.ExecContext(ctx, query, pack.Code, pack.Title, pack.Description, pack.Credits, pack.Stars, pack.IsActive, nowMillis()); err != nil {
			return fmt.Errorf("seed pack %s: %w", pack.Code, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPack(row rowScanner) (*models.Pack, error) {
	var (
		pack    models.Pack
		created int64
	)
	if err := row.Scan(&pack.ID, &pack.Code, &pack.Title, &pack.Description, &pack.Credits, &pack.Stars, &pack.IsActive, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan pack: %w", err)
	}
	pack.CreatedAt = fromMillis(created)
	return &pack, nil
}
