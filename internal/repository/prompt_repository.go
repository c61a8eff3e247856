package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/PromptStudioBot/internal/models"
)

type PromptRepository struct {
	db *sql.DB
}

func NewPromptRepository(db *sql.DB) *PromptRepository {
	return &PromptRepository{db: db}
}

func (r *PromptRepository) Create(ctx context.Context, prompt *models.Prompt) error {
	const query = `
INSERT INTO prompts (title, text, message_id, created_at)
VALUES (NULLIF(?, ''), ?, ?, ?)`
	created := nowMillis()
	res, err := r.db.ExecContext(ctx, query, prompt.Title, prompt.Text, prompt.MessageID, created)
	if err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("prompt last insert id: %w", err)
	}
	prompt.ID = id
	prompt.CreatedAt = fromMillis(created)
	return nil
}

// List returns the newest prompts first.
func (r *PromptRepository) List(ctx context.Context, limit int) ([]models.Prompt, error) {
	const query = `
SELECT id, COALESCE(title, ''), text, COALESCE(message_id, 0), created_at
FROM prompts
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		var (
			p       models.Prompt
			created int64
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Text, &p.MessageID, &created); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		p.CreatedAt = fromMillis(created)
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (r *PromptRepository) GetByID(ctx context.Context, id int64) (*models.Prompt, error) {
	const query = `
SELECT id, COALESCE(title, ''), text, COALESCE(message_id, 0), created_at
FROM prompts WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var (
		p       models.Prompt
		created int64
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Text, &p.MessageID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}
