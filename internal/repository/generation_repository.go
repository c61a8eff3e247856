package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/PromptStudioBot/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Create(ctx context.Context, gen *models.Generation) error {
	const query = `
INSERT INTO generations (user_id, engine, prompt, aspect_ratio, task_id, status, result_url, created_at)
VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?)`
	created := nowMillis()
	res, err := r.db.ExecContext(ctx, query, gen.UserID, gen.Engine, gen.Prompt, gen.AspectRatio, gen.TaskID, gen.Status, gen.ResultURL, created)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("generation last insert id: %w", err)
	}
	gen.ID = id
	gen.CreatedAt = fromMillis(created)
	return nil
}

// ListByUser returns the newest generations first.
func (r *GenerationRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Generation, error) {
	const query = `
SELECT id, user_id, engine, prompt, COALESCE(aspect_ratio, ''), COALESCE(task_id, ''), status, COALESCE(result_url, ''), created_at
FROM generations
WHERE user_id = ?
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var gens []models.Generation
	for rows.Next() {
		var (
			g       models.Generation
			created int64
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.Engine, &g.Prompt, &g.AspectRatio, &g.TaskID, &g.Status, &g.ResultURL, &created); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		g.CreatedAt = fromMillis(created)
		gens = append(gens, g)
	}
	return gens, rows.Err()
}
