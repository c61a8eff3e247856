package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/repository"
)

const maxTitleRunes = 60

type PromptService struct {
	prompts *repository.PromptRepository
}

func NewPromptService(prompts *repository.PromptRepository) *PromptService {
	return &PromptService{prompts: prompts}
}

func (s *PromptService) List(ctx context.Context, limit int) ([]models.Prompt, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.prompts.List(ctx, limit)
}

func (s *PromptService) Get(ctx context.Context, id int64) (*models.Prompt, error) {
	return s.prompts.GetByID(ctx, id)
}

// IngestChannelPost stores a channel post as a catalog prompt. It returns nil when the post
// carries no prompt text.
func (s *PromptService) IngestChannelPost(ctx context.Context, text string, messageID int64) (*models.Prompt, error) {
	title, body := splitPost(text)
	if body == "" {
		return nil, nil
	}
	prompt := &models.Prompt{Title: title, Text: body, MessageID: messageID}
	if err := s.prompts.Create(ctx, prompt); err != nil {
		return nil, fmt.Errorf("store channel prompt: %w", err)
	}
	return prompt, nil
}

// splitPost uses a short first line of a multi-line post as the title, without leading #.
func splitPost(raw string) (title, body string) {
	raw = strings.TrimSpace(raw)
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 || utf8.RuneCountInString(lines[0]) > maxTitleRunes {
		return "", raw
	}
	title = strings.TrimSpace(strings.TrimLeft(lines[0], "#"))
	body = strings.TrimSpace(strings.Join(lines[1:], "\n"))
	return title, body
}
