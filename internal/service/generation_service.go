package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/poller"
	"github.com/digkill/PromptStudioBot/internal/provider"
	"github.com/digkill/PromptStudioBot/internal/storage"
)

type generationStore interface {
	Create(ctx context.Context, gen *models.Generation) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Generation, error)
}

type lastResultStore interface {
	SetLastResult(ctx context.Context, userID int64, url string) error
}

type GenerationService struct {
	log         *slog.Logger
	ledger      *Ledger
	generations generationStore
	users       lastResultStore
	sink        storage.Sink
	poller      *poller.Engine
	immediate   map[models.Engine]provider.Immediate
	polled      map[models.Engine]provider.Polled
}

type GenerationRequest struct {
	UserID      int64
	Engine      models.Engine
	Prompt      string
	AspectRatio string
	Image       []byte
	ImageMime   string
}

type GenerationResult struct {
	Engine   models.Engine
	URL      string
	TaskID   string
	Cost     int
	Artifact *provider.Artifact
}

func NewGenerationService(log *slog.Logger, ledger *Ledger, generations generationStore, users lastResultStore, sink storage.Sink, engine *poller.Engine) *GenerationService {
	return &GenerationService{
		log:         log,
		ledger:      ledger,
		generations: generations,
		users:       users,
		sink:        sink,
		poller:      engine,
		immediate:   make(map[models.Engine]provider.Immediate),
		polled:      make(map[models.Engine]provider.Polled),
	}
}

func (s *GenerationService) RegisterImmediate(engine models.Engine, adapter provider.Immediate) {
	s.immediate[engine] = adapter
}

func (s *GenerationService) RegisterPolled(engine models.Engine, adapter provider.Polled) {
	s.polled[engine] = adapter
}

// Dispatch validates the request, spends the engine cost and runs the provider. Any failure
// after the spend is refunded before the error is returned.
func (s *GenerationService) Dispatch(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.AspectRatio == "" {
		req.AspectRatio = req.Engine.DefaultAspectRatio()
	}
	cost := req.Engine.Cost()

	ok, err := s.ledger.TrySpend(ctx, req.UserID, cost)
	if err != nil {
		return nil, fmt.Errorf("spend credits: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}

	// The provider call and the refund outlive a disconnecting client.
	ctx = context.WithoutCancel(ctx)
	log := s.log.With("user_id", req.UserID, "engine", req.Engine)

	artifact, taskID, err := s.run(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, log, req, cost, taskID, err)
	}

	gen := &models.Generation{
		UserID:      req.UserID,
		Engine:      req.Engine,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		TaskID:      taskID,
		Status:      models.GenerationCompleted,
		ResultURL:   artifact.URL,
	}
	if err := s.generations.Create(ctx, gen); err != nil {
		log.Error("failed to record generation", "err", err)
	}
	if err := s.users.SetLastResult(ctx, req.UserID, artifact.URL); err != nil {
		log.Error("failed to update last result", "err", err)
	}
	log.Info("generation completed", "task_id", taskID, "cost", cost)

	return &GenerationResult{
		Engine:   req.Engine,
		URL:      artifact.URL,
		TaskID:   taskID,
		Cost:     cost,
		Artifact: artifact,
	}, nil
}

func (s *GenerationService) History(ctx context.Context, userID int64, limit int) ([]models.Generation, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	return s.generations.ListByUser(ctx, userID, limit)
}

func (s *GenerationService) run(ctx context.Context, req GenerationRequest) (*provider.Artifact, string, error) {
	params := provider.Params{
		AspectRatio:    req.AspectRatio,
		ReferenceImage: req.Image,
		ReferenceMime:  req.ImageMime,
	}

	if adapter, ok := s.immediate[req.Engine]; ok {
		artifact, err := adapter.Generate(ctx, req.Prompt, params)
		if err != nil {
			return nil, "", err
		}
		url, err := s.sink.Save(ctx, req.UserID, artifact.Data, artifact.MimeType)
		if err != nil {
			return nil, "", fmt.Errorf("save artifact: %w", err)
		}
		artifact.URL = url
		return artifact, "", nil
	}

	if adapter, ok := s.polled[req.Engine]; ok {
		handle, err := adapter.Submit(ctx, req.Prompt, params)
		if err != nil {
			return nil, "", err
		}
		out, err := s.poller.Run(ctx, adapter, handle, adapter.Budget())
		if err != nil {
			return nil, handle.ID, err
		}
		if out.InProgress {
			return nil, handle.ID, ErrStillInProgress
		}
		return &provider.Artifact{URL: out.URL}, handle.ID, nil
	}

	return nil, "", fmt.Errorf("no adapter registered for engine %s", req.Engine)
}

func (s *GenerationService) fail(ctx context.Context, log *slog.Logger, req GenerationRequest, cost int, taskID string, cause error) error {
	genErr := &GenerationError{Engine: req.Engine, TaskID: taskID, Err: cause}

	if err := s.ledger.Refund(ctx, req.UserID, cost); err != nil {
		log.Error("refund failed", "cost", cost, "err", err)
	} else {
		genErr.Refunded = true
	}

	status := models.GenerationFailed
	if errors.Is(cause, ErrStillInProgress) {
		status = models.GenerationInProgress
	}
	gen := &models.Generation{
		UserID:      req.UserID,
		Engine:      req.Engine,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		TaskID:      taskID,
		Status:      status,
	}
	if err := s.generations.Create(ctx, gen); err != nil {
		log.Error("failed to record generation", "err", err)
	}

	log.Warn("generation failed", "task_id", taskID, "status", status, "refunded", genErr.Refunded, "err", cause)
	return genErr
}

func validateRequest(req GenerationRequest) error {
	if req.Engine == "" {
		return &ValidationError{Field: "engine", Reason: ReasonEngineRequired}
	}
	if _, ok := req.Engine.Info(); !ok {
		return &ValidationError{Field: "engine", Reason: ReasonUnknownEngine}
	}
	if req.Prompt == "" {
		return &ValidationError{Field: "prompt", Reason: ReasonPromptRequired}
	}
	if req.Engine.NeedsPhoto() && len(req.Image) == 0 {
		return &ValidationError{Field: "image", Reason: ReasonImageRequired}
	}
	return nil
}
