package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/service"
)

// Mini-app uploads are sent inline as base64.
const maxGenerateBody = 8 << 20

type generateRequest struct {
	Engine      string `json:"engine" validate:"required"`
	Prompt      string `json:"prompt" validate:"required,max=4000"`
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,max=32"`
	ImageBase64 string `json:"image_base64"`
	ImageMime   string `json:"image_mime" validate:"omitempty,oneof=image/jpeg image/png image/webp"`
}

type invoiceRequest struct {
	PackID string `json:"pack_id" validate:"required"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	packs, err := s.payments.Packs(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"channelUsername": s.cfg.ChannelUsername,
		"channelLink":     s.cfg.ChannelLink(),
		"botUsername":     s.cfg.BotUsername,
		"webappUrl":       s.cfg.MiniAppURL(),
		"packs":           packs,
		"engines":         models.Engines(),
	})
}

func (s *Server) handleEngines(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"items": models.Engines()})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.ensureUser(w, r)
	if !ok {
		return
	}
	packs, err := s.payments.Packs(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	invited, err := s.referrals.Count(r.Context(), user.ID)
	if err != nil {
		s.log.Warn("count referrals", "user_id", user.ID, "err", err)
	}

	var deepLink any
	if link := s.referrals.Link(user.ID); link != "" {
		deepLink = link
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user":            user,
		"deepLink":        deepLink,
		"channelUsername": s.cfg.ChannelUsername,
		"packs":           packs,
		"referrals":       invited,
	})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	items, err := s.prompts.List(r.Context(), 30)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if items == nil {
		items = []models.Prompt{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.ensureUser(w, r)
	if !ok {
		return
	}
	items, err := s.generation.History(r.Context(), user.ID, 20)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if items == nil {
		items = []models.Generation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ensureUser(w, r); !ok {
		return
	}
	var req invoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "pack_not_found", nil)
		return
	}

	link, pack, err := s.payments.CreateInvoiceLink(r.Context(), req.PackID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownPack) {
			s.writeError(w, http.StatusBadRequest, "pack_not_found", nil)
			return
		}
		s.log.Error("create invoice link", "pack", req.PackID, "err", err)
		s.writeError(w, http.StatusBadGateway, "invoice_error", map[string]any{"message": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"url": link, "pack": pack})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, validationCode(err), nil)
		return
	}
	engine, known := models.ParseEngine(req.Engine)
	if !known {
		s.writeError(w, http.StatusBadRequest, service.ReasonUnknownEngine, nil)
		return
	}
	image, mime, err := decodeImage(req.ImageBase64, req.ImageMime)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_image", nil)
		return
	}

	user, ok := s.ensureUser(w, r)
	if !ok {
		return
	}

	result, err := s.generation.Dispatch(r.Context(), service.GenerationRequest{
		UserID:      user.ID,
		Engine:      engine,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Image:       image,
		ImageMime:   mime,
	})
	if err != nil {
		s.writeGenerationError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"type":    "image",
		"url":     result.URL,
		"engine":  result.Engine,
		"cost":    result.Cost,
		"task_id": result.TaskID,
	})
}

func (s *Server) writeGenerationError(w http.ResponseWriter, err error) {
	var validation *service.ValidationError
	var genErr *service.GenerationError
	switch {
	case errors.Is(err, service.ErrInsufficientBalance):
		s.writeError(w, http.StatusPaymentRequired, "no_credits", nil)
	case errors.As(err, &validation):
		s.writeError(w, http.StatusBadRequest, validation.Reason, nil)
	case errors.As(err, &genErr):
		s.writeError(w, http.StatusBadGateway, "gen_error", map[string]any{
			"message":     genErr.Err.Error(),
			"refunded":    genErr.Refunded,
			"in_progress": errors.Is(err, service.ErrStillInProgress),
			"task_id":     genErr.TaskID,
		})
	default:
		s.internalError(w, err)
	}
}

// ensureUser registers the init data user and writes 400 when there is none.
func (s *Server) ensureUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	tgUser := webAppUser(r.Context())
	if tgUser == nil {
		s.writeError(w, http.StatusBadRequest, "no_user", nil)
		return nil, false
	}
	user, _, err := s.users.Ensure(r.Context(), tgUser.profile())
	if err != nil {
		s.internalError(w, err)
		return nil, false
	}
	return user, true
}

// validationCode maps struct validation failures to the codes the mini-app understands.
func validationCode(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return "invalid_request"
	}
	f := fields[0]
	switch {
	case f.Field() == "Engine":
		return service.ReasonEngineRequired
	case f.Field() == "Prompt" && f.Tag() == "required":
		return service.ReasonPromptRequired
	case f.Field() == "ImageMime":
		return "invalid_image"
	default:
		return "invalid_" + strings.ToLower(f.Field())
	}
}

// decodeImage accepts raw base64 or a data URL. An empty payload yields no image.
func decodeImage(raw, mime string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", nil
	}
	if strings.HasPrefix(raw, "data:") {
		header, payload, found := strings.Cut(raw, ",")
		if !found {
			return nil, "", errors.New("malformed data url")
		}
		if mime == "" {
			mime = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		}
		raw = payload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, "", err
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	return data, mime, nil
}
