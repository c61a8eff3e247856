package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/digkill/PromptStudioBot/internal/repository"
)

type broadcastRequest struct {
	Message string `json:"message" validate:"required"`
}

type creditsRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	Amount int   `json:"amount" validate:"required,gt=0"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ids, err := s.users.ListIDs(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	count := 0
	for _, id := range ids {
		if err := s.messenger.SendText(id, req.Message); err != nil {
			s.log.Error("send broadcast", "user_id", id, "err", err)
			continue
		}
		count++
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sent": count, "total": len(ids)})
}

func (s *Server) handleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req creditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.ledger.AddCredits(r.Context(), req.UserID, req.Amount); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.internalError(w, err)
		return
	}
	user, err := s.users.Get(r.Context(), req.UserID)
	if err != nil || user == nil {
		s.internalError(w, errors.Join(err, repository.ErrUserNotFound))
		return
	}
	s.log.Info("admin added credits", "user_id", req.UserID, "amount", req.Amount)
	s.writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID, "credits": user.Credits})
}
