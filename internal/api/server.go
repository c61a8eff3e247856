// Package api serves the mini-app HTTP API, generated files, the mini-app bundle and the
// admin endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/digkill/PromptStudioBot/internal/config"
	"github.com/digkill/PromptStudioBot/internal/gate"
	"github.com/digkill/PromptStudioBot/internal/service"
)

// InitDataHeader carries Telegram.WebApp.initData on every mini-app request.
const InitDataHeader = "X-Telegram-InitData"

// Messenger delivers admin broadcasts.
type Messenger interface {
	SendText(chatID int64, text string) error
}

type Server struct {
	cfg        config.Config
	log        *slog.Logger
	users      *service.UserService
	generation *service.GenerationService
	ledger     *service.Ledger
	payments   *service.PaymentService
	prompts    *service.PromptService
	referrals  *service.ReferralService
	gate       *gate.Checker
	messenger  Messenger
	validate   *validator.Validate
	router     *chi.Mux
	handler    http.Handler
}

func NewServer(cfg config.Config, log *slog.Logger, users *service.UserService, generation *service.GenerationService, ledger *service.Ledger, payments *service.PaymentService, prompts *service.PromptService, referrals *service.ReferralService, checker *gate.Checker, messenger Messenger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:        cfg,
		log:        log,
		users:      users,
		generation: generation,
		ledger:     ledger,
		payments:   payments,
		prompts:    prompts,
		referrals:  referrals,
		gate:       checker,
		messenger:  messenger,
		validate:   validator.New(),
		router:     r,
	}

	r.Get("/", s.handleIndex)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Group(func(tg chi.Router) {
			tg.Use(s.telegramAuth)
			tg.Use(s.requireSubscription)
			tg.Get("/config", s.handleConfig)
			tg.Get("/engines", s.handleEngines)
			tg.Get("/me", s.handleMe)
			tg.Get("/prompts", s.handlePrompts)
			tg.Get("/history", s.handleHistory)
			tg.Post("/invoice", s.handleInvoice)
			tg.Post("/generate", s.handleGenerate)
		})
	})

	if !cfg.UseS3() && cfg.FilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.FilesDir))))
	}
	if cfg.WebAppDir != "" {
		r.Get("/miniapp", http.RedirectHandler("/miniapp/", http.StatusMovedPermanently).ServeHTTP)
		r.Handle("/miniapp/*", http.StripPrefix("/miniapp/", http.FileServer(http.Dir(cfg.WebAppDir))))
	}

	if cfg.AdminPassword != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(s.basicAuthMiddleware())
			admin.Post("/broadcast", s.handleBroadcast)
			admin.Post("/credits", s.handleAddCredits)
		})
	}

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", InitDataHeader},
	}).Handler(r)
	return s
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// /api/generate can wait out the longest poll budget.
		WriteTimeout: s.cfg.SeedreamTimeout + time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.cfg.HTTPListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<h3>Prompt Studio bot is running</h3><p>Mini App: <a href="/miniapp/">/miniapp</a></p><p>Health: <a href="/api/health">/api/health</a></p>`))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": time.Now().UnixMilli()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, extra map[string]any) {
	body := map[string]any{"error": code}
	for k, v := range extra {
		body[k] = v
	}
	s.writeJSON(w, status, body)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("api handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal_error", nil)
}
