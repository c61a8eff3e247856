package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/digkill/PromptStudioBot/internal/gate"
	"github.com/digkill/PromptStudioBot/internal/models"
)

type initDataKey struct{}

func withInitData(ctx context.Context, data *InitData) context.Context {
	return context.WithValue(ctx, initDataKey{}, data)
}

// webAppUser returns the authenticated mini-app user, nil when init data had none.
func webAppUser(ctx context.Context) *WebAppUser {
	data, _ := ctx.Value(initDataKey{}).(*InitData)
	if data == nil {
		return nil
	}
	return data.User
}

func (u *WebAppUser) profile() models.Profile {
	return models.Profile{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

func (s *Server) telegramAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := ValidateInitData(r.Header.Get(InitDataHeader), s.cfg.BotToken)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", map[string]any{"reason": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(withInitData(r.Context(), data)))
	})
}

// requireSubscription rejects users the gate explicitly denies. A failed lookup lets them through.
func (s *Server) requireSubscription(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := webAppUser(r.Context()); user != nil {
			if s.gate.Check(r.Context(), user.ID) == gate.Denied {
				s.writeError(w, http.StatusForbidden, "not_subscribed", map[string]any{"channel": s.cfg.ChannelUsername})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUsername)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AdminPassword)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="promptstudio"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
