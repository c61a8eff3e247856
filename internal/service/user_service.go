package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/repository"
)

type UserService struct {
	users        *repository.UserRepository
	referrals    *ReferralService
	startCredits int
	log          *slog.Logger
}

func NewUserService(users *repository.UserRepository, referrals *ReferralService, startCredits int, log *slog.Logger) *UserService {
	return &UserService{users: users, referrals: referrals, startCredits: startCredits, log: log}
}

// Onboarding describes what a /start or first mini-app call did.
type Onboarding struct {
	User            *models.User
	Created         bool
	ReferrerID      int64
	ReferralGranted bool
}

// Ensure registers the user on first contact and refreshes their profile otherwise.
func (s *UserService) Ensure(ctx context.Context, profile models.Profile) (*models.User, bool, error) {
	user, created, err := s.users.Ensure(ctx, profile, s.startCredits, nil)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

// Onboard is Ensure plus the referral deep-link payload. The referral only counts when this
// call created the user and the referrer already exists.
func (s *UserService) Onboard(ctx context.Context, profile models.Profile, startPayload string) (*Onboarding, error) {
	var referredBy *int64
	if referrerID, ok := s.referrals.ParseCode(startPayload); ok && referrerID != profile.ID {
		referrer, err := s.users.Get(ctx, referrerID)
		if err != nil {
			return nil, fmt.Errorf("get referrer: %w", err)
		}
		if referrer != nil {
			referredBy = &referrerID
		}
	}

	user, created, err := s.users.Ensure(ctx, profile, s.startCredits, referredBy)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	out := &Onboarding{User: user, Created: created}
	if !created || referredBy == nil {
		return out, nil
	}

	out.ReferrerID = *referredBy
	granted, err := s.referrals.Apply(ctx, *referredBy, profile.ID)
	if err != nil {
		// The account exists; a lost bonus is logged rather than failing /start.
		s.log.Error("apply referral", "user_id", profile.ID, "referrer_id", *referredBy, "err", err)
		return out, nil
	}
	out.ReferralGranted = granted
	if granted {
		if refreshed, err := s.users.Get(ctx, profile.ID); err == nil && refreshed != nil {
			out.User = refreshed
		}
	}
	return out, nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	return s.users.Get(ctx, userID)
}

func (s *UserService) ListIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}
