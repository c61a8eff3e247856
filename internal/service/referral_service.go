package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/digkill/PromptStudioBot/internal/repository"
)

const referralPrefix = "ref_"

type ReferralService struct {
	referrals   *repository.ReferralRepository
	bonus       int
	botUsername string
}

func NewReferralService(referrals *repository.ReferralRepository, bonus int, botUsername string) *ReferralService {
	return &ReferralService{referrals: referrals, bonus: bonus, botUsername: botUsername}
}

func (s *ReferralService) Bonus() int {
	return s.bonus
}

// Code is the deep-link payload for userID: "ref_" plus the id in base 36.
func (s *ReferralService) Code(userID int64) string {
	return referralPrefix + strconv.FormatInt(userID, 36)
}

func (s *ReferralService) ParseCode(payload string) (int64, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, referralPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, referralPrefix), 36, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Link is the shareable t.me link, empty when the bot username is unknown.
func (s *ReferralService) Link(userID int64) string {
	if s.botUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername, s.Code(userID))
}

// Apply pays the referral bonus to both users at most once per pair.
func (s *ReferralService) Apply(ctx context.Context, referrerID, referredID int64) (bool, error) {
	if referrerID == referredID {
		return false, nil
	}
	granted, err := s.referrals.Grant(ctx, referrerID, referredID, s.bonus)
	if err != nil {
		return false, fmt.Errorf("grant referral: %w", err)
	}
	return granted, nil
}

func (s *ReferralService) Count(ctx context.Context, referrerID int64) (int, error) {
	return s.referrals.CountByReferrer(ctx, referrerID)
}
