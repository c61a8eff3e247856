// Package gate checks whether a user may use generation features, which requires a
// subscription to the configured channel.
package gate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Verdict int

const (
	Allowed Verdict = iota
	Denied
	// Unverified means the membership lookup itself failed. It is a soft allow.
	Unverified
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unverified"
	}
}

// Permits is false only for an explicit negative answer.
func (v Verdict) Permits() bool {
	return v != Denied
}

// MemberLookup returns the raw chat member status of userID in channel.
type MemberLookup interface {
	MemberStatus(ctx context.Context, channel string, userID int64) (string, error)
}

type Checker struct {
	lookup  MemberLookup
	channel string
	ownerID int64
	enabled bool
	timeout time.Duration
	log     *slog.Logger
}

func NewChecker(lookup MemberLookup, channel string, ownerID int64, enabled bool, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		lookup:  lookup,
		channel: channel,
		ownerID: ownerID,
		enabled: enabled && channel != "" && lookup != nil,
		timeout: 15 * time.Second,
		log:     log,
	}
}

func (c *Checker) Check(ctx context.Context, userID int64) Verdict {
	if c.ownerID != 0 && userID == c.ownerID {
		return Allowed
	}
	if !c.enabled {
		return Allowed
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, err := c.lookup.MemberStatus(ctx, c.channel, userID)
	if err != nil {
		c.log.Warn("channel membership check failed, allowing", "user_id", userID, "channel", c.channel, "err", err)
		return Unverified
	}

	switch strings.ToLower(status) {
	case "creator", "administrator", "member":
		return Allowed
	default:
		return Denied
	}
}

// TelegramLookup resolves membership with getChatMember. The bot must be an admin of the channel.
type TelegramLookup struct {
	api *tgbotapi.BotAPI
}

func NewTelegramLookup(api *tgbotapi.BotAPI) *TelegramLookup {
	return &TelegramLookup{api: api}
}

func (l *TelegramLookup) MemberStatus(ctx context.Context, channel string, userID int64) (string, error) {
	type result struct {
		status string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		member, err := l.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
				SuperGroupUsername: channel,
				UserID:             userID,
			},
		})
		done <- result{status: member.Status, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.status, r.err
	}
}
