package models

import (
	"strings"
	"time"
)

// Engine identifies an external image-generation capability.
type Engine string

const (
	EngineNanoBanana Engine = "nano_banana"
	EngineMystic     Engine = "freepik_mystic"
	EngineSeedream   Engine = "freepik_seedream"
)

const DefaultFreepikAspectRatio = "social_story_9_16"

// EngineInfo is the catalog entry shown in menus and the mini-app config.
type EngineInfo struct {
	ID          Engine   `json:"id"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Input       []string `json:"input"`
	Cost        int      `json:"cost"`
	AspectRatio string   `json:"aspect_ratio"`
}

var engines = []EngineInfo{
	{ID: EngineNanoBanana, Title: "Nano Banana (Gemini)", Type: "image", Input: []string{"text"}, Cost: 1, AspectRatio: "9:16"},
	{ID: EngineMystic, Title: "Freepik Mystic", Type: "image", Input: []string{"text"}, Cost: 1, AspectRatio: DefaultFreepikAspectRatio},
	{ID: EngineSeedream, Title: "Freepik Edit (по фото)", Type: "image", Input: []string{"text", "image"}, Cost: 2, AspectRatio: DefaultFreepikAspectRatio},
}

// Engines returns the engine catalog in menu order.
func Engines() []EngineInfo {
	out := make([]EngineInfo, len(engines))
	copy(out, engines)
	return out
}

// ParseEngine accepts catalog ids and the short callback aliases.
func ParseEngine(raw string) (Engine, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(EngineNanoBanana), "nano":
		return EngineNanoBanana, true
	case string(EngineMystic), "mystic":
		return EngineMystic, true
	case string(EngineSeedream), "seedream":
		return EngineSeedream, true
	default:
		return "", false
	}
}

func (e Engine) Info() (EngineInfo, bool) {
	for _, info := range engines {
		if info.ID == e {
			return info, true
		}
	}
	return EngineInfo{}, false
}

// Cost is the number of credits one generation on this engine spends.
func (e Engine) Cost() int {
	if e == EngineSeedream {
		return 2
	}
	return 1
}

// NeedsPhoto reports whether the engine edits a user-supplied image.
func (e Engine) NeedsPhoto() bool {
	return e == EngineSeedream
}

func (e Engine) DefaultAspectRatio() string {
	if info, ok := e.Info(); ok {
		return info.AspectRatio
	}
	return DefaultFreepikAspectRatio
}

func (e Engine) Title() string {
	if info, ok := e.Info(); ok {
		return info.Title
	}
	return string(e)
}

// GenerationStatus is the terminal state written for a generation attempt.
type GenerationStatus string

const (
	GenerationCompleted  GenerationStatus = "COMPLETED"
	GenerationFailed     GenerationStatus = "FAILED"
	GenerationInProgress GenerationStatus = "IN_PROGRESS"
)

type User struct {
	ID              int64     `json:"user_id"`
	Username        string    `json:"username"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Credits         int       `json:"credits"`
	TotalSpentStars int       `json:"total_spent_stars"`
	LastResultURL   string    `json:"last_result_url,omitempty"`
	ReferredBy      *int64    `json:"referred_by,omitempty"`
	JoinedAt        time.Time `json:"joined_at"`
	LastActiveAt    time.Time `json:"last_active_at"`
}

// Profile is the mutable display metadata refreshed on every interaction.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type Generation struct {
	ID          int64            `json:"id"`
	UserID      int64            `json:"user_id"`
	Engine      Engine           `json:"engine"`
	Prompt      string           `json:"prompt"`
	AspectRatio string           `json:"aspect_ratio"`
	TaskID      string           `json:"task_id,omitempty"`
	Status      GenerationStatus `json:"status"`
	ResultURL   string           `json:"result_url,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type Prompt struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	MessageID int64     `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Purchase struct {
	ID               int64
	UserID           int64
	Payload          string
	Stars            int
	CreditsAdded     int
	TelegramChargeID string
	CreatedAt        time.Time
}

type Referral struct {
	ReferrerID int64
	ReferredID int64
	CreatedAt  time.Time
}

// Pack is a credit package sold for Telegram Stars.
type Pack struct {
	ID          int64     `json:"-"`
	Code        string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Credits     int       `json:"credits"`
	Stars       int       `json:"stars"`
	IsActive    bool      `json:"-"`
	CreatedAt   time.Time `json:"-"`
}

// DefaultPacks are seeded on startup when the packs table lacks them.
func DefaultPacks() []Pack {
	return []Pack{
		{Code: "p10", Title: "10 кредитов", Description: "Пакет на 10 генераций", Credits: 10, Stars: 49, IsActive: true},
		{Code: "p30", Title: "30 кредитов", Description: "Пакет на 30 генераций", Credits: 30, Stars: 129, IsActive: true},
		{Code: "p100", Title: "100 кредитов", Description: "Пакет на 100 генераций", Credits: 100, Stars: 399, IsActive: true},
	}
}
