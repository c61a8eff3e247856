package telegram

import (
	"strings"
	"sync"
	"time"

	"github.com/digkill/PromptStudioBot/internal/models"
)

// Stage is the step of the generation dialogue a user is in. Idle has no map entry.
type Stage int

const (
	StageIdle Stage = iota
	StageChoosingEngine
	StageAwaitingPrompt
	StageAwaitingPhoto
	StageAwaitingPromptAfterPhoto
)

func (s Stage) String() string {
	switch s {
	case StageChoosingEngine:
		return "choosing_engine"
	case StageAwaitingPrompt:
		return "awaiting_prompt"
	case StageAwaitingPhoto:
		return "awaiting_photo"
	case StageAwaitingPromptAfterPhoto:
		return "awaiting_prompt_after_photo"
	default:
		return "idle"
	}
}

// AffirmationToken reuses the preset prompt picked from the catalog.
const AffirmationToken = "ДА"

type Session struct {
	Stage       Stage
	Engine      models.Engine
	AspectRatio string
	Preset      string
	Image       []byte
	ImageMime   string
	UpdatedAt   time.Time
}

// Dispatchable is a consumed session ready for the orchestrator.
type Dispatchable struct {
	Engine      models.Engine
	AspectRatio string
	Prompt      string
	Image       []byte
	ImageMime   string
}

// StateManager owns every user's dialogue state. All transitions go through its methods.
type StateManager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewStateManager creates a manager whose sessions expire after ttl of inactivity.
// A non-positive ttl disables expiry.
func NewStateManager(ttl time.Duration) *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns a copy of the live session, or a zero session in StageIdle.
func (m *StateManager) Get(userID int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.live(userID)
	if session == nil {
		return Session{Stage: StageIdle}
	}
	return *session
}

// BeginSelection starts a new flow, discarding any pending one.
func (m *StateManager) BeginSelection(userID int64) {
	m.mu.Lock()
	m.sessions[userID] = &Session{Stage: StageChoosingEngine, UpdatedAt: m.now()}
	m.mu.Unlock()
}

// SelectEngine moves a user in StageChoosingEngine to the prompt or photo stage.
// It returns the new stage and false when the user was not choosing an engine.
func (m *StateManager) SelectEngine(userID int64, engine models.Engine) (Stage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.live(userID)
	if session == nil || session.Stage != StageChoosingEngine {
		return StageIdle, false
	}
	session.Engine = engine
	session.AspectRatio = engine.DefaultAspectRatio()
	session.Stage = StageAwaitingPrompt
	if engine.NeedsPhoto() {
		session.Stage = StageAwaitingPhoto
	}
	session.UpdatedAt = m.now()
	return session.Stage, true
}

// UsePreset arms a Mystic generation with a catalog prompt.
func (m *StateManager) UsePreset(userID int64, preset string) {
	m.mu.Lock()
	m.sessions[userID] = &Session{
		Stage:       StageAwaitingPrompt,
		Engine:      models.EngineMystic,
		AspectRatio: models.EngineMystic.DefaultAspectRatio(),
		Preset:      preset,
		UpdatedAt:   m.now(),
	}
	m.mu.Unlock()
}

// AcceptsPhoto reports whether a photo from userID would be used.
func (m *StateManager) AcceptsPhoto(userID int64) bool {
	return m.Get(userID).Stage == StageAwaitingPhoto
}

// AttachPhoto stores the reference image. Photos outside StageAwaitingPhoto are ignored.
func (m *StateManager) AttachPhoto(userID int64, data []byte, mime string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.live(userID)
	if session == nil || session.Stage != StageAwaitingPhoto {
		return false
	}
	session.Image = data
	session.ImageMime = mime
	session.Stage = StageAwaitingPromptAfterPhoto
	session.UpdatedAt = m.now()
	return true
}

// ConsumePrompt deletes the session and returns what to dispatch when text arrives in a
// prompt stage. The delete happens under the lock, so a second message cannot reuse it.
func (m *StateManager) ConsumePrompt(userID int64, text string) (Dispatchable, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Dispatchable{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.live(userID)
	if session == nil {
		return Dispatchable{}, false
	}
	if session.Stage != StageAwaitingPrompt && session.Stage != StageAwaitingPromptAfterPhoto {
		return Dispatchable{}, false
	}

	prompt := text
	if isAffirmation(text) {
		if session.Preset == "" {
			return Dispatchable{}, false
		}
		prompt = session.Preset
	}

	delete(m.sessions, userID)
	return Dispatchable{
		Engine:      session.Engine,
		AspectRatio: session.AspectRatio,
		Prompt:      prompt,
		Image:       session.Image,
		ImageMime:   session.ImageMime,
	}, true
}

func (m *StateManager) Clear(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Sweep drops expired sessions and returns how many were removed.
func (m *StateManager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for userID, session := range m.sessions {
		if m.expired(session) {
			delete(m.sessions, userID)
			removed++
		}
	}
	return removed
}

func (m *StateManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// live returns the unexpired session for userID. The caller holds mu.
func (m *StateManager) live(userID int64) *Session {
	session, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	if m.expired(session) {
		delete(m.sessions, userID)
		return nil
	}
	return session
}

func (m *StateManager) expired(session *Session) bool {
	return m.ttl > 0 && m.now().Sub(session.UpdatedAt) > m.ttl
}

func isAffirmation(text string) bool {
	text = strings.Trim(strings.TrimSpace(text), ".!\"'«»“”")
	return strings.EqualFold(text, AffirmationToken)
}
