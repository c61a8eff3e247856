package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PromptStudioBot/internal/config"
	"github.com/digkill/PromptStudioBot/internal/database"
	"github.com/digkill/PromptStudioBot/internal/gate"
	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/poller"
	"github.com/digkill/PromptStudioBot/internal/provider"
	"github.com/digkill/PromptStudioBot/internal/repository"
	"github.com/digkill/PromptStudioBot/internal/service"
)

type fakeAPI struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) MakeRequest(string, tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFile(tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{}, errors.New("no files in tests")
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg.Text)
		}
	}
	return out
}

func (f *fakeAPI) lastText() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeAPI) photos() []tgbotapi.PhotoConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range f.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

type fakeLookup struct {
	status string
}

func (f *fakeLookup) MemberStatus(context.Context, string, int64) (string, error) {
	return f.status, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGenerator) Generate(context.Context, string, provider.Params) (*provider.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Artifact{Data: []byte("png"), MimeType: "image/png"}, nil
}

type discardSink struct{}

func (discardSink) Save(context.Context, int64, []byte, string) (string, error) {
	return "https://files.example.com/result.png", nil
}

type harness struct {
	bot       *Bot
	api       *fakeAPI
	lookup    *fakeLookup
	generator *fakeGenerator
	users     *repository.UserRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, dialect, err := database.Open("sqlite", filepath.Join(t.TempDir(), "bot.sqlite"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := database.Migrate(ctx, db, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := quietLogger()
	api := &fakeAPI{}
	lookup := &fakeLookup{status: "member"}
	generator := &fakeGenerator{}

	users := repository.NewUserRepository(db, dialect)
	ledger := service.NewLedger(users)
	referrals := service.NewReferralService(repository.NewReferralRepository(db, dialect), 1, "prompt_bot")
	userService := service.NewUserService(users, referrals, 2, log)
	generation := service.NewGenerationService(log, ledger, repository.NewGenerationRepository(db), users, discardSink{}, poller.New(time.Millisecond, log))
	generation.RegisterImmediate(models.EngineNanoBanana, generator)
	payments := service.NewPaymentService(repository.NewPackRepository(db, dialect), repository.NewPurchaseRepository(db, dialect), api, log)
	if err := payments.EnsureDefaultPacks(ctx); err != nil {
		t.Fatalf("seed packs: %v", err)
	}
	prompts := service.NewPromptService(repository.NewPromptRepository(db))
	checker := gate.NewChecker(lookup, "@prompts", 0, true, log)

	cfg := config.Config{ChannelUsername: "@prompts", StateTTL: time.Hour}
	bot := newBot(cfg, api, "token", log, userService, generation, ledger, payments, prompts, referrals, checker)
	return &harness{bot: bot, api: api, lookup: lookup, generator: generator, users: users}
}

func textUpdate(userID int64, text string) *tgbotapi.Update {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, FirstName: "Ann"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		end := strings.IndexByte(text, ' ')
		if end < 0 {
			end = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return &tgbotapi.Update{Message: msg}
}

func callbackUpdate(userID int64, data string) *tgbotapi.Update {
	return &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}}
}

func (h *harness) run(updates ...*tgbotapi.Update) {
	for _, u := range updates {
		h.bot.handleUpdate(context.Background(), u)
	}
}

func (h *harness) credits(t *testing.T, userID int64) int {
	t.Helper()
	user, err := h.users.Get(context.Background(), userID)
	if err != nil || user == nil {
		t.Fatalf("get user %d: %v", userID, err)
	}
	return user.Credits
}

func TestTextFlowGeneratesAndDelivers(t *testing.T) {
	h := newHarness(t)
	h.run(
		textUpdate(1, "/start"),
		callbackUpdate(1, cbMenuGen),
		callbackUpdate(1, "engine:nano"),
		textUpdate(1, "a fox in the snow"),
	)

	if h.generator.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", h.generator.calls)
	}
	photos := h.api.photos()
	if len(photos) != 1 || !strings.Contains(photos[0].Caption, "готово") {
		t.Fatalf("photos = %+v", photos)
	}
	if got := h.credits(t, 1); got != 1 {
		t.Errorf("credits = %d, want 2 - 1", got)
	}
	if h.bot.state.Get(1).Stage != StageIdle {
		t.Error("state not cleared after dispatch")
	}
}

func TestDeniedGateClearsStateWithoutSpending(t *testing.T) {
	h := newHarness(t)
	h.run(textUpdate(2, "/start"), callbackUpdate(2, cbMenuGen), callbackUpdate(2, "engine:nano"))

	h.lookup.status = "left"
	h.run(textUpdate(2, "a fox"))

	if h.generator.calls != 0 {
		t.Fatal("provider called for a denied user")
	}
	if h.bot.state.Get(2).Stage != StageIdle {
		t.Error("state kept after a denied gate check")
	}
	if !strings.Contains(h.api.lastText(), "подпишись на канал") {
		t.Errorf("last reply = %q, want gate prompt", h.api.lastText())
	}
	if got := h.credits(t, 2); got != 2 {
		t.Errorf("credits = %d, want 2", got)
	}
}

func TestInsufficientBalanceSkipsProvider(t *testing.T) {
	h := newHarness(t)
	h.run(textUpdate(3, "/start"))
	if _, err := h.users.TrySpend(context.Background(), 3, 2); err != nil {
		t.Fatalf("drain balance: %v", err)
	}

	h.run(callbackUpdate(3, cbMenuGen), callbackUpdate(3, "engine:nano"), textUpdate(3, "a fox"))

	if h.generator.calls != 0 {
		t.Fatal("provider called without credits")
	}
	if !strings.Contains(h.api.lastText(), "нет генераций") {
		t.Errorf("last reply = %q", h.api.lastText())
	}
}

func TestFailedGenerationReportsRefund(t *testing.T) {
	h := newHarness(t)
	h.generator.err = &provider.Error{Provider: "gemini", Reason: provider.ReasonNetwork, Err: errors.New("reset")}
	h.run(textUpdate(4, "/start"), callbackUpdate(4, cbMenuGen), callbackUpdate(4, "engine:nano"), textUpdate(4, "a fox"))

	if !strings.Contains(h.api.lastText(), "вернула на баланс") {
		t.Errorf("last reply = %q, want refund notice", h.api.lastText())
	}
	if got := h.credits(t, 4); got != 2 {
		t.Errorf("credits = %d, want 2 after refund", got)
	}
}

func TestAffirmationWithoutPresetKeepsWaiting(t *testing.T) {
	h := newHarness(t)
	h.run(textUpdate(5, "/start"), callbackUpdate(5, cbMenuGen), callbackUpdate(5, "engine:nano"), textUpdate(5, AffirmationToken))

	if h.generator.calls != 0 {
		t.Fatal("affirmation dispatched without a preset")
	}
	if h.bot.state.Get(5).Stage != StageAwaitingPrompt {
		t.Error("state dropped by a no-op affirmation")
	}
}

func TestTextWhileAwaitingPhotoIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.run(textUpdate(6, "/start"), callbackUpdate(6, cbMenuGen), callbackUpdate(6, "engine:seedream"), textUpdate(6, "make it blue"))

	if h.bot.state.Get(6).Stage != StageAwaitingPhoto {
		t.Errorf("stage = %v, want awaiting_photo", h.bot.state.Get(6).Stage)
	}
	if got := h.credits(t, 6); got != 2 {
		t.Errorf("credits = %d, want 2", got)
	}
}

func TestChannelPostIngestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.run(&tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID: 10, Chat: &tgbotapi.Chat{ID: -100, UserName: "other"}, Text: "Title\nprompt body",
	}})
	h.run(&tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID: 11, Chat: &tgbotapi.Chat{ID: -100, UserName: "Prompts"}, Text: "Title\nprompt body",
	}})

	list, err := h.bot.prompts.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].MessageID != 11 {
		t.Errorf("prompts = %+v, want only the configured channel's post", list)
	}
}

func TestOwnerOnlyAddCredits(t *testing.T) {
	h := newHarness(t)
	h.bot.cfg.OwnerID = 99
	h.run(textUpdate(7, "/start"))

	h.run(textUpdate(8, "/addcredits 7 5"))
	if got := h.credits(t, 7); got != 2 {
		t.Fatalf("non-owner changed credits to %d", got)
	}
	h.run(textUpdate(99, "/addcredits 7 5"))
	if got := h.credits(t, 7); got != 7 {
		t.Errorf("credits = %d, want 7", got)
	}
}

func TestNormalizeImageContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	tests := []struct {
		header string
		data   []byte
		want   string
		err    bool
	}{
		{"image/jpeg; charset=binary", nil, "image/jpeg", false},
		{"image/jpg", nil, "image/jpeg", false},
		{"application/octet-stream", png, "image/png", false},
		{"", png, "image/png", false},
		{"text/plain", []byte("hello"), "", true},
	}
	for _, tt := range tests {
		got, err := normalizeImageContentType(tt.header, tt.data)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("normalizeImageContentType(%q) = %q, %v", tt.header, got, err)
		}
	}
}
