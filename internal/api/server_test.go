package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
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
	"github.com/digkill/PromptStudioBot/internal/storage"
)

const testToken = "123456:test-token"

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-payload")

type fakeLookup struct{ status string }

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
	return &provider.Artifact{Data: pngBytes, MimeType: "image/png"}, nil
}

type fakeInvoiceAPI struct{}

func (fakeInvoiceAPI) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, nil
}

func (fakeInvoiceAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (fakeInvoiceAPI) MakeRequest(string, tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(`"https://t.me/$stars"`)}, nil
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent map[int64]string
}

func (m *recordingMessenger) SendText(chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = map[int64]string{}
	}
	m.sent[chatID] = text
	return nil
}

type testServer struct {
	srv       *httptest.Server
	users     *repository.UserRepository
	lookup    *fakeLookup
	generator *fakeGenerator
	messenger *recordingMessenger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	db, dialect, err := database.Open("sqlite", filepath.Join(dir, "bot.sqlite"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := database.Migrate(ctx, db, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		BotToken:        testToken,
		BotUsername:     "prompt_bot",
		ChannelUsername: "@prompts",
		FilesDir:        filepath.Join(dir, "files"),
		AllowedOrigins:  []string{"*"},
		AdminUsername:   "admin",
		AdminPassword:   "secret",
		SeedreamTimeout: time.Second,
	}

	sink, err := storage.NewLocalSink(cfg.FilesDir, "", "nb")
	if err != nil {
		t.Fatalf("local sink: %v", err)
	}
	lookup := &fakeLookup{status: "member"}
	generator := &fakeGenerator{}
	messenger := &recordingMessenger{}

	users := repository.NewUserRepository(db, dialect)
	ledger := service.NewLedger(users)
	referrals := service.NewReferralService(repository.NewReferralRepository(db, dialect), 1, cfg.BotUsername)
	generation := service.NewGenerationService(log, ledger, repository.NewGenerationRepository(db), users, sink, poller.New(time.Millisecond, log))
	generation.RegisterImmediate(models.EngineNanoBanana, generator)
	payments := service.NewPaymentService(repository.NewPackRepository(db, dialect), repository.NewPurchaseRepository(db, dialect), fakeInvoiceAPI{}, log)
	if err := payments.EnsureDefaultPacks(ctx); err != nil {
		t.Fatalf("seed packs: %v", err)
	}

	server := NewServer(cfg, log,
		service.NewUserService(users, referrals, 2, log),
		generation, ledger, payments,
		service.NewPromptService(repository.NewPromptRepository(db)),
		referrals,
		gate.NewChecker(lookup, cfg.ChannelUsername, 0, true, log),
		messenger,
	)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, users: users, lookup: lookup, generator: generator, messenger: messenger}
}

func signedInitData(userID int64) string {
	values := url.Values{}
	values.Set("auth_date", "1700000000")
	values.Set("query_id", "AAH")
	values.Set("user", `{"id":`+jsonInt(userID)+`,"first_name":"Ann","username":"ann"}`)
	values.Set("hash", hex.EncodeToString(signInitData(values, testToken)))
	return values.Encode()
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (ts *testServer) do(t *testing.T, method, path string, userID int64, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if userID != 0 {
		req.Header.Set(InitDataHeader, signedInitData(userID))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) credits(t *testing.T, userID int64) int {
	t.Helper()
	user, err := ts.users.Get(context.Background(), userID)
	if err != nil || user == nil {
		t.Fatalf("get user %d: %v", userID, err)
	}
	return user.Credits
}

func TestValidateInitData(t *testing.T) {
	raw := signedInitData(42)
	data, err := ValidateInitData(raw, testToken)
	if err != nil {
		t.Fatalf("ValidateInitData() error = %v", err)
	}
	if data.User == nil || data.User.ID != 42 || data.User.Username != "ann" || data.QueryID != "AAH" {
		t.Errorf("InitData = %+v", data)
	}
	if data.AuthDate.Unix() != 1700000000 {
		t.Errorf("AuthDate = %v", data.AuthDate)
	}

	tampered := strings.Replace(raw, "Ann", "Bob", 1)
	tests := []struct {
		name  string
		raw   string
		token string
		want  error
	}{
		{"empty", "", testToken, ErrInitDataEmpty},
		{"no hash", "user=%7B%7D", testToken, ErrInitDataNoHash},
		{"tampered", tampered, testToken, ErrHashMismatch},
		{"other bot", raw, "999:other", ErrHashMismatch},
	}
	for _, tt := range tests {
		if _, err := ValidateInitData(tt.raw, tt.token); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/health", 0, nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestMiniAppRoutesRequireInitData(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/me", 0, nil)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("me without init data = %d %v", resp.StatusCode, body)
	}
}

func TestGateDeniesUnsubscribed(t *testing.T) {
	ts := newTestServer(t)
	ts.lookup.status = "left"
	resp, body := ts.do(t, http.MethodPost, "/api/generate", 7, map[string]any{"engine": "nano_banana", "prompt": "cat"})
	if resp.StatusCode != http.StatusForbidden || body["error"] != "not_subscribed" {
		t.Fatalf("generate = %d %v", resp.StatusCode, body)
	}
	if ts.generator.calls != 0 {
		t.Error("provider called for a denied user")
	}
}

func TestMeRegistersUser(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/me", 11, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me = %d %v", resp.StatusCode, body)
	}
	user, _ := body["user"].(map[string]any)
	if user["credits"] != float64(2) {
		t.Errorf("user = %v", user)
	}
	if body["deepLink"] != "https://t.me/prompt_bot?start=ref_b" {
		t.Errorf("deepLink = %v", body["deepLink"])
	}
	if packs, _ := body["packs"].([]any); len(packs) != 3 {
		t.Errorf("packs = %v", body["packs"])
	}
}

func TestGenerateStoresAndServesArtifact(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/api/generate", 12, map[string]any{"engine": "nano_banana", "prompt": "a red fox"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate = %d %v", resp.StatusCode, body)
	}
	if got := ts.credits(t, 12); got != 1 {
		t.Errorf("credits = %d, want 1", got)
	}

	location, _ := body["url"].(string)
	if !strings.HasPrefix(location, "/files/nb_12_") {
		t.Fatalf("url = %q", location)
	}
	fileResp, err := http.Get(ts.srv.URL + location)
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}
	defer fileResp.Body.Close()
	got, _ := io.ReadAll(fileResp.Body)
	if !bytes.Equal(got, pngBytes) {
		t.Errorf("served %q, want the generated bytes", got)
	}

	_, history := ts.do(t, http.MethodGet, "/api/history", 12, nil)
	if items, _ := history["items"].([]any); len(items) != 1 {
		t.Errorf("history = %v", history)
	}
}

func TestGenerateErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing engine", map[string]any{"prompt": "x"}, http.StatusBadRequest, service.ReasonEngineRequired},
		{"missing prompt", map[string]any{"engine": "nano_banana"}, http.StatusBadRequest, service.ReasonPromptRequired},
		{"blank prompt", map[string]any{"engine": "nano_banana", "prompt": "   "}, http.StatusBadRequest, service.ReasonPromptRequired},
		{"unknown engine", map[string]any{"engine": "dalle", "prompt": "x"}, http.StatusBadRequest, service.ReasonUnknownEngine},
		{"edit without image", map[string]any{"engine": "freepik_seedream", "prompt": "x"}, http.StatusBadRequest, service.ReasonImageRequired},
		{"bad image", map[string]any{"engine": "freepik_seedream", "prompt": "x", "image_base64": "%%%"}, http.StatusBadRequest, "invalid_image"},
	}
	for _, tt := range tests {
		resp, body := ts.do(t, http.MethodPost, "/api/generate", 13, tt.body)
		if resp.StatusCode != tt.status || body["error"] != tt.code {
			t.Errorf("%s: %d %v, want %d %s", tt.name, resp.StatusCode, body, tt.status, tt.code)
		}
	}
	if got := ts.credits(t, 13); got != 2 {
		t.Errorf("validation failures changed credits to %d", got)
	}
}

func TestGenerateWithoutCredits(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/me", 14, nil)
	if _, err := ts.users.TrySpend(context.Background(), 14, 2); err != nil {
		t.Fatalf("drain balance: %v", err)
	}

	resp, body := ts.do(t, http.MethodPost, "/api/generate", 14, map[string]any{"engine": "nano_banana", "prompt": "x"})
	if resp.StatusCode != http.StatusPaymentRequired || body["error"] != "no_credits" {
		t.Fatalf("generate = %d %v", resp.StatusCode, body)
	}
	if ts.generator.calls != 0 {
		t.Error("provider called without credits")
	}
}

func TestGenerateProviderFailureRefunds(t *testing.T) {
	ts := newTestServer(t)
	ts.generator.err = &provider.Error{Provider: "gemini", Reason: provider.ReasonMalformedResponse}

	resp, body := ts.do(t, http.MethodPost, "/api/generate", 15, map[string]any{"engine": "nano", "prompt": "x"})
	if resp.StatusCode != http.StatusBadGateway || body["error"] != "gen_error" || body["refunded"] != true {
		t.Fatalf("generate = %d %v", resp.StatusCode, body)
	}
	if got := ts.credits(t, 15); got != 2 {
		t.Errorf("credits = %d, want 2 after refund", got)
	}
}

func TestInvoice(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/api/invoice", 16, map[string]any{"pack_id": "p30"})
	if resp.StatusCode != http.StatusOK || body["url"] != "https://t.me/$stars" {
		t.Fatalf("invoice = %d %v", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPost, "/api/invoice", 16, map[string]any{"pack_id": "gold"})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "pack_not_found" {
		t.Fatalf("invoice(gold) = %d %v", resp.StatusCode, body)
	}
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/me", 17, nil)

	post := func(path, user, pass string, body any) *http.Response {
		raw, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(raw))
		req.SetBasicAuth(user, pass)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := post("/admin/credits", "admin", "wrong", map[string]any{"user_id": 17, "amount": 5}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", resp.StatusCode)
	}
	if resp := post("/admin/credits", "admin", "secret", map[string]any{"user_id": 17, "amount": 5}); resp.StatusCode != http.StatusOK {
		t.Fatalf("credits status = %d", resp.StatusCode)
	}
	if got := ts.credits(t, 17); got != 7 {
		t.Errorf("credits = %d, want 7", got)
	}
	if resp := post("/admin/credits", "admin", "secret", map[string]any{"user_id": 404, "amount": 5}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user status = %d", resp.StatusCode)
	}

	if resp := post("/admin/broadcast", "admin", "secret", map[string]any{"message": "hello"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("broadcast status = %d", resp.StatusCode)
	}
	if ts.messenger.sent[17] != "hello" {
		t.Errorf("broadcast sent = %v", ts.messenger.sent)
	}
}

func TestDecodeImage(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	data, mime, err := decodeImage("data:image/png;base64,"+encoded, "")
	if err != nil || mime != "image/png" || !bytes.Equal(data, pngBytes) {
		t.Errorf("decodeImage(data url) = %q, %q, %v", data, mime, err)
	}
	_, mime, err = decodeImage(encoded, "")
	if err != nil || mime != "image/jpeg" {
		t.Errorf("decodeImage(raw) mime = %q, %v", mime, err)
	}
	if data, _, err := decodeImage("", ""); err != nil || data != nil {
		t.Errorf("decodeImage(empty) = %v, %v", data, err)
	}
}
