package freepik

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/provider"
)

const (
	mysticPath   = "/v1/ai/mystic"
	seedreamPath = "/v1/ai/text-to-image/seedream-v4-edit"

	statusTimeout = 30 * time.Second
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(apiKey, baseURL string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.freepik.com"
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		log:        log,
	}
}

// Task is one Freepik create/status endpoint pair, exposed as a polled adapter.
type Task struct {
	client        *Client
	name          string
	path          string
	createTimeout time.Duration
	budget        time.Duration
	body          func(prompt string, params provider.Params) map[string]any
}

// Mystic is text-to-image.
func (c *Client) Mystic(budget time.Duration) *Task {
	return &Task{
		client:        c,
		name:          string(models.EngineMystic),
		path:          mysticPath,
		createTimeout: 30 * time.Second,
		budget:        budget,
		body: func(prompt string, params provider.Params) map[string]any {
			return map[string]any{
				"prompt":       prompt,
				"aspect_ratio": aspectRatio(params),
			}
		},
	}
}

// SeedreamEdit is image+text to image; the reference photo is sent inline as base64.
func (c *Client) SeedreamEdit(budget time.Duration) *Task {
	return &Task{
		client:        c,
		name:          string(models.EngineSeedream),
		path:          seedreamPath,
		createTimeout: 45 * time.Second,
		budget:        budget,
		body: func(prompt string, params provider.Params) map[string]any {
			refs := []string{}
			if len(params.ReferenceImage) > 0 {
				refs = append(refs, base64.StdEncoding.EncodeToString(params.ReferenceImage))
			}
			return map[string]any{
				"prompt":           prompt,
				"aspect_ratio":     aspectRatio(params),
				"num_images":       1,
				"reference_images": refs,
			}
		},
	}
}

func (t *Task) Budget() time.Duration {
	return t.budget
}

func (t *Task) Submit(ctx context.Context, prompt string, params provider.Params) (provider.TaskHandle, error) {
	if t.client.apiKey == "" {
		return provider.TaskHandle{}, provider.NewError(t.name, provider.ReasonMissingCredentials, errors.New("FREEPIK_API_KEY is not set"))
	}

	ctx, cancel := context.WithTimeout(ctx, t.createTimeout)
	defer cancel()

	payload, err := json.Marshal(t.body(prompt, params))
	if err != nil {
		return provider.TaskHandle{}, fmt.Errorf("marshal payload: %w", err)
	}

	var resp envelope
	if err := t.client.do(ctx, t.name, http.MethodPost, t.path, payload, &resp); err != nil {
		return provider.TaskHandle{}, err
	}
	if resp.Data.TaskID == "" {
		return provider.TaskHandle{}, provider.NewError(t.name, provider.ReasonMalformedResponse, errors.New("empty task_id in response"))
	}

	if t.client.log != nil {
		t.client.log.Info("freepik task created", "engine", t.name, "task_id", resp.Data.TaskID)
	}
	return provider.TaskHandle{ID: resp.Data.TaskID}, nil
}

func (t *Task) Poll(ctx context.Context, handle provider.TaskHandle) (provider.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	var resp envelope
	if err := t.client.do(ctx, t.name, http.MethodGet, t.path+"/"+url.PathEscape(handle.ID), nil, &resp); err != nil {
		return provider.Snapshot{}, err
	}

	switch strings.ToUpper(resp.Data.Status) {
	case "COMPLETED", "DONE":
		snap := provider.Snapshot{Status: provider.StatusCompleted}
		if len(resp.Data.Generated) > 0 {
			snap.ArtifactURL = resp.Data.Generated[0]
		}
		return snap, nil
	case "FAILED":
		return provider.Snapshot{Status: provider.StatusFailed, Reason: t.name + " task failed"}, nil
	default:
		return provider.Snapshot{Status: provider.StatusPending}, nil
	}
}

type envelope struct {
	Data struct {
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		Generated []string `json:"generated"`
	} `json:"data"`
}

func (c *Client) do(ctx context.Context, name, method, path string, body []byte, out any) error {
	fullURL := c.baseURL + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-freepik-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NewError(name, provider.ReasonNetwork, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewError(name, provider.ReasonNetwork, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("freepik request failed", "engine", name, "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return provider.NewError(name, provider.ReasonHTTPStatus, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncateBody(rawBody)))
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return provider.NewError(name, provider.ReasonMalformedResponse, fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody)))
	}
	return nil
}

func aspectRatio(params provider.Params) string {
	if params.AspectRatio != "" {
		return params.AspectRatio
	}
	return models.DefaultFreepikAspectRatio
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
