package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/provider"
)

const DefaultModel = "gemini-2.5-flash-image-preview"

var name = string(models.EngineNanoBanana)

// contentGenerator is the part of *genai.GenerativeModel the adapter needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client is the immediate text-to-image adapter.
type Client struct {
	client  *genai.Client
	model   contentGenerator
	timeout time.Duration
	log     *slog.Logger
}

// NewClient returns an adapter even without an API key; Generate then fails with
// missing_credentials so the orchestrator refunds instead of the process refusing to start.
func NewClient(ctx context.Context, apiKey, model string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	c := &Client{timeout: timeout, log: log}
	if strings.TrimSpace(apiKey) == "" {
		return c, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.client = client
	c.model = client.GenerativeModel(model)
	return c, nil
}

func (c *Client) Close() {
	if c.client == nil {
		return
	}
	if err := c.client.Close(); err != nil && c.log != nil {
		c.log.Warn("close genai client", "err", err)
	}
}

func (c *Client) Generate(ctx context.Context, prompt string, _ provider.Params) (*provider.Artifact, error) {
	if c.model == nil {
		return nil, provider.NewError(name, provider.ReasonMissingCredentials, errors.New("GEMINI_API_KEY is not set"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx, genai.Text(strings.TrimSpace(prompt)))
	if err != nil {
		return nil, provider.NewError(name, provider.ReasonNetwork, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, provider.NewError(name, provider.ReasonMalformedResponse, errors.New("no candidates in response"))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Blob:
			if len(p.Data) == 0 {
				continue
			}
			mime := p.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return &provider.Artifact{Data: p.Data, MimeType: mime}, nil
		case genai.Text:
			text.WriteString(string(p))
		}
	}

	msg := "no image in response"
	if t := strings.TrimSpace(text.String()); t != "" {
		if len(t) > 140 {
			t = t[:140]
		}
		msg += ": " + t
	}
	return nil, provider.NewError(name, provider.ReasonMalformedResponse, errors.New(msg))
}
