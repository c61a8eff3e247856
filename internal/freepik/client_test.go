package freepik

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digkill/PromptStudioBot/internal/provider"
)

func TestMysticSubmitAndPoll(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-freepik-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/ai/mystic":
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.Write([]byte(`{"data":{"task_id":"abc","status":"CREATED"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/ai/mystic/abc":
			w.Write([]byte(`{"data":{"task_id":"abc","status":"COMPLETED","generated":["https://img.example.com/1.png"]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	task := NewClient("secret", srv.URL, nil).Mystic(70 * time.Second)
	handle, err := task.Submit(context.Background(), "a cat", provider.Params{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle.ID != "abc" {
		t.Fatalf("handle = %+v", handle)
	}
	if gotBody["prompt"] != "a cat" || gotBody["aspect_ratio"] != "social_story_9_16" {
		t.Errorf("request body = %v", gotBody)
	}

	snap, err := task.Poll(context.Background(), handle)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if snap.Status != provider.StatusCompleted || snap.ArtifactURL != "https://img.example.com/1.png" {
		t.Errorf("Poll() = %+v", snap)
	}
	if task.Budget() != 70*time.Second {
		t.Errorf("Budget() = %v", task.Budget())
	}
}

func TestSeedreamSendsReferenceImage(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G'}
	var gotBody struct {
		NumImages       int      `json:"num_images"`
		ReferenceImages []string `json:"reference_images"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/ai/text-to-image/seedream-v4-edit":
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.Write([]byte(`{"data":{"task_id":"t-2"}}`))
		case "/v1/ai/text-to-image/seedream-v4-edit/t-2":
			w.Write([]byte(`{"data":{"status":"DONE","generated":["https://img.example.com/2.png"]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	task := NewClient("secret", srv.URL, nil).SeedreamEdit(90 * time.Second)
	handle, err := task.Submit(context.Background(), "make it neon", provider.Params{ReferenceImage: image})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if gotBody.NumImages != 1 || len(gotBody.ReferenceImages) != 1 {
		t.Fatalf("request body = %+v", gotBody)
	}
	if gotBody.ReferenceImages[0] != base64.StdEncoding.EncodeToString(image) {
		t.Errorf("reference image = %q", gotBody.ReferenceImages[0])
	}

	snap, err := task.Poll(context.Background(), handle)
	if err != nil || snap.Status != provider.StatusCompleted {
		t.Fatalf("Poll() = %+v, %v", snap, err)
	}
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		status int
		body   string
		reason string
	}{
		{name: "missing key", apiKey: "", reason: provider.ReasonMissingCredentials},
		{name: "no task id", apiKey: "k", status: http.StatusOK, body: `{"data":{}}`, reason: provider.ReasonMalformedResponse},
		{name: "not json", apiKey: "k", status: http.StatusOK, body: `<html>`, reason: provider.ReasonMalformedResponse},
		{name: "rejected", apiKey: "k", status: http.StatusBadRequest, body: `{"message":"bad prompt"}`, reason: provider.ReasonHTTPStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(tt.apiKey, srv.URL, nil).Mystic(time.Minute).Submit(context.Background(), "p", provider.Params{})
			var perr *provider.Error
			if !errors.As(err, &perr) {
				t.Fatalf("Submit() error = %v, want *provider.Error", err)
			}
			if perr.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", perr.Reason, tt.reason)
			}
		})
	}
}

func TestPollMapsFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"status":"FAILED"}}`))
	}))
	defer srv.Close()

	snap, err := NewClient("k", srv.URL, nil).Mystic(time.Minute).Poll(context.Background(), provider.TaskHandle{ID: "x"})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if snap.Status != provider.StatusFailed {
		t.Errorf("status = %s, want FAILED", snap.Status)
	}
}
