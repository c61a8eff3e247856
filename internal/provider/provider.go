// Package provider defines the two shapes an image-generation backend can take: an
// immediate adapter that returns the artifact in one call, and a polled adapter that
// returns a task handle to be watched by the poller.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Artifact is a finished generation. Immediate adapters fill Data and MimeType; polled
// adapters only know the remote URL.
type Artifact struct {
	Data     []byte
	MimeType string
	URL      string
}

// Params are per-request generation parameters.
type Params struct {
	AspectRatio    string
	ReferenceImage []byte
	ReferenceMime  string
}

type TaskHandle struct {
	ID string
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Snapshot is one observation of a remote task.
type Snapshot struct {
	Status      Status
	ArtifactURL string
	Reason      string
}

type Immediate interface {
	Generate(ctx context.Context, prompt string, params Params) (*Artifact, error)
}

// Polled adapters are driven by the poller; Poll is never called by the orchestrator.
type Polled interface {
	Submit(ctx context.Context, prompt string, params Params) (TaskHandle, error)
	Poll(ctx context.Context, handle TaskHandle) (Snapshot, error)
	// Budget is the wall-clock time the poller may spend waiting for this adapter's tasks.
	Budget() time.Duration
}

// Machine-readable failure reasons.
const (
	ReasonMissingCredentials = "missing_credentials"
	ReasonMalformedResponse  = "malformed_response"
	ReasonRemoteFailed       = "remote_failed"
	ReasonHTTPStatus         = "http_status"
	ReasonNetwork            = "network"
)

// Error is the single failure type returned by adapters.
type Error struct {
	Provider string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(provider, reason string, err error) *Error {
	return &Error{Provider: provider, Reason: reason, Err: err}
}
