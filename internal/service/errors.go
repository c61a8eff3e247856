package service

import (
	"errors"
	"fmt"

	"github.com/digkill/PromptStudioBot/internal/models"
)

// ErrInsufficientBalance means nothing was spent and no provider was called.
var ErrInsufficientBalance = errors.New("insufficient credits")

// ErrStillInProgress is the cause of a GenerationError whose remote task outlived the poll budget.
var ErrStillInProgress = errors.New("generation still in progress")

var ErrUnknownPack = errors.New("unknown pack")

// Validation reasons double as API error codes.
const (
	ReasonEngineRequired = "engine_required"
	ReasonUnknownEngine  = "unknown_engine"
	ReasonPromptRequired = "prompt_required"
	ReasonImageRequired  = "image_required"
)

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GenerationError is returned after a spend when the provider path failed. Refunded reports
// whether the spent credits were returned.
type GenerationError struct {
	Engine   models.Engine
	TaskID   string
	Refunded bool
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate with %s: %v", e.Engine, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
