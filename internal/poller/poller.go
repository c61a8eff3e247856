package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/PromptStudioBot/internal/provider"
)

const DefaultInterval = 2500 * time.Millisecond

// Outcome is the result of watching a task. InProgress means the budget ran out before the
// task reached a terminal status; it is not an error.
type Outcome struct {
	TaskID     string
	URL        string
	InProgress bool
}

// Engine polls submitted tasks at a fixed interval until they finish or the budget is spent.
// It never cancels the remote task.
type Engine struct {
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(interval time.Duration, log *slog.Logger) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		interval: interval,
		log:      log,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Run waits for handle to complete. A FAILED status yields a provider.Error with reason
// remote_failed; transport errors from Poll abort the wait.
func (e *Engine) Run(ctx context.Context, polled provider.Polled, handle provider.TaskHandle, budget time.Duration) (Outcome, error) {
	outcome := Outcome{TaskID: handle.ID}
	deadline := e.now().Add(budget)
	attempts := 0

	for e.now().Before(deadline) {
		if err := e.sleep(ctx, e.interval); err != nil {
			return outcome, fmt.Errorf("poll task %s: %w", handle.ID, err)
		}
		attempts++

		snap, err := polled.Poll(ctx, handle)
		if err != nil {
			return outcome, fmt.Errorf("poll task %s: %w", handle.ID, err)
		}

		switch snap.Status {
		case provider.StatusCompleted:
			if snap.ArtifactURL == "" {
				// Some providers flip to COMPLETED before the asset list is filled in.
				continue
			}
			outcome.URL = snap.ArtifactURL
			e.log.Debug("task completed", "task_id", handle.ID, "attempts", attempts)
			return outcome, nil
		case provider.StatusFailed:
			reason := snap.Reason
			if reason == "" {
				reason = "task failed"
			}
			return outcome, &provider.Error{Provider: "task " + handle.ID, Reason: provider.ReasonRemoteFailed, Err: errors.New(reason)}
		}
	}

	e.log.Warn("task still in progress after budget", "task_id", handle.ID, "budget", budget, "attempts", attempts)
	outcome.InProgress = true
	return outcome, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
