package telegram

import (
	"context"
	"log/slog"
	"sync"
)

// serialExecutor runs the jobs of one key in submission order while different keys run
// concurrently. A generation can block its user for the whole poll budget without stalling
// anybody else.
type serialExecutor struct {
	mu      sync.Mutex
	pending map[int64][]func(context.Context)
	wg      sync.WaitGroup
	log     *slog.Logger
}

func newSerialExecutor(log *slog.Logger) *serialExecutor {
	return &serialExecutor{pending: make(map[int64][]func(context.Context)), log: log}
}

// Submit queues job for key and starts a drain goroutine when the key was idle.
func (e *serialExecutor) Submit(ctx context.Context, key int64, job func(context.Context)) {
	e.mu.Lock()
	queue, running := e.pending[key]
	e.pending[key] = append(queue, job)
	e.mu.Unlock()
	if running {
		return
	}
	e.wg.Add(1)
	go e.drain(ctx, key)
}

func (e *serialExecutor) drain(ctx context.Context, key int64) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		queue := e.pending[key]
		if len(queue) == 0 {
			delete(e.pending, key)
			e.mu.Unlock()
			return
		}
		job := queue[0]
		e.pending[key] = queue[1:]
		e.mu.Unlock()

		e.run(ctx, key, job)
	}
}

func (e *serialExecutor) run(ctx context.Context, key int64, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("update handler panic", "user_id", key, "panic", r)
		}
	}()
	job(ctx)
}

// Wait blocks until every queued job has finished.
func (e *serialExecutor) Wait() {
	e.wg.Wait()
}
