// Package worker dispatches chat runs onto goroutines and tracks them for
// cancellation and graceful shutdown.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrShuttingDown is returned by Submit after Stop has begun.
	ErrShuttingDown = errors.New("dispatcher is shutting down")
	// ErrChatActive is returned when a chat already has a running dispatch.
	ErrChatActive = errors.New("chat is already running")
)

// Run is one chat execution. It must return when ctx ends.
type Run func(ctx context.Context)

// Dispatcher owns the goroutines that execute chats. One run per chat at a
// time; Stop waits for in-flight runs to finish.
type Dispatcher struct {
	mu      sync.Mutex
	active  map[string]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a dispatcher.
func New() *Dispatcher {
	return &Dispatcher{active: make(map[string]context.CancelFunc)}
}

// ──────────────────────────────────────────────────────────────────────────
// Submission and cancellation

// Submit starts run on its own goroutine under a cancellable context keyed
// by chatID.
func (d *Dispatcher) Submit(chatID string, run Run) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := d.active[chatID]; exists {
		d.mu.Unlock()
		return ErrChatActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.active[chatID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Chat run panicked", "chat_id", chatID, "panic", r)
			}
			d.mu.Lock()
			delete(d.active, chatID)
			d.mu.Unlock()
			cancel()
			d.wg.Done()
		}()
		run(ctx)
	}()
	return nil
}

// Cancel ends a chat's run context. It reports whether a run was active.
func (d *Dispatcher) Cancel(chatID string) bool {
	d.mu.Lock()
	cancel, ok := d.active[chatID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of in-flight runs.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// ──────────────────────────────────────────────────────────────────────────
// Shutdown

// Stop rejects new submissions and waits for in-flight runs, up to the
// given grace period. After the grace period the remaining contexts are
// cancelled and Stop waits for them to unwind.
func (d *Dispatcher) Stop(grace time.Duration) {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
	}

	d.mu.Lock()
	n := len(d.active)
	for _, cancel := range d.active {
		cancel()
	}
	d.mu.Unlock()
	if n > 0 {
		slog.Warn("Cancelled chat runs that outlived the grace period", "count", n)
	}
	<-done
}
