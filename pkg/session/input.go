package session

import (
	"context"
	"sync"
)

// InputBroker pairs a suspended user_input tool invocation with the API
// call that answers it. Keys are node IDs generated per invocation.
//
// Resolve may land before Wait registers (the prompt event reaches the UI
// first), so early values are buffered until the waiter arrives.
type InputBroker struct {
	mu      sync.Mutex
	waiters map[string]chan string
	pending map[string]string
}

// NewInputBroker returns an empty broker.
func NewInputBroker() *InputBroker {
	return &InputBroker{
		waiters: make(map[string]chan string),
		pending: make(map[string]string),
	}
}

// Wait blocks until Resolve supplies a value for nodeID or ctx ends.
func (b *InputBroker) Wait(ctx context.Context, nodeID string) (string, error) {
	b.mu.Lock()
	if value, ok := b.pending[nodeID]; ok {
		delete(b.pending, nodeID)
		b.mu.Unlock()
		return value, nil
	}
	ch := make(chan string, 1)
	b.waiters[nodeID] = ch
	b.mu.Unlock()

	select {
	case value := <-ch:
		return value, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.waiters, nodeID)
		b.mu.Unlock()
		return "", ctx.Err()
	}
}

// Resolve delivers a value for nodeID. It reports whether a waiter was
// blocked on it; otherwise the value is buffered for a future Wait.
func (b *InputBroker) Resolve(nodeID, value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.waiters[nodeID]; ok {
		delete(b.waiters, nodeID)
		ch <- value
		return true
	}
	b.pending[nodeID] = value
	return false
}

// Waiting reports how many invocations are currently parked.
func (b *InputBroker) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}
