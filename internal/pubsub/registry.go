// Package pubsub provides a token-based observer registry used by the
// simulated transports to fan events out to listeners.
package pubsub

import (
	"slices"
	"sync"
)

// Registry maps subscription tokens to handlers. The zero value is ready to use.
type Registry[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(T)
}

// Subscribe registers fn and returns a disposer. The disposer removes exactly
// this subscription and is safe to call more than once.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	r.mu.Lock()
	if r.subs == nil {
		r.subs = make(map[uint64]func(T))
	}
	r.next++
	token := r.next
	r.subs[token] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, token)
			r.mu.Unlock()
		})
	}
}

// Publish delivers v once to every handler registered at the time of the call,
// in subscription order, and returns the number of handlers invoked.
// Handlers run outside the lock, so they may subscribe or unsubscribe.
func (r *Registry[T]) Publish(v T) int {
	r.mu.RLock()
	tokens := make([]uint64, 0, len(r.subs))
	for t := range r.subs {
		tokens = append(tokens, t)
	}
	slices.Sort(tokens)
	handlers := make([]func(T), 0, len(tokens))
	for _, t := range tokens {
		handlers = append(handlers, r.subs[t])
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(v)
	}
	return len(handlers)
}

// Len returns the number of active subscriptions.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
