// Package handler defines the contract between the dispatcher and the code
// that actually carries out an intent.
//
// Side-effecting handlers (files, OS settings, browser automation) live
// outside aura. They are either registered in-process by an embedding
// program or reached remotely through a Forwarder. Only a few side-effect
// free built-ins ship with aura itself.
package handler

import (
	"context"
	"slices"
	"sync"

	"github.com/nadzzz/aura/internal/message"
)

// Handler executes one resolved intent. It reports whether it succeeded and
// the feedback text to show the user. Long-running handlers must return
// promptly once ctx is cancelled.
type Handler interface {
	Execute(ctx context.Context, intentID string, slots message.Slots) (success bool, feedback string)
}

// Func adapts a plain function to the Handler interface.
type Func func(ctx context.Context, intentID string, slots message.Slots) (bool, string)

// Execute calls f.
func (f Func) Execute(ctx context.Context, intentID string, slots message.Slots) (bool, string) {
	return f(ctx, intentID, slots)
}

// Registry maps intent ids to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to intentID, replacing any earlier binding.
func (r *Registry) Register(intentID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[intentID] = h
}

// Lookup returns the handler bound to intentID.
func (r *Registry) Lookup(intentID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[intentID]
	return h, ok
}

// Intents returns the bound intent ids in sorted order.
func (r *Registry) Intents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
