// Package dispatch routes incoming webhook requests to per-bot queues.
//
// The HTTP surface is deliberately small: one POST route keyed by bot token,
// a landing page, and health endpoints. Everything behind it is a token
// lookup plus a non-blocking enqueue, so a slow bot can never stall another
// bot's webhook deliveries.
package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"bothive/pkg/bus"
)

// Registration binds one bot token to its queue.
type Registration struct {
	// Token is the bot's webhook token, used as the URL path segment.
	Token string
	// DisplayName identifies the bot in logs without exposing the token.
	DisplayName string
	Queue       *bus.Queue
}

// Registry is the token-to-queue routing table. Registrations happen during
// startup; lookups run on every webhook request.
type Registry struct {
	mu      sync.RWMutex
	byToken map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{byToken: make(map[string]Registration)}
}

// Register adds a bot's route. Duplicate tokens are rejected because a token
// must map to exactly one queue.
func (r *Registry) Register(reg Registration) error {
	if reg.Token == "" {
		return errors.New("registration token is required")
	}
	if reg.Queue == nil {
		return errors.New("registration queue is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byToken[reg.Token]; ok {
		return fmt.Errorf("token already registered to bot %s", existing.DisplayName)
	}
	r.byToken[reg.Token] = reg
	return nil
}

// Lookup resolves a token to its registration.
func (r *Registry) Lookup(token string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byToken[token]
	return reg, ok
}

// Len reports the number of registered bots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// Tokens returns every registered token in sorted order.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]string, 0, len(r.byToken))
	for token := range r.byToken {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}
