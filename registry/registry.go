// Package registry maps subject patterns to the ordered set of
// handlers that should receive a matching delivery.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/subject"
)

// ErrorAction is the disposition a handler requests when it fails.
type ErrorAction int

const (
	// ActionDefault lets MessageProcessor apply the default policy
	// (retry while under delivery limits, then DLQ).
	ActionDefault ErrorAction = iota
	ActionRetry
	ActionDiscard
	ActionDLQ
)

// Handler is a registered subscriber: a name, the subject patterns it
// listens on, the function that processes a message, and an optional
// error policy callback.
type Handler struct {
	Name     string
	Patterns []string
	Handle   func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error
	// OnError is consulted when Handle returns an error; it may be nil,
	// in which case ActionDefault applies.
	OnError func(ctx context.Context, mctx envelope.MessageContext, err error) ErrorAction
}

// Registry is an append-only (after Start) mapping from subject pattern
// to the ordered set of handlers registered under it.
type Registry struct {
	mu       sync.Mutex
	byName   map[string]*Handler
	order    map[string]int // handler name -> global insertion index
	patterns map[string][]*Handler // pattern -> handlers in insertion order
	started  bool
	next     int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byName:   make(map[string]*Handler),
		order:    make(map[string]int),
		patterns: make(map[string][]*Handler),
	}
}

// Register inserts handler under each of its declared patterns.
// Duplicate registration (by handler.Name) is ignored. Register must be
// called before Start(); it is serialized by a mutex so concurrent
// registration during setup is safe.
func (r *Registry) Register(h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[h.Name]; exists {
		return
	}
	r.byName[h.Name] = h
	r.order[h.Name] = r.next
	r.next++

	for _, p := range h.Patterns {
		r.patterns[p] = append(r.patterns[p], h)
	}
}

// Start marks the registry read-only. After Start, SubscribersFor is
// lock-free.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
}

// SubscribersFor returns every handler whose pattern matches
// wireSubject, preserving the insertion order of each pattern's handler
// list and skipping duplicates (same handler matched by more than one
// pattern).
func (r *Registry) SubscribersFor(wireSubject string) []*Handler {
	if !r.started {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	seen := make(map[string]bool)
	var out []*Handler
	for pattern, handlers := range r.patterns {
		if !subject.Matches(pattern, wireSubject) {
			continue
		}
		for _, h := range handlers {
			if seen[h.Name] {
				continue
			}
			seen[h.Name] = true
			out = append(out, h)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return r.order[out[i].Name] < r.order[out[j].Name]
	})
	return out
}

// Patterns returns the distinct set of registered subject patterns,
// used by Consumer to provision one durable pull consumer per pattern.
func (r *Registry) Patterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.patterns))
	for p := range r.patterns {
		out = append(out, p)
	}
	return out
}
