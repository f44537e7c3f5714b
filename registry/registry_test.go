package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/registry"
)

func noopHandle(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
	return nil
}

func TestSubscribersForMatchesByPattern(t *testing.T) {
	r := registry.New()
	r.Register(&registry.Handler{Name: "a", Patterns: []string{"test.svc-a.orders.*"}, Handle: noopHandle})
	r.Register(&registry.Handler{Name: "b", Patterns: []string{"test.svc-a.orders.created"}, Handle: noopHandle})
	r.Register(&registry.Handler{Name: "c", Patterns: []string{"test.svc-a.payments.*"}, Handle: noopHandle})

	subs := r.SubscribersFor("test.svc-a.orders.created")
	names := namesOf(subs)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestSubscribersForPreservesInsertionOrder(t *testing.T) {
	r := registry.New()
	r.Register(&registry.Handler{Name: "second", Patterns: []string{"test.svc-a.orders.*"}, Handle: noopHandle})
	r.Register(&registry.Handler{Name: "first", Patterns: []string{"test.svc-a.orders.created"}, Handle: noopHandle})

	// "first" registered after "second" but under a more specific
	// pattern — insertion order (registration order), not pattern
	// specificity, determines dispatch order.
	subs := r.SubscribersFor("test.svc-a.orders.created")
	assert.Equal(t, []string{"second", "first"}, namesOf(subs))
}

func TestRegisterIgnoresDuplicateByName(t *testing.T) {
	r := registry.New()
	r.Register(&registry.Handler{Name: "a", Patterns: []string{"test.svc-a.orders.*"}, Handle: noopHandle})
	r.Register(&registry.Handler{Name: "a", Patterns: []string{"test.svc-a.payments.*"}, Handle: noopHandle})

	assert.Len(t, r.SubscribersFor("test.svc-a.payments.created"), 0)
	assert.Len(t, r.SubscribersFor("test.svc-a.orders.created"), 1)
}

func TestSubscribersForDedupesHandlerMatchedByMultiplePatterns(t *testing.T) {
	r := registry.New()
	r.Register(&registry.Handler{Name: "a", Patterns: []string{"test.svc-a.>", "test.svc-a.orders.*"}, Handle: noopHandle})

	subs := r.SubscribersFor("test.svc-a.orders.created")
	assert.Len(t, subs, 1)
}

func namesOf(handlers []*registry.Handler) []string {
	out := make([]string, len(handlers))
	for i, h := range handlers {
		out[i] = h.Name
	}
	return out
}
