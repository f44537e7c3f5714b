// Package testharness provides an in-process double of the bus for
// unit and integration tests: a JetStreamContext stand-in that, on
// publish, immediately runs the same Processor path a real durable
// consumer would, so tests exercise the exact ack/nak/term/DLQ
// decisions without a running NATS server.
package testharness

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/chain"
	"github.com/attaradev/nats-pubsub-sub004/dlqrouter"
	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/processor"
	"github.com/attaradev/nats-pubsub-sub004/registry"
	"github.com/attaradev/nats-pubsub-sub004/telemetry"
	"github.com/attaradev/nats-pubsub-sub004/topology"
)

const pollInterval = 5 * time.Millisecond

// Published is one message captured by the harness's bus double.
type Published struct {
	Subject string
	Data    []byte
	Decision processor.Decision
}

// Harness is the in-process test double. It owns its own Registry,
// Processor, and bus double, so RegisterHandler/Publish calls exercise
// the real dispatch path against an isolated, in-memory bus.
type Harness struct {
	codec     *envelope.Codec
	registry  *registry.Registry
	processor *processor.Processor
	js        *harnessJS
	dlqSubject string

	mu          sync.Mutex
	published   []Published
	invocations map[string]int
	simErrors   map[string]error

	drainCancel context.CancelFunc
}

// Options configures New.
type Options struct {
	Producer    string
	DLQSubject  string
	DLQEnabled  bool
	ProcessorOptions processor.Options
}

// New returns a Harness ready for RegisterHandler/Publish calls.
func New(opts Options) *Harness {
	if opts.DLQSubject == "" {
		opts.DLQSubject = "test.events.dlq"
	}

	log := zap.NewNop()
	h := &Harness{
		codec:       envelope.NewCodec(opts.Producer),
		registry:    registry.New(),
		invocations: make(map[string]int),
		simErrors:   make(map[string]error),
		dlqSubject:  opts.DLQSubject,
	}

	h.js = &harnessJS{h: h, streams: make(map[string]*nats.StreamInfo)}
	topo := topology.NewManager(h.js, log)
	dlq := dlqrouter.New(h.js, log, topo, opts.DLQSubject, topology.DLQStreamDesc("DLQ", opts.DLQSubject))

	procOpts := opts.ProcessorOptions
	procOpts.DLQEnabled = opts.DLQEnabled
	h.processor = processor.New(h.registry, chain.New(), h.codec, dlq, telemetry.Noop{}, log, procOpts)

	return h
}

// JS returns the JetStreamContext stand-in: wire a publisher.Publisher
// (or any other js-consuming component under test) to this so its
// publishes land on the harness's inline dispatch path.
func (h *Harness) JS() nats.JetStreamContext { return h.js }

// RegisterHandler wraps handle with invocation tracking and
// handler-identity-keyed simulated-error injection, then registers it
// under name/patterns.
func (h *Harness) RegisterHandler(name string, patterns []string, handle func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error, onError func(ctx context.Context, mctx envelope.MessageContext, err error) registry.ErrorAction) {
	wrapped := func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
		h.mu.Lock()
		h.invocations[name]++
		simErr := h.simErrors[name]
		h.mu.Unlock()

		if simErr != nil {
			return simErr
		}
		return handle(ctx, message, mctx)
	}

	h.registry.Register(&registry.Handler{Name: name, Patterns: patterns, Handle: wrapped, OnError: onError})
}

// Start marks the registry read-only, mirroring Consumer.Start's
// append-only contract.
func (h *Harness) Start() { h.registry.Start() }

// SimulateError makes every future invocation of the named handler
// fail with err, until ClearSimulatedError is called.
func (h *Harness) SimulateError(handlerName string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.simErrors[handlerName] = err
}

// ClearSimulatedError removes a previously configured simulated error.
func (h *Harness) ClearSimulatedError(handlerName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.simErrors, handlerName)
}

// Invocations returns how many times the named handler has actually
// been invoked (simulated-error short-circuits still count).
func (h *Harness) Invocations(handlerName string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invocations[handlerName]
}

// Published returns every message captured by the bus double, in
// publish order.
func (h *Harness) Published() []Published {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Published, len(h.published))
	copy(out, h.published)
	return out
}

// DLQMessages decodes and returns every envelope routed to the DLQ
// subject.
func (h *Harness) DLQMessages() []dlqrouter.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []dlqrouter.Envelope
	for _, p := range h.published {
		if p.Subject != h.dlqSubject {
			continue
		}
		var env dlqrouter.Envelope
		if err := json.Unmarshal(p.Data, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// WaitFor polls pred every 5ms until it returns true or timeout
// elapses, returning whether pred was ever observed true.
func (h *Harness) WaitFor(pred func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if pred() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// Cleanup stops any background workers started on this harness (none
// by default — inline dispatch is synchronous) and clears captured
// state, so the same Harness can be reused across subtests.
func (h *Harness) Cleanup() {
	if h.drainCancel != nil {
		h.drainCancel()
		h.drainCancel = nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = nil
	h.invocations = make(map[string]int)
	h.simErrors = make(map[string]error)
}

func (h *Harness) recordPublish(subject string, data []byte, decision processor.Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, Published{Subject: subject, Data: data, Decision: decision})
}
