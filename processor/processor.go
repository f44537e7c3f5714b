// Package processor implements MessageProcessor, the central dispatch
// of a single delivery: parse envelope, look up subscribers, run each
// through the middleware chain under a per-handler timeout, and fold
// the results into exactly one ack/nak/term/DLQ decision.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/backoff"
	"github.com/attaradev/nats-pubsub-sub004/chain"
	"github.com/attaradev/nats-pubsub-sub004/dlqrouter"
	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/registry"
	"github.com/attaradev/nats-pubsub-sub004/telemetry"
)

// Decision is the terminal disposition MessageProcessor reached for a
// delivery, reported back to the caller for logging/testing.
type Decision string

const (
	DecisionAcked    Decision = "acked"
	DecisionNaked    Decision = "naked"
	DecisionTermed   Decision = "termed"
	DecisionDLQAcked Decision = "dlq_acked"
	DecisionDLQNaked Decision = "dlq_naked"
)

// Options configures a Processor.
type Options struct {
	MaxDeliver            int
	DLQMaxAttempts        int
	SubscriberTimeout     time.Duration // 0 disables
	PerMessageConcurrency int           // default 5, minimum 1
	DLQEnabled            bool
}

// Processor is MessageProcessor: it owns no bus connection itself,
// operating only on the Delivery and Registry abstractions so it can be
// exercised directly in tests and reused by both Consumer and
// TestHarness's inline dispatch path.
type Processor struct {
	registry *registry.Registry
	chain    *chain.Chain
	codec    *envelope.Codec
	dlq      *dlqrouter.Router
	metrics  telemetry.Metrics
	log      *zap.Logger

	maxDeliver            int
	dlqMaxAttempts        int
	subscriberTimeout     time.Duration
	perMessageConcurrency int
	dlqEnabled            bool
}

// New returns a Processor wired to its collaborators.
func New(reg *registry.Registry, c *chain.Chain, codec *envelope.Codec, dlq *dlqrouter.Router, metrics telemetry.Metrics, log *zap.Logger, opts Options) *Processor {
	if metrics == nil {
		metrics = telemetry.Noop{}
	}
	perMsg := opts.PerMessageConcurrency
	if perMsg <= 0 {
		perMsg = 5
	}
	return &Processor{
		registry:              reg,
		chain:                 c,
		codec:                 codec,
		dlq:                   dlq,
		metrics:               metrics,
		log:                   log,
		maxDeliver:            opts.MaxDeliver,
		dlqMaxAttempts:        opts.DLQMaxAttempts,
		subscriberTimeout:     opts.SubscriberTimeout,
		perMessageConcurrency: perMsg,
		dlqEnabled:            opts.DLQEnabled,
	}
}

// Process runs the full RECEIVED -> PARSED -> DISPATCHED -> terminal
// state machine for one delivery and returns the decision reached. It
// never propagates handler or processor errors to the caller; every
// path ends in exactly one ack/nak/term call on d.
func (p *Processor) Process(ctx context.Context, d Delivery) Decision {
	p.metrics.IncReceived(d.Subject())
	start := time.Now()
	defer func() {
		p.metrics.ObserveProcessorDuration(d.Subject(), time.Since(start))
	}()

	stream, seq, deliveries, metaErr := d.Metadata()
	if metaErr != nil {
		deliveries = 1
	}

	env, err := p.codec.Decode(d.Data())
	if err != nil {
		return p.handleMalformed(d, stream, seq, deliveries, err)
	}

	mctx := envelope.MessageContext{
		EventID:       env.EventID,
		Subject:       d.Subject(),
		Topic:         env.Topic,
		TraceID:       env.TraceID,
		CorrelationID: env.CorrelationID,
		OccurredAt:    env.OccurredAt,
		Deliveries:    deliveries,
		Stream:        stream,
		StreamSeq:     seq,
		Producer:      env.Producer,
	}

	handlers := p.registry.SubscribersFor(d.Subject())
	if len(handlers) == 0 {
		p.log.Debug("no subscribers for subject, acking", zap.String("subject", d.Subject()))
		return p.ack(d)
	}

	outcomes := p.dispatch(ctx, handlers, env.Message, mctx)

	var failed []HandlerOutcome
	for _, o := range outcomes {
		if !o.Ok() {
			failed = append(failed, o)
		}
	}

	if len(failed) == 0 {
		p.metrics.IncProcessed(d.Subject())
		p.log.Info("message processed", zap.String("event_id", mctx.EventID), zap.String("subject", mctx.Subject))
		return p.ack(d)
	}

	p.metrics.IncFailed(d.Subject())
	return p.handleFailure(d, mctx, failed)
}

// handleMalformed implements transition 1: a payload that does not
// parse as a valid envelope.
func (p *Processor) handleMalformed(d Delivery, stream string, seq uint64, deliveries int, cause error) Decision {
	p.log.Warn("malformed payload", zap.String("subject", d.Subject()), zap.Error(cause))

	mctx := envelope.MessageContext{Subject: d.Subject(), Deliveries: deliveries, Stream: stream, StreamSeq: seq}

	if p.dlqEnabled {
		if p.dlq.Route(mctx, d.Subject(), d.Data(), dlqrouter.ReasonMalformedPayload, cause) {
			p.metrics.IncDLQ(d.Subject(), string(dlqrouter.ReasonMalformedPayload))
			return p.dlqAck(d)
		}
	}
	return p.dlqNak(d, deliveries, cause)
}

// handleFailure implements transitions 6a-6c, folding every failing
// HandlerOutcome into one collective disposition for the delivery.
func (p *Processor) handleFailure(d Delivery, mctx envelope.MessageContext, failed []HandlerOutcome) Decision {
	cause := failed[0].Err

	for _, o := range failed {
		if IsUnrecoverable(o.Err) {
			cause = o.Err
			break
		}
	}

	limitExceeded := mctx.Deliveries >= p.maxDeliver ||
		(p.dlqMaxAttempts > 0 && mctx.Deliveries >= p.dlqMaxAttempts)

	if IsUnrecoverable(cause) {
		if p.dlqEnabled && p.dlq.Route(mctx, mctx.Subject, d.Data(), dlqrouter.ReasonUnrecoverable, cause) {
			p.metrics.IncDLQ(mctx.Subject, string(dlqrouter.ReasonUnrecoverable))
			return p.dlqAck(d)
		}
		// DLQ disabled or repeatedly unable to publish: keep the message
		// retryable until the delivery limit, then term to avoid an
		// infinite redelivery loop.
		if limitExceeded {
			return p.term(d)
		}
		return p.dlqNak(d, mctx.Deliveries, cause)
	}

	if limitExceeded {
		if p.dlqEnabled {
			if p.dlq.Route(mctx, mctx.Subject, d.Data(), dlqrouter.ReasonMaxDeliverExceeded, cause) {
				p.metrics.IncDLQ(mctx.Subject, string(dlqrouter.ReasonMaxDeliverExceeded))
			}
		}
		return p.term(d)
	}

	action := p.resolveAction(cause, failed, mctx)
	switch action {
	case registry.ActionDiscard:
		return p.ack(d)
	case registry.ActionDLQ:
		if p.dlqEnabled && p.dlq.Route(mctx, mctx.Subject, d.Data(), dlqrouter.ReasonHandlerError, cause) {
			p.metrics.IncDLQ(mctx.Subject, string(dlqrouter.ReasonHandlerError))
			return p.term(d)
		}
		return p.nak(d, mctx.Deliveries, cause)
	default: // ActionRetry, ActionDefault
		return p.nak(d, mctx.Deliveries, cause)
	}
}

// resolveAction consults the failing handlers' OnError callbacks (if
// any are registered for this subject) and picks the most severe
// requested action: DLQ beats Discard beats Retry/Default.
func (p *Processor) resolveAction(cause error, failed []HandlerOutcome, mctx envelope.MessageContext) registry.ErrorAction {
	failedNames := make(map[string]bool, len(failed))
	for _, o := range failed {
		failedNames[o.Subscriber] = true
	}
	handlers := p.registry.SubscribersFor(mctx.Subject)
	best := registry.ActionDefault
	for _, h := range handlers {
		if h.OnError == nil || !failedNames[h.Name] {
			continue
		}
		action := h.OnError(context.Background(), mctx, cause)
		if action == registry.ActionDLQ {
			return registry.ActionDLQ
		}
		if action == registry.ActionDiscard && best != registry.ActionDLQ {
			best = registry.ActionDiscard
		}
	}
	return best
}

// dispatch runs every handler concurrently, bounded by
// perMessageConcurrency, and collects one HandlerOutcome each.
func (p *Processor) dispatch(ctx context.Context, handlers []*registry.Handler, message map[string]interface{}, mctx envelope.MessageContext) []HandlerOutcome {
	sem := make(chan struct{}, p.perMessageConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := make([]HandlerOutcome, 0, len(handlers))

	for _, h := range handlers {
		h := h
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := p.runHandler(ctx, h, message, mctx)

			mu.Lock()
			outcomes = append(outcomes, HandlerOutcome{Subscriber: h.Name, Err: err})
			mu.Unlock()
		}()
	}
	wg.Wait()
	return outcomes
}

// runHandler executes h through the middleware chain, racing it
// against a timeout timer when one is configured. The timer is always
// stopped on return, on both the success and timeout paths.
func (p *Processor) runHandler(ctx context.Context, h *registry.Handler, message map[string]interface{}, mctx envelope.MessageContext) error {
	start := time.Now()
	defer func() {
		p.metrics.ObserveHandlerDuration(mctx.Subject, time.Since(start))
	}()

	terminal := func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
		return h.Handle(ctx, message, mctx)
	}

	if p.subscriberTimeout <= 0 {
		return p.chain.Run(ctx, message, mctx, terminal)
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- p.chain.Run(ctx, message, mctx, terminal)
	}()

	timer := time.NewTimer(p.subscriberTimeout)
	defer timer.Stop()

	select {
	case err := <-resultCh:
		return err
	case <-timer.C:
		return fmt.Errorf("handler %s timed out after %s", h.Name, p.subscriberTimeout)
	}
}

func (p *Processor) ack(d Delivery) Decision {
	if err := d.Ack(); err != nil {
		p.log.Error("ack failed", zap.Error(err), zap.String("subject", d.Subject()))
	}
	return DecisionAcked
}

func (p *Processor) nak(d Delivery, deliveries int, cause error) Decision {
	delay := time.Duration(backoff.Delay(deliveries, cause)) * time.Second
	if err := d.Nak(delay); err != nil {
		p.log.Error("nak failed", zap.Error(err), zap.String("subject", d.Subject()))
	}
	return DecisionNaked
}

func (p *Processor) term(d Delivery) Decision {
	if err := d.Term(); err != nil {
		p.log.Error("term failed", zap.Error(err), zap.String("subject", d.Subject()))
	}
	return DecisionTermed
}

func (p *Processor) dlqAck(d Delivery) Decision {
	if err := d.Ack(); err != nil {
		p.log.Error("dlq ack failed", zap.Error(err), zap.String("subject", d.Subject()))
	}
	return DecisionDLQAcked
}

func (p *Processor) dlqNak(d Delivery, deliveries int, cause error) Decision {
	delay := time.Duration(backoff.Delay(deliveries, cause)) * time.Second
	if err := d.Nak(delay); err != nil {
		p.log.Error("dlq nak failed", zap.Error(err), zap.String("subject", d.Subject()))
	}
	return DecisionDLQNaked
}
