// Package publisher builds envelopes and sends them to the bus (or, when
// the outbox is enabled, through the store-first outbox engine),
// enforcing the 1 MiB payload ceiling before anything is sent.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/subject"
)

// MaxPayloadBytes is the encoded-envelope size ceiling for the main bus.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// PayloadTooLarge is raised synchronously, before any bus call, when an
// encoded envelope exceeds MaxPayloadBytes.
type PayloadTooLarge struct {
	Size int
}

func (e *PayloadTooLarge) Error() string {
	return fmt.Sprintf("encoded payload of %d bytes exceeds the %d byte limit", e.Size, MaxPayloadBytes)
}

// Outboxer is the narrow surface OutboxEngine exposes to Publisher; it
// lets Publisher delegate to store-first publish without importing the
// outbox package's repository details.
type Outboxer interface {
	Publish(ctx context.Context, eventID, subj string, payload, headers []byte, publishFn func() error) error
}

// Options customizes a single publish call.
type Options struct {
	EventID       string
	TraceID       string
	CorrelationID string
	Domain        string
	Resource      string
	Action        string
	Headers       map[string]string
}

// Result is the outcome of a single publish attempt.
type Result struct {
	EventID string
	Success bool
	Reason  string
}

// Publisher builds envelopes for topic publishes under env/app and
// sends them either directly to the bus or through an outbox.
type Publisher struct {
	codec   *envelope.Codec
	js      nats.JetStreamContext
	log     *zap.Logger
	env     string
	app     string
	outbox  Outboxer // nil unless useOutbox is enabled
}

// New returns a Publisher. outbox may be nil (direct bus publish).
func New(codec *envelope.Codec, js nats.JetStreamContext, log *zap.Logger, env, app string, outbox Outboxer) *Publisher {
	return &Publisher{codec: codec, js: js, log: log, env: env, app: app, outbox: outbox}
}

// Publish builds an envelope for topic/message and sends it, either
// directly or via the outbox, returning success or a failure Result —
// it never raises on an I/O error, only on PayloadTooLarge or a
// failure to encode the envelope or its headers.
func (p *Publisher) Publish(ctx context.Context, topic string, message map[string]interface{}, opts Options) (Result, error) {
	buildOpts := envelope.BuildOptions{
		EventID:       opts.EventID,
		TraceID:       opts.TraceID,
		CorrelationID: opts.CorrelationID,
		Domain:        opts.Domain,
		Resource:      opts.Resource,
		Action:        opts.Action,
	}
	env := p.codec.Build(topic, message, buildOpts)

	encoded, err := p.codec.Encode(env)
	if err != nil {
		return Result{}, fmt.Errorf("encode envelope: %w", err)
	}
	if len(encoded) > MaxPayloadBytes {
		return Result{}, &PayloadTooLarge{Size: len(encoded)}
	}

	wireSubject := subject.TopicSubject(p.env, p.app, topic)
	headers := p.codec.Headers(env, opts.Headers)

	if p.outbox != nil {
		headerBytes, err := encodeHeaders(headers)
		if err != nil {
			return Result{}, fmt.Errorf("encode headers: %w", err)
		}
		err = p.outbox.Publish(ctx, env.EventID, wireSubject, encoded, headerBytes, func() error {
			return p.send(wireSubject, encoded, headers)
		})
		if err != nil {
			p.log.Error("outbox publish failed", zap.String("event_id", env.EventID), zap.Error(err))
			return Result{EventID: env.EventID, Success: false, Reason: err.Error()}, nil
		}
		return Result{EventID: env.EventID, Success: true}, nil
	}

	if err := p.send(wireSubject, encoded, headers); err != nil {
		p.log.Error("publish failed", zap.String("event_id", env.EventID), zap.Error(err))
		return Result{EventID: env.EventID, Success: false, Reason: err.Error()}, nil
	}
	return Result{EventID: env.EventID, Success: true}, nil
}

func (p *Publisher) send(wireSubject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: wireSubject, Data: data, Header: nats.Header{}}
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	_, err := p.js.PublishMsg(msg)
	return err
}

// PublishMany fans a single message out to multiple topics concurrently,
// with independent per-topic results; completion order is unspecified.
// Each topic gets its own generated event_id (opts.EventID, if set, is
// ignored here — a shared idempotency key across distinct topics would
// be a bug, not a feature).
func (p *Publisher) PublishMany(ctx context.Context, topics []string, message map[string]interface{}, opts Options) []Result {
	opts.EventID = ""
	results := make([]Result, len(topics))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error
	wg.Add(len(topics))
	for i, topic := range topics {
		go func(i int, topic string) {
			defer wg.Done()
			res, err := p.Publish(ctx, topic, message, opts)
			if err != nil {
				res = Result{Success: false, Reason: err.Error()}
			}
			if !res.Success {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %s", topic, res.Reason))
				mu.Unlock()
			}
			results[i] = res
		}(i, topic)
	}
	wg.Wait()

	// Failures never short-circuit the fan-out; errs just aggregates
	// every independent failure into one log line instead of one per
	// topic, the same hashicorp/go-multierror idiom TopologyManager
	// uses for overlap-conflict reporting.
	if errs.ErrorOrNil() != nil {
		p.log.Warn("publishMany: some topics failed", zap.Error(errs))
	}
	return results
}

func encodeHeaders(h map[string]string) ([]byte, error) {
	return json.Marshal(h)
}
