package processor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/attaradev/nats-pubsub-sub004/chain"
	"github.com/attaradev/nats-pubsub-sub004/dlqrouter"
	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/processor"
	"github.com/attaradev/nats-pubsub-sub004/registry"
	"github.com/attaradev/nats-pubsub-sub004/telemetry"
	"github.com/attaradev/nats-pubsub-sub004/topology"
)

// fakeJS is a minimal JetStreamContext double, shared in shape with
// dlqrouter's own test fake, sufficient for the Router the processor
// tests exercise underneath it.
type fakeJS struct {
	nats.JetStreamContext
	streams     map[string]*nats.StreamInfo
	published   []*nats.Msg
	failPublish bool
	mu          sync.Mutex
}

func newFakeJS() *fakeJS { return &fakeJS{streams: map[string]*nats.StreamInfo{}} }

func (f *fakeJS) StreamInfo(name string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	if s, ok := f.streams[name]; ok {
		return s, nil
	}
	return nil, nats.ErrStreamNotFound
}

func (f *fakeJS) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	info := &nats.StreamInfo{Config: *cfg}
	f.streams[cfg.Name] = info
	return info, nil
}

func (f *fakeJS) UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	info := &nats.StreamInfo{Config: *cfg}
	f.streams[cfg.Name] = info
	return info, nil
}

func (f *fakeJS) StreamsInfo(opts ...nats.JSOpt) <-chan *nats.StreamInfo {
	ch := make(chan *nats.StreamInfo)
	close(ch)
	return ch
}

func (f *fakeJS) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish {
		return nil, errors.New("publish failed")
	}
	f.published = append(f.published, m)
	return &nats.PubAck{}, nil
}

// fakeDelivery implements processor.Delivery entirely in memory.
type fakeDelivery struct {
	subject    string
	data       []byte
	headers    map[string]string
	stream     string
	seq        uint64
	deliveries int

	acked, termed bool
	nakDelay      time.Duration
	naked         bool
}

func (d *fakeDelivery) Subject() string { return d.subject }
func (d *fakeDelivery) Data() []byte    { return d.data }
func (d *fakeDelivery) Header(key string) string {
	return d.headers[key]
}
func (d *fakeDelivery) Metadata() (string, uint64, int, error) {
	return d.stream, d.seq, d.deliveries, nil
}
func (d *fakeDelivery) Ack() error { d.acked = true; return nil }
func (d *fakeDelivery) Nak(delay time.Duration) error {
	d.naked = true
	d.nakDelay = delay
	return nil
}
func (d *fakeDelivery) Term() error { d.termed = true; return nil }

func newEnvelopeDelivery(t *testing.T, subject string, message map[string]interface{}, deliveries int) *fakeDelivery {
	t.Helper()
	codec := envelope.NewCodec("svc-a")
	env := codec.Build("orders.created", message, envelope.BuildOptions{EventID: "e-1"})
	data, err := codec.Encode(env)
	require.NoError(t, err)
	return &fakeDelivery{subject: subject, data: data, deliveries: deliveries, stream: "EVENTS", seq: 42}
}

func newProcessor(t *testing.T, reg *registry.Registry, opts processor.Options) (*processor.Processor, *fakeJS) {
	t.Helper()
	js := newFakeJS()
	topo := topology.NewManager(js, zaptest.NewLogger(t))
	dlq := dlqrouter.New(js, zaptest.NewLogger(t), topo, "test.events.dlq", topology.DLQStreamDesc("DLQ", "test.events.dlq"))
	p := processor.New(reg, chain.New(), envelope.NewCodec("svc-a"), dlq, telemetry.Noop{}, zaptest.NewLogger(t), opts)
	return p, js
}

func TestProcessAcksWhenAllHandlersSucceed(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "h1",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return nil
		},
	})
	reg.Start()

	p, _ := newProcessor(t, reg, processor.Options{MaxDeliver: 5, DLQEnabled: true})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{"id": 1}, 1)

	decision := p.Process(context.Background(), d)

	assert.Equal(t, processor.DecisionAcked, decision)
	assert.True(t, d.acked)
	assert.False(t, d.naked)
}

func TestProcessAcksWhenNoSubscribersMatch(t *testing.T) {
	reg := registry.New()
	reg.Start()
	p, _ := newProcessor(t, reg, processor.Options{MaxDeliver: 5})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 1)

	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionAcked, decision)
	assert.True(t, d.acked)
}

func TestProcessNaksWithBackoffOnHandlerFailure(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "h1",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return errors.New("boom")
		},
	})
	reg.Start()

	p, _ := newProcessor(t, reg, processor.Options{MaxDeliver: 5})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 2)

	decision := p.Process(context.Background(), d)

	assert.Equal(t, processor.DecisionNaked, decision)
	assert.True(t, d.naked)
	assert.GreaterOrEqual(t, d.nakDelay, time.Second)
}

func TestProcessRoutesUnrecoverableErrorToDLQAndAcks(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "h1",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return &processor.UnrecoverableError{Err: errors.New("bad schema")}
		},
	})
	reg.Start()

	p, js := newProcessor(t, reg, processor.Options{MaxDeliver: 5, DLQEnabled: true})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 1)

	decision := p.Process(context.Background(), d)

	assert.Equal(t, processor.DecisionDLQAcked, decision)
	assert.True(t, d.acked)
	require.Len(t, js.published, 1)
	assert.Equal(t, "unrecoverable", js.published[0].Header.Get("x-dlq-reason"))
}

func TestProcessUnrecoverableTermsWhenDLQKeepsFailingAtLimit(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "h1",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return &processor.UnrecoverableError{Err: errors.New("bad schema")}
		},
	})
	reg.Start()

	p, js := newProcessor(t, reg, processor.Options{MaxDeliver: 3, DLQEnabled: true})
	js.failPublish = true

	// Under the delivery limit the message stays retryable.
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 2)
	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionDLQNaked, decision)
	assert.True(t, d.naked)

	// At the limit, with the DLQ still unreachable, the message is
	// termed rather than redelivered forever.
	d = newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 3)
	decision = p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionTermed, decision)
	assert.True(t, d.termed)
	assert.Empty(t, js.published)
}

func TestProcessUnrecoverableTermsAtLimitWhenDLQDisabled(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "h1",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return &processor.UnrecoverableError{Err: errors.New("bad schema")}
		},
	})
	reg.Start()

	p, _ := newProcessor(t, reg, processor.Options{MaxDeliver: 3, DLQEnabled: false})

	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 3)
	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionTermed, decision)
	assert.True(t, d.termed)
}

func TestProcessTermsWhenMaxDeliverExceeded(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "h1",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return errors.New("boom")
		},
	})
	reg.Start()

	p, js := newProcessor(t, reg, processor.Options{MaxDeliver: 3, DLQEnabled: true})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 3)

	decision := p.Process(context.Background(), d)

	assert.Equal(t, processor.DecisionTermed, decision)
	assert.True(t, d.termed)
	require.Len(t, js.published, 1)
	assert.Equal(t, "max_deliver_exceeded", js.published[0].Header.Get("x-dlq-reason"))
}

func TestProcessHandlerOnErrorDiscardAcks(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "h1",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return errors.New("ignore me")
		},
		OnError: func(ctx context.Context, mctx envelope.MessageContext, err error) registry.ErrorAction {
			return registry.ActionDiscard
		},
	})
	reg.Start()

	p, _ := newProcessor(t, reg, processor.Options{MaxDeliver: 5})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 1)

	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionAcked, decision)
	assert.True(t, d.acked)
}

func TestProcessHandlerOnErrorDLQTerms(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "h1",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return errors.New("stop retrying")
		},
		OnError: func(ctx context.Context, mctx envelope.MessageContext, err error) registry.ErrorAction {
			return registry.ActionDLQ
		},
	})
	reg.Start()

	p, js := newProcessor(t, reg, processor.Options{MaxDeliver: 5, DLQEnabled: true})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 1)

	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionTermed, decision)
	assert.True(t, d.termed)
	require.Len(t, js.published, 1)
	assert.Equal(t, "handler_error", js.published[0].Header.Get("x-dlq-reason"))
}

func TestProcessMalformedPayloadRoutesToDLQAndAcks(t *testing.T) {
	reg := registry.New()
	reg.Start()

	p, js := newProcessor(t, reg, processor.Options{MaxDeliver: 5, DLQEnabled: true})
	d := &fakeDelivery{subject: "test.svc-a.orders.created", data: []byte("not json"), deliveries: 1}

	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionDLQAcked, decision)
	assert.True(t, d.acked)
	require.Len(t, js.published, 1)
	assert.Equal(t, "malformed_payload", js.published[0].Header.Get("x-dlq-reason"))
}

func TestProcessMalformedPayloadNaksWhenDLQDisabled(t *testing.T) {
	reg := registry.New()
	reg.Start()

	p, _ := newProcessor(t, reg, processor.Options{MaxDeliver: 5, DLQEnabled: false})
	d := &fakeDelivery{subject: "test.svc-a.orders.created", data: []byte("not json"), deliveries: 1}

	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionDLQNaked, decision)
	assert.True(t, d.naked)
}

func TestProcessTimesOutSlowHandler(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Handler{
		Name:     "slow",
		Patterns: []string{"test.svc-a.orders.*"},
		Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})
	reg.Start()

	p, _ := newProcessor(t, reg, processor.Options{MaxDeliver: 5, SubscriberTimeout: 5 * time.Millisecond})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 1)

	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionNaked, decision)
	assert.True(t, d.naked)
}

func TestProcessDispatchesAllMatchingHandlersConcurrently(t *testing.T) {
	reg := registry.New()
	var calls int32
	for i := 0; i < 3; i++ {
		reg.Register(&registry.Handler{
			Name:     string(rune('a' + i)),
			Patterns: []string{"test.svc-a.orders.*"},
			Handle: func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
				atomic.AddInt32(&calls, 1)
				return nil
			},
		})
	}
	reg.Start()

	p, _ := newProcessor(t, reg, processor.Options{MaxDeliver: 5, PerMessageConcurrency: 2})
	d := newEnvelopeDelivery(t, "test.svc-a.orders.created", map[string]interface{}{}, 1)

	decision := p.Process(context.Background(), d)
	assert.Equal(t, processor.DecisionAcked, decision)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
