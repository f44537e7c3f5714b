package testharness_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/attaradev/nats-pubsub-sub004/dlqrouter"
	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/processor"
	"github.com/attaradev/nats-pubsub-sub004/publisher"
	"github.com/attaradev/nats-pubsub-sub004/testharness"
)

const eventID = "11111111-1111-1111-1111-111111111111"

func newHarness(opts testharness.Options) *testharness.Harness {
	if opts.Producer == "" {
		opts.Producer = "svc-a"
	}
	if opts.ProcessorOptions.MaxDeliver == 0 {
		opts.ProcessorOptions.MaxDeliver = 3
	}
	return testharness.New(opts)
}

func newHarnessPublisher(t *testing.T, h *testharness.Harness) *publisher.Publisher {
	t.Helper()
	return publisher.New(envelope.NewCodec("svc-a"), h.JS(), zaptest.NewLogger(t), "test", "svc-a", nil)
}

func TestPublishDispatchesInlineToMatchingHandler(t *testing.T) {
	h := newHarness(testharness.Options{DLQEnabled: true})
	defer h.Cleanup()

	var gotMessage map[string]interface{}
	var gotCtx envelope.MessageContext
	h.RegisterHandler("orders", []string{"test.svc-a.orders.created"},
		func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			gotMessage = message
			gotCtx = mctx
			return nil
		}, nil)
	h.Start()

	pub := newHarnessPublisher(t, h)
	res, err := pub.Publish(context.Background(), "orders.created",
		map[string]interface{}{"id": "o-1", "total": 10},
		publisher.Options{EventID: eventID})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, eventID, res.EventID)

	assert.Equal(t, 1, h.Invocations("orders"))
	assert.Equal(t, "o-1", gotMessage["id"])
	assert.Equal(t, float64(10), gotMessage["total"])
	assert.Equal(t, "orders.created", gotCtx.Topic)
	assert.Equal(t, eventID, gotCtx.EventID)
	assert.Equal(t, 1, gotCtx.Deliveries)

	published := h.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "test.svc-a.orders.created", published[0].Subject)
	assert.Equal(t, processor.DecisionAcked, published[0].Decision)
	assert.Empty(t, h.DLQMessages())
}

func TestSimulatedErrorNaksThenClearRecovers(t *testing.T) {
	h := newHarness(testharness.Options{DLQEnabled: true})
	defer h.Cleanup()

	h.RegisterHandler("orders", []string{"test.svc-a.orders.created"},
		func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return nil
		}, nil)
	h.Start()
	h.SimulateError("orders", errors.New("boom"))

	pub := newHarnessPublisher(t, h)
	_, err := pub.Publish(context.Background(), "orders.created", map[string]interface{}{"id": "o-1"}, publisher.Options{})
	require.NoError(t, err)

	published := h.Published()
	require.Len(t, published, 1)
	assert.Equal(t, processor.DecisionNaked, published[0].Decision)
	assert.Empty(t, h.DLQMessages())
	assert.Equal(t, 1, h.Invocations("orders"))

	h.ClearSimulatedError("orders")
	_, err = pub.Publish(context.Background(), "orders.created", map[string]interface{}{"id": "o-2"}, publisher.Options{})
	require.NoError(t, err)

	published = h.Published()
	require.Len(t, published, 2)
	assert.Equal(t, processor.DecisionAcked, published[1].Decision)
	assert.Equal(t, 2, h.Invocations("orders"))
}

func TestMaxDeliverRoutesToDLQAndTerms(t *testing.T) {
	h := newHarness(testharness.Options{
		DLQEnabled:       true,
		ProcessorOptions: processor.Options{MaxDeliver: 1},
	})
	defer h.Cleanup()

	h.RegisterHandler("orders", []string{"test.svc-a.orders.created"},
		func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return nil
		}, nil)
	h.Start()
	h.SimulateError("orders", errors.New("boom"))

	pub := newHarnessPublisher(t, h)
	_, err := pub.Publish(context.Background(), "orders.created", map[string]interface{}{"id": "o-1"}, publisher.Options{EventID: eventID})
	require.NoError(t, err)

	dlq := h.DLQMessages()
	require.Len(t, dlq, 1)
	assert.Equal(t, dlqrouter.ReasonMaxDeliverExceeded, dlq[0].Reason)
	assert.Equal(t, 1, dlq[0].Deliveries)
	assert.Equal(t, "test.svc-a.orders.created", dlq[0].OriginalSubject)

	published := h.Published()
	require.Len(t, published, 2) // DLQ publish + original
	assert.Equal(t, processor.DecisionTermed, published[1].Decision)
}

func TestMalformedPayloadRoutedToDLQWithoutInvokingHandler(t *testing.T) {
	h := newHarness(testharness.Options{DLQEnabled: true})
	defer h.Cleanup()

	h.RegisterHandler("orders", []string{"test.svc-a.>"},
		func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return nil
		}, nil)
	h.Start()

	raw := []byte("not-json")
	_, err := h.JS().PublishMsg(&nats.Msg{Subject: "test.svc-a.orders.created", Data: raw})
	require.NoError(t, err)

	assert.Equal(t, 0, h.Invocations("orders"))

	dlq := h.DLQMessages()
	require.Len(t, dlq, 1)
	assert.Equal(t, dlqrouter.ReasonMalformedPayload, dlq[0].Reason)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), dlq[0].RawBase64)

	published := h.Published()
	require.Len(t, published, 2)
	assert.Equal(t, processor.DecisionDLQAcked, published[1].Decision)
}

func TestWaitForObservesPredicate(t *testing.T) {
	h := newHarness(testharness.Options{})
	defer h.Cleanup()

	var flag atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		flag.Store(true)
	}()

	assert.True(t, h.WaitFor(flag.Load, time.Second))
	assert.False(t, h.WaitFor(func() bool { return false }, 30*time.Millisecond))
}

func TestCleanupClearsCapturedState(t *testing.T) {
	h := newHarness(testharness.Options{})

	h.RegisterHandler("orders", []string{"test.svc-a.orders.created"},
		func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return nil
		}, nil)
	h.Start()

	pub := newHarnessPublisher(t, h)
	_, err := pub.Publish(context.Background(), "orders.created", map[string]interface{}{"id": "o-1"}, publisher.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, h.Invocations("orders"))

	h.Cleanup()
	assert.Zero(t, h.Invocations("orders"))
	assert.Empty(t, h.Published())
}
