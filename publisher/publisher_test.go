package publisher_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/publisher"
)

type fakeJS struct {
	nats.JetStreamContext
	mu        sync.Mutex
	published []*nats.Msg
	failNext  bool
}

func (f *fakeJS) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return nil, errors.New("bus unavailable")
	}
	f.published = append(f.published, m)
	return &nats.PubAck{}, nil
}

func TestPublishSetsWireSubjectAndMsgIDHeader(t *testing.T) {
	js := &fakeJS{}
	codec := envelope.NewCodec("svc-a")
	pub := publisher.New(codec, js, zaptest.NewLogger(t), "test", "svc-a", nil)

	res, err := pub.Publish(context.Background(), "orders.created", map[string]interface{}{"id": "o-1"}, publisher.Options{
		EventID: "11111111-1111-1111-1111-111111111111",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, js.published, 1)
	msg := js.published[0]
	assert.Equal(t, "test.svc-a.orders.created", msg.Subject)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", msg.Header.Get(envelope.HeaderMsgID))
}

func TestPublishPayloadTooLarge(t *testing.T) {
	js := &fakeJS{}
	codec := envelope.NewCodec("svc-a")
	pub := publisher.New(codec, js, zaptest.NewLogger(t), "test", "svc-a", nil)

	big := strings.Repeat("x", publisher.MaxPayloadBytes+1)
	_, err := pub.Publish(context.Background(), "orders.created", map[string]interface{}{"blob": big}, publisher.Options{})

	require.Error(t, err)
	var tooLarge *publisher.PayloadTooLarge
	assert.ErrorAs(t, err, &tooLarge)
	assert.Empty(t, js.published)
}

func TestPublishIOFailureReturnsResultNoRaise(t *testing.T) {
	js := &fakeJS{failNext: true}
	codec := envelope.NewCodec("svc-a")
	pub := publisher.New(codec, js, zaptest.NewLogger(t), "test", "svc-a", nil)

	res, err := pub.Publish(context.Background(), "orders.created", map[string]interface{}{}, publisher.Options{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Reason)
}

func TestPublishManyIndependentResults(t *testing.T) {
	js := &fakeJS{}
	codec := envelope.NewCodec("svc-a")
	pub := publisher.New(codec, js, zaptest.NewLogger(t), "test", "svc-a", nil)

	results := pub.PublishMany(context.Background(), []string{"a.created", "b.created"}, map[string]interface{}{}, publisher.Options{})
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.NotEqual(t, results[0].EventID, results[1].EventID)
}

func TestBatchPublishAggregatesAndNeverShortCircuits(t *testing.T) {
	js := &fakeJS{}
	codec := envelope.NewCodec("svc-a")
	pub := publisher.New(codec, js, zaptest.NewLogger(t), "test", "svc-a", nil)

	result := pub.Batch().
		Add("a.created", map[string]interface{}{}).
		Add("b.created", map[string]interface{}{}).
		Publish(context.Background())

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
}

type fakeOutboxer struct {
	calls int
}

func (f *fakeOutboxer) Publish(ctx context.Context, eventID, subj string, payload, headers []byte, publishFn func() error) error {
	f.calls++
	return publishFn()
}

func TestPublishDelegatesToOutboxWhenEnabled(t *testing.T) {
	js := &fakeJS{}
	codec := envelope.NewCodec("svc-a")
	ob := &fakeOutboxer{}
	pub := publisher.New(codec, js, zaptest.NewLogger(t), "test", "svc-a", ob)

	res, err := pub.Publish(context.Background(), "orders.created", map[string]interface{}{}, publisher.Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, ob.calls)
	assert.Len(t, js.published, 1)
}
