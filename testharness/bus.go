package testharness

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/attaradev/nats-pubsub-sub004/processor"
)

// harnessJS is the in-memory JetStreamContext stand-in. Stream admin
// calls are satisfied from a plain map (same shape as the fakes in
// topology/dlqrouter's own tests); PublishMsg is where the harness
// earns its keep — it records the message, then (for anything other
// than the DLQ subject) dispatches it straight through Harness's
// Processor, synchronously, exactly like a durable pull consumer would
// on the real bus.
type harnessJS struct {
	nats.JetStreamContext

	h *Harness

	mu      sync.Mutex
	streams map[string]*nats.StreamInfo
}

func (j *harnessJS) StreamInfo(name string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if s, ok := j.streams[name]; ok {
		return s, nil
	}
	return nil, nats.ErrStreamNotFound
}

func (j *harnessJS) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := &nats.StreamInfo{Config: *cfg}
	j.streams[cfg.Name] = info
	return info, nil
}

func (j *harnessJS) UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := &nats.StreamInfo{Config: *cfg}
	j.streams[cfg.Name] = info
	return info, nil
}

func (j *harnessJS) StreamsInfo(opts ...nats.JSOpt) <-chan *nats.StreamInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan *nats.StreamInfo, len(j.streams))
	for _, s := range j.streams {
		ch <- s
	}
	close(ch)
	return ch
}

func (j *harnessJS) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	var decision processor.Decision
	if m.Subject == j.h.dlqSubject {
		decision = processor.DecisionAcked // DLQ sink itself isn't reprocessed
	} else {
		delivery := &harnessDelivery{subject: m.Subject, data: m.Data}
		decision = j.h.processor.Process(context.Background(), delivery)
	}

	j.h.recordPublish(m.Subject, m.Data, decision)
	return &nats.PubAck{}, nil
}

// harnessDelivery is the in-memory processor.Delivery the bus double
// feeds into Harness.processor. Deliveries is always 1 — the harness
// models first-attempt dispatch, not redelivery.
type harnessDelivery struct {
	subject string
	data    []byte
}

func (d *harnessDelivery) Subject() string         { return d.subject }
func (d *harnessDelivery) Data() []byte            { return d.data }
func (d *harnessDelivery) Header(string) string    { return "" }
func (d *harnessDelivery) Metadata() (string, uint64, int, error) {
	return "", 0, 1, nil
}
func (d *harnessDelivery) Ack() error                   { return nil }
func (d *harnessDelivery) Nak(delay time.Duration) error { return nil }
func (d *harnessDelivery) Term() error                  { return nil }
