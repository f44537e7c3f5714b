package consumer

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// natsDelivery adapts a pulled *nats.Msg to processor.Delivery.
type natsDelivery struct {
	msg *nats.Msg
}

func (d *natsDelivery) Subject() string { return d.msg.Subject }
func (d *natsDelivery) Data() []byte    { return d.msg.Data }

func (d *natsDelivery) Header(key string) string {
	if d.msg.Header == nil {
		return ""
	}
	return d.msg.Header.Get(key)
}

func (d *natsDelivery) Metadata() (stream string, seq uint64, deliveries int, err error) {
	meta, err := d.msg.Metadata()
	if err != nil {
		return "", 0, 1, err
	}
	return meta.Stream, meta.Sequence.Stream, int(meta.NumDelivered), nil
}

func (d *natsDelivery) Ack() error { return d.msg.Ack() }

func (d *natsDelivery) Nak(delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}

func (d *natsDelivery) Term() error { return d.msg.Term() }

// DurableName derives the durable consumer name for pattern, scoped to
// app: wildcards are spelled out (NATS durable names may not contain
// "*" or ">") and the result is capped at 100 characters, the server's
// consumer-name limit.
func DurableName(app, pattern string) string {
	sanitized := strings.NewReplacer(".", "_", "*", "star", ">", "gt").Replace(pattern)
	name := app + "-" + sanitized
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
