package processor

import "time"

// Delivery is the narrow view of an inbound bus message MessageProcessor
// needs: enough to parse and dispatch it, and the three terminal
// acknowledgement operations. Keeping this as an interface (rather than
// depending on *nats.Msg directly) is what lets processor_test exercise
// the full state machine without a running JetStream consumer; the
// consumer package supplies the real adapter over *nats.Msg.
type Delivery interface {
	Subject() string
	Data() []byte
	Header(key string) string

	// Metadata reports the stream/sequence/delivery-count bus metadata.
	// deliveries is 1-based (first delivery attempt reports 1).
	Metadata() (stream string, seq uint64, deliveries int, err error)

	Ack() error
	Nak(delay time.Duration) error
	Term() error
}
