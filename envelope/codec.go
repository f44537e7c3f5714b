package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Header keys set on outbound bus messages.
const (
	HeaderMsgID         = "Nats-Msg-Id"
	HeaderTopic         = "topic"
	HeaderTraceID       = "trace_id"
	HeaderDeadLetter    = "x-dead-letter"
	HeaderDLQReason     = "x-dlq-reason"
	HeaderDeliveries    = "x-deliveries"
	HeaderDLQContext    = "x-dlq-context"
)

// MalformedPayload is returned by Decode when the wire bytes cannot be
// parsed as a valid envelope.
type MalformedPayload struct {
	Err error
}

func (e *MalformedPayload) Error() string { return fmt.Sprintf("malformed payload: %v", e.Err) }
func (e *MalformedPayload) Unwrap() error { return e.Err }

// BuildOptions customizes envelope construction. All fields are
// optional; zero values let Build fill in producer defaults.
type BuildOptions struct {
	EventID       string
	OccurredAt    time.Time
	TraceID       string
	CorrelationID string
	SchemaVersion int

	// Legacy event fields; when Domain is non-empty the envelope also
	// carries Resource/Action for the legacy wire form. ResourceID is
	// derived from the message on every build, whatever Domain holds.
	Domain   string
	Resource string
	Action   string
}

// Codec builds, encodes, and decodes envelopes for a fixed producer
// (application) name.
type Codec struct {
	Producer string
	Now      func() time.Time // overridable for tests; defaults to time.Now
}

// NewCodec returns a Codec that stamps producer as the envelope's
// producer field.
func NewCodec(producer string) *Codec {
	return &Codec{Producer: producer, Now: time.Now}
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Build constructs an Envelope for topic/message, never mutating
// message. event_id is caller-supplied (opts.EventID) or a generated
// UUIDv4; occurred_at is caller-supplied or now (UTC).
func (c *Codec) Build(topic string, message map[string]interface{}, opts BuildOptions) Envelope {
	eventID := opts.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	occurredAt := opts.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = c.now()
	}
	occurredAt = occurredAt.UTC()

	schemaVersion := opts.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	msgCopy := make(map[string]interface{}, len(message))
	for k, v := range message {
		msgCopy[k] = v
	}

	env := Envelope{
		EventID:       eventID,
		SchemaVersion: schemaVersion,
		Topic:         topic,
		Producer:      c.Producer,
		OccurredAt:    occurredAt,
		TraceID:       opts.TraceID,
		CorrelationID: opts.CorrelationID,
		Message:       msgCopy,
	}

	if opts.Domain != "" {
		env.Domain = opts.Domain
		env.Resource = opts.Resource
		env.Action = opts.Action
	}
	env.ResourceID = deriveResourceID(message)

	return env
}

// deriveResourceID looks for message["id"] or message["ID"] and returns
// its string form, or "" if absent.
func deriveResourceID(message map[string]interface{}) string {
	for _, key := range []string{"id", "ID"} {
		if v, ok := message[key]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// Encode serializes env deterministically (Go's encoding/json emits
// struct fields in declaration order and map keys sorted
// lexicographically, which is sufficient determinism for round-trip
// and size-limit checks).
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses bytes into an Envelope, returning *MalformedPayload on
// invalid syntax.
func (c *Codec) Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &MalformedPayload{Err: err}
	}
	return env, nil
}

// Headers builds the bus header set for env: the idempotency header is
// always set to event_id, topic is always set, and trace_id propagates
// when present. extras are merged in (without overriding the reserved
// keys above).
func (c *Codec) Headers(env Envelope, extras map[string]string) map[string]string {
	h := make(map[string]string, len(extras)+3)
	for k, v := range extras {
		h[k] = v
	}
	h[HeaderMsgID] = env.EventID
	h[HeaderTopic] = env.Topic
	if env.TraceID != "" {
		h[HeaderTraceID] = env.TraceID
	}
	return h
}
