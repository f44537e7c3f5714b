// Package envelope builds, encodes, and decodes the on-wire event
// envelope and derives the per-delivery MessageContext handlers
// actually see.
package envelope

import "time"

// Envelope is the on-wire value published to and consumed from the bus.
type Envelope struct {
	EventID       string                 `json:"event_id"`
	SchemaVersion int                    `json:"schema_version"`
	Topic         string                 `json:"topic"`
	Producer      string                 `json:"producer"`
	OccurredAt    time.Time              `json:"occurred_at"`
	TraceID       string                 `json:"trace_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Message       map[string]interface{} `json:"message"`

	// Legacy event fields. Domain/Resource/Action are set only when a
	// Domain is given at build time; ResourceID is set whenever the
	// message carries an id/ID value.
	Domain     string `json:"domain,omitempty"`
	Resource   string `json:"resource,omitempty"`
	Action     string `json:"action,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
}

// MessageContext is the immutable per-delivery metadata handed to
// handlers and middleware. It is created once per delivery attempt and
// discarded after the ack/nak/term decision.
type MessageContext struct {
	EventID       string
	Subject       string
	Topic         string
	TraceID       string
	CorrelationID string
	OccurredAt    time.Time
	Deliveries    int // 1-based delivery count
	Stream        string
	StreamSeq     uint64
	Producer      string
}
