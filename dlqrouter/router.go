// Package dlqrouter builds and publishes dead-letter envelopes for
// messages MessageProcessor could not process.
package dlqrouter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/envelope"
	"github.com/attaradev/nats-pubsub-sub004/topology"
)

// Reason enumerates why a message was routed to the DLQ.
type Reason string

const (
	ReasonMalformedPayload   Reason = "malformed_payload"
	ReasonUnrecoverable      Reason = "unrecoverable"
	ReasonMaxDeliverExceeded Reason = "max_deliver_exceeded"
	ReasonHandlerError       Reason = "handler_error"
)

// Envelope wraps a failed delivery with the metadata needed to diagnose
// it later.
type Envelope struct {
	Reason          Reason    `json:"reason"`
	ErrorClass      string    `json:"error_class"`
	ErrorMessage    string    `json:"error_message"`
	Deliveries      int       `json:"deliveries"`
	OriginalSubject string    `json:"original_subject"`
	Stream          string    `json:"stream,omitempty"`
	Consumer        string    `json:"consumer,omitempty"`
	Sequence        uint64    `json:"sequence,omitempty"`
	PublishedAt     time.Time `json:"published_at"`
	RawBase64       string    `json:"raw_base64"`
}

// Router builds DLQ envelopes, ensures the DLQ stream exists (once),
// and publishes to the configured DLQ subject.
type Router struct {
	js        nats.JetStreamContext
	log       *zap.Logger
	topo      *topology.Manager
	subject   string
	streamDesc topology.StreamDesc

	once       sync.Once
	ensureErr  error
}

// New returns a Router publishing to dlqSubject on a stream described by
// streamDesc, ensured on first use via topo.
func New(js nats.JetStreamContext, log *zap.Logger, topo *topology.Manager, dlqSubject string, streamDesc topology.StreamDesc) *Router {
	return &Router{js: js, log: log, topo: topo, subject: dlqSubject, streamDesc: streamDesc}
}

func (r *Router) ensureStream() error {
	r.once.Do(func() {
		r.ensureErr = r.topo.Ensure(r.streamDesc)
	})
	return r.ensureErr
}

// Route builds a dead-letter envelope for the given original payload
// bytes, sets the DLQ headers, and publishes to the DLQ subject. It
// returns whether the publish succeeded; publish failures are logged
// rather than raised, and the caller falls back to nak/term.
func (r *Router) Route(mctx envelope.MessageContext, originalSubject string, originalPayload []byte, reason Reason, cause error) bool {
	if err := r.ensureStream(); err != nil {
		r.log.Error("dlq stream provisioning failed", zap.Error(err))
		return false
	}

	dlqEnv := Envelope{
		Reason:          reason,
		ErrorClass:      errorClass(cause),
		ErrorMessage:    errorMessage(cause),
		Deliveries:      mctx.Deliveries,
		OriginalSubject: originalSubject,
		Stream:          mctx.Stream,
		Sequence:        mctx.StreamSeq,
		PublishedAt:     time.Now().UTC(),
		RawBase64:       base64.StdEncoding.EncodeToString(originalPayload),
	}

	data, err := json.Marshal(dlqEnv)
	if err != nil {
		r.log.Error("failed to marshal dlq envelope", zap.Error(err))
		return false
	}

	msg := &nats.Msg{
		Subject: r.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("x-dead-letter", "true")
	msg.Header.Set("x-dlq-reason", string(reason))
	msg.Header.Set("x-deliveries", fmt.Sprintf("%d", mctx.Deliveries))
	msg.Header.Set("x-dlq-context", string(data))

	if _, err := r.js.PublishMsg(msg); err != nil {
		r.log.Error("dlq publish failed", zap.Error(err), zap.String("reason", string(reason)))
		return false
	}

	r.log.Warn("message routed to dlq",
		zap.String("reason", string(reason)),
		zap.String("event_id", mctx.EventID),
		zap.Int("deliveries", mctx.Deliveries),
	)
	return true
}

func errorClass(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
