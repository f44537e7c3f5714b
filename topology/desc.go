// Package topology provisions and updates the JetStream streams this
// module depends on (the main event stream and, optionally, its DLQ),
// idempotently and without clobbering subjects owned by other streams.
package topology

import (
	"time"

	"github.com/nats-io/nats.go"
)

const (
	mainMaxAge = 7 * 24 * time.Hour
	dlqMaxAge  = 30 * 24 * time.Hour
)

// StreamDesc is the logical descriptor for a stream this module
// provisions. It is owned by Manager and never mutated after
// provisioning except by explicit admin operations (adding subjects);
// retention is never changed.
type StreamDesc struct {
	Name      string
	Subjects  []string
	Retention nats.RetentionPolicy
	Storage   nats.StorageType
	MaxAge    time.Duration
	Discard   nats.DiscardPolicy
}

// MainStreamDesc returns the descriptor for the main event stream
// covering both legacy (env.events.>) and topic (env.app.>) subjects.
func MainStreamDesc(streamName, env, app string) StreamDesc {
	return StreamDesc{
		Name:      streamName,
		Subjects:  []string{env + ".events.>", env + "." + app + ".>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    mainMaxAge,
		Discard:   nats.DiscardOld,
	}
}

// DLQStreamDesc returns the descriptor for the dead-letter stream.
func DLQStreamDesc(streamName, dlqSubject string) StreamDesc {
	return StreamDesc{
		Name:      streamName,
		Subjects:  []string{dlqSubject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    dlqMaxAge,
		Discard:   nats.DiscardOld,
	}
}

func (d StreamDesc) toConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      d.Name,
		Subjects:  d.Subjects,
		Retention: d.Retention,
		Storage:   d.Storage,
		MaxAge:    d.MaxAge,
		Discard:   d.Discard,
	}
}
