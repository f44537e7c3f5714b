// Package config defines the module's enumerated configuration surface.
// Loading values from files or environment variables is explicitly out
// of scope — callers populate a Config literal (optionally using
// SecretManager to resolve secret-bearing fields from Vault) and hand
// it to the runtime.
package config

import "time"

// Config is the full enumerated set of options this module recognizes.
// Unknown fields simply don't exist on this struct — there is no
// dynamic/arbitrary config block, by design (see the module's design
// notes on replacing "dynamic config with arbitrary blocks").
type Config struct {
	Env     string
	AppName string
	NatsURLs string // comma-separated, as nats.Connect accepts

	Concurrency           int // workers per subscription; default 10
	PerMessageConcurrency int // default 5
	MaxDeliver            int // default 5
	AckWait               time.Duration
	Backoff               []time.Duration // overrides default exponential redelivery
	SubscriberTimeout     time.Duration    // 0 disables

	UseOutbox bool
	UseInbox  bool
	UseDLQ    bool

	DLQSubject     string
	DLQMaxAttempts int // additional ceiling beyond MaxDeliver

	StreamName string
}

// WithDefaults returns a copy of c with zero-valued fields filled to
// their documented defaults.
func (c Config) WithDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = 10
	}
	if c.PerMessageConcurrency == 0 {
		c.PerMessageConcurrency = 5
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = 5
	}
	if c.AckWait == 0 {
		c.AckWait = 30 * time.Second
	}
	if c.DLQSubject == "" {
		c.DLQSubject = c.Env + ".events.dlq"
	}
	if c.StreamName == "" {
		c.StreamName = "EVENTS"
	}
	return c
}
