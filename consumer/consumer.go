// Package consumer implements the durable pull consumer lifecycle: one
// durable JetStream consumer per distinct subject pattern registered
// with Registry, a pool of pull workers per durable, and the
// reconnect/resubscribe handling that keeps a worker alive across
// recoverable bus errors.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/processor"
	"github.com/attaradev/nats-pubsub-sub004/registry"
	"github.com/attaradev/nats-pubsub-sub004/topology"
)

// ErrAlreadyRunning is returned by Start when the consumer is already
// started.
var ErrAlreadyRunning = errors.New("consumer: already running")

const retryBackoff = 5 * time.Second

// newRetryBackOff returns the constant 5s backoff a worker applies
// between pull-error retries.
func newRetryBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(retryBackoff)
}

// Config configures the durable consumers Consumer provisions.
type Config struct {
	App        string
	MaxDeliver int
	AckWait    time.Duration
	Backoff    []time.Duration // redelivery backoff array, ms-precision per entry

	BatchSize   int           // pull batch size, default 10
	PullWorkers int           // worker goroutines per durable, default 1
	PullTimeout time.Duration // Fetch wait, default 5s
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PullWorkers <= 0 {
		c.PullWorkers = 1
	}
	if c.PullTimeout <= 0 {
		c.PullTimeout = 5 * time.Second
	}
	return c
}

// Stats reports a durable consumer's current lag.
type Stats struct {
	Pattern    string
	Durable    string
	Pending    uint64
	Delivered  uint64
	AckPending int
}

// Consumer owns the durable pull consumers and worker goroutines for
// one Registry's subject patterns.
type Consumer struct {
	js   nats.JetStreamContext
	log  *zap.Logger
	topo *topology.Manager
	reg  *registry.Registry
	proc *processor.Processor

	streamDesc topology.StreamDesc
	cfg        Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	subs    map[string]*nats.Subscription // pattern -> subscription
	wg      sync.WaitGroup
}

// New returns a Consumer. streamDesc describes the main event stream to
// provision on Start.
func New(js nats.JetStreamContext, log *zap.Logger, topo *topology.Manager, reg *registry.Registry, proc *processor.Processor, streamDesc topology.StreamDesc, cfg Config) *Consumer {
	return &Consumer{
		js:         js,
		log:        log,
		topo:       topo,
		reg:        reg,
		proc:       proc,
		streamDesc: streamDesc,
		cfg:        cfg.withDefaults(),
		subs:       make(map[string]*nats.Subscription),
	}
}

// Start provisions the stream topology, creates one durable pull
// consumer per distinct registered pattern, and launches its pull
// workers. It refuses to run twice concurrently.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	c.reg.Start()

	if err := c.topo.Ensure(c.streamDesc); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("provision topology: %w", err)
	}

	patterns := c.reg.Patterns()
	if len(patterns) == 0 {
		c.log.Warn("no subject patterns registered; consumer will not pull any messages")
	}

	for _, pattern := range patterns {
		durable := DurableName(c.cfg.App, pattern)
		sub, err := c.ensureSubscription(pattern, durable)
		if err != nil {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}

		c.mu.Lock()
		c.subs[pattern] = sub
		c.mu.Unlock()

		for i := 0; i < c.cfg.PullWorkers; i++ {
			c.wg.Add(1)
			go c.runWorker(runCtx, pattern, durable)
		}
	}

	c.log.Info("consumer started", zap.Int("patterns", len(patterns)), zap.Int("workers_per_pattern", c.cfg.PullWorkers))
	return nil
}

// Stop cancels every worker and waits for them to exit. It does not
// drain or close the bus connection. Re-entry after the consumer has
// already stopped is a no-op.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.log.Info("consumer stopped")
}

// Stats returns current lag for every durable consumer this Consumer
// manages. Durable names are derived from Registry.Patterns directly,
// so Stats works whether or not Start has been called yet.
func (c *Consumer) Stats() ([]Stats, error) {
	patterns := c.reg.Patterns()

	out := make([]Stats, 0, len(patterns))
	for _, pattern := range patterns {
		durable := DurableName(c.cfg.App, pattern)
		info, err := c.js.ConsumerInfo(c.streamDesc.Name, durable)
		if err != nil {
			return nil, fmt.Errorf("consumer info %s: %w", durable, err)
		}
		out = append(out, Stats{
			Pattern:    pattern,
			Durable:    durable,
			Pending:    info.NumPending,
			Delivered:  info.Delivered.Consumer,
			AckPending: info.NumAckPending,
		})
	}
	return out, nil
}

func (c *Consumer) runWorker(ctx context.Context, pattern, durable string) {
	defer c.wg.Done()

	retry := newRetryBackOff()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		sub := c.subs[pattern]
		c.mu.Unlock()
		if sub == nil {
			return
		}

		msgs, err := sub.Fetch(c.cfg.BatchSize, nats.MaxWait(c.cfg.PullTimeout))
		if err != nil {
			c.handlePullError(ctx, pattern, durable, err, retry)
			continue
		}

		for _, m := range msgs {
			c.proc.Process(ctx, &natsDelivery{msg: m})
		}
	}
}

func (c *Consumer) handlePullError(ctx context.Context, pattern, durable string, err error, retry backoff.BackOff) {
	if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return // no messages available this round, not an error
	}
	if ctx.Err() != nil {
		return
	}

	if isRecoverable(err) {
		c.log.Warn("recoverable pull error, reprovisioning and resubscribing",
			zap.String("pattern", pattern), zap.Error(err))

		if ensureErr := c.topo.Ensure(c.streamDesc); ensureErr != nil {
			c.log.Error("topology reprovisioning failed", zap.Error(ensureErr))
		}

		sub, subErr := c.ensureSubscription(pattern, durable)
		if subErr != nil {
			c.log.Error("resubscribe failed, backing off", zap.Error(subErr))
			sleepOrDone(ctx, retry.NextBackOff())
			return
		}

		c.mu.Lock()
		c.subs[pattern] = sub
		c.mu.Unlock()
		return
	}

	c.log.Error("unrecoverable pull error, backing off", zap.String("pattern", pattern), zap.Error(err))
	sleepOrDone(ctx, retry.NextBackOff())
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ensureSubscription provisions (or repairs) the durable consumer
// matching cfg, deleting and recreating it when its existing config
// disagrees with the desired one; delete failures are logged and
// ignored so recreation still proceeds.
func (c *Consumer) ensureSubscription(pattern, durable string) (*nats.Subscription, error) {
	desired := &nats.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
		FilterSubject: pattern,
	}
	if len(c.cfg.Backoff) > 0 {
		desired.BackOff = c.cfg.Backoff
	}

	info, err := c.js.ConsumerInfo(c.streamDesc.Name, durable)
	switch {
	case err == nil && !consumerMatches(info.Config, *desired):
		if delErr := c.js.DeleteConsumer(c.streamDesc.Name, durable); delErr != nil {
			c.log.Warn("failed to delete mismatched consumer, recreating anyway", zap.Error(delErr))
		}
		if _, addErr := c.js.AddConsumer(c.streamDesc.Name, desired); addErr != nil {
			return nil, fmt.Errorf("recreate consumer: %w", addErr)
		}
	case err != nil && errors.Is(err, nats.ErrConsumerNotFound):
		if _, addErr := c.js.AddConsumer(c.streamDesc.Name, desired); addErr != nil {
			return nil, fmt.Errorf("create consumer: %w", addErr)
		}
	case err != nil:
		return nil, fmt.Errorf("consumer info: %w", err)
	}

	return c.js.PullSubscribe(pattern, durable, nats.Bind(c.streamDesc.Name, durable))
}

func consumerMatches(existing, desired nats.ConsumerConfig) bool {
	return existing.AckPolicy == desired.AckPolicy &&
		existing.DeliverPolicy == desired.DeliverPolicy &&
		existing.MaxDeliver == desired.MaxDeliver &&
		existing.AckWait == desired.AckWait &&
		existing.FilterSubject == desired.FilterSubject
}

// isRecoverable reports whether err is a condition the worker can
// repair by reprovisioning topology and resubscribing, rather than a
// fatal condition only an operator backoff can ride out.
func isRecoverable(err error) bool {
	if errors.Is(err, nats.ErrConsumerNotFound) || errors.Is(err, nats.ErrStreamNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "consumer not found") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "no responders")
}
