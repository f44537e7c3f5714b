// Package health reports this module's liveness and readiness: bus
// connectivity, topology provisioning state, and per-consumer lag.
package health

import (
	"sync"
	"time"

	"github.com/attaradev/nats-pubsub-sub004/consumer"
	"github.com/attaradev/nats-pubsub-sub004/natsclient"
)

// BusStatus reports the underlying connection's state.
type BusStatus struct {
	Connected bool     `json:"connected"`
	Servers   []string `json:"servers"`
}

// TopologyStatus reports whether the last provisioning attempt
// succeeded.
type TopologyStatus struct {
	Available bool   `json:"available"`
	LastError string `json:"last_error,omitempty"`
}

// Components is the aggregate result of Check.
type Components struct {
	Bus      BusStatus      `json:"bus"`
	Topology TopologyStatus `json:"topology"`
}

// Result is the full health report.
type Result struct {
	Healthy    bool       `json:"healthy"`
	Components Components `json:"components"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ConsumerLag reports one durable consumer's pending/delivered/ack
// counts.
type ConsumerLag struct {
	Name       string `json:"name"`
	Pending    uint64 `json:"pending"`
	Delivered  uint64 `json:"delivered"`
	AckPending int    `json:"ack_pending"`
}

// Probe answers liveness/readiness questions about the running
// consumer. The topology error is whatever the owner last passed to
// SetTopologyError; Consumer does not call it, so topology reads as
// available until the owner records a provisioning failure.
type Probe struct {
	client   *natsclient.Client
	consumer *consumer.Consumer

	mu            sync.RWMutex
	topologyError error
}

// New returns a Probe reporting on client's connection state and
// consumer's durable consumers.
func New(client *natsclient.Client, cons *consumer.Consumer) *Probe {
	return &Probe{client: client, consumer: cons}
}

// SetTopologyError records the outcome of the most recent topology
// provisioning attempt. Pass nil to clear a prior error.
func (p *Probe) SetTopologyError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topologyError = err
}

// Check returns the full health report: bus connectivity and
// topology provisioning state.
func (p *Probe) Check() Result {
	p.mu.RLock()
	topoErr := p.topologyError
	p.mu.RUnlock()

	bus := BusStatus{Connected: p.client.Connected(), Servers: p.client.Servers()}
	topo := TopologyStatus{Available: topoErr == nil}
	if topoErr != nil {
		topo.LastError = topoErr.Error()
	}

	return Result{
		Healthy:    bus.Connected && topo.Available,
		Components: Components{Bus: bus, Topology: topo},
		Timestamp:  time.Now().UTC(),
	}
}

// QuickCheck reports only bus connectivity, for a cheap liveness probe
// that doesn't need to reason about topology state.
func (p *Probe) QuickCheck() bool {
	return p.client.Connected()
}

// ConsumerLag reports pending/delivered/ack-pending for every durable
// consumer Consumer manages.
func (p *Probe) ConsumerLag() ([]ConsumerLag, error) {
	stats, err := p.consumer.Stats()
	if err != nil {
		return nil, err
	}
	out := make([]ConsumerLag, 0, len(stats))
	for _, s := range stats {
		out = append(out, ConsumerLag{
			Name:       s.Durable,
			Pending:    s.Pending,
			Delivered:  s.Delivered,
			AckPending: s.AckPending,
		})
	}
	return out, nil
}
