// Package natsclient wraps a NATS connection and JetStream context: the
// narrow surface every other package in this module talks to the bus
// through. Connect retries until the server appears; Close drains
// before closing.
package natsclient

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// Options configures NewClient. Zero value uses the nats.go defaults
// except for infinite reconnect, which this module always wants for a
// long-lived consumer/publisher process.
type Options struct {
	// Name, if set, is reported to the server as the connection name
	// (visible in `nats server report connections`).
	Name string
}

// NewClient connects to one or more NATS URLs and initializes a
// JetStream context.
func NewClient(urls string, logger *zap.Logger, opts Options) (*Client, error) {
	connOpts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}
	if opts.Name != "" {
		connOpts = append(connOpts, nats.Name(opts.Name))
	}

	nc, err := nats.Connect(urls, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("urls", urls))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// Connected reports whether the underlying connection is currently up.
func (c *Client) Connected() bool {
	return c.Conn != nil && c.Conn.IsConnected()
}

// Servers returns the list of server URLs the client is configured to
// use (not necessarily all currently reachable).
func (c *Client) Servers() []string {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Servers()
}

// Close drains and closes the underlying NATS connection. Drain()
// flushes all pending JetStream publish acknowledgments and outstanding
// subscription deliveries before closing — unlike Close(), which drops
// in-flight messages immediately.
func (c *Client) Close() {
	if c.Conn == nil {
		return
	}
	if err := c.Conn.Drain(); err != nil {
		c.Conn.Close()
	}
}
