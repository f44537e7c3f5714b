// Package chain implements the composable pre/post hook chain wrapped
// around every handler invocation: the familiar chainable func(next)
// middleware shape, carried over from HTTP handlers to the bus's
// handler signature.
package chain

import (
	"context"

	"github.com/attaradev/nats-pubsub-sub004/envelope"
)

// Next is the terminal or continuation function an interceptor invokes
// to proceed to the next interceptor (or the handler itself, at the end
// of the chain).
type Next func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error

// Interceptor wraps a Next. It may call next zero times (short-
// circuiting — the handler is never invoked) or once; calling it more
// than once is a programming error left to the interceptor author.
type Interceptor func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext, next Next) error

// Chain is an ordered list of interceptors invoked around a terminal
// handler, exactly once per handler per delivery.
type Chain struct {
	interceptors []Interceptor
}

// New returns a Chain running interceptors in the given order, outermost
// first.
func New(interceptors ...Interceptor) *Chain {
	return &Chain{interceptors: interceptors}
}

// Append returns a new Chain with additional interceptors appended
// after the existing ones.
func (c *Chain) Append(interceptors ...Interceptor) *Chain {
	out := make([]Interceptor, 0, len(c.interceptors)+len(interceptors))
	out = append(out, c.interceptors...)
	out = append(out, interceptors...)
	return &Chain{interceptors: out}
}

// Run threads ctx/message/mctx through every interceptor and finally
// handler. Errors from an interceptor or handler propagate outward
// unless caught by an enclosing interceptor.
func (c *Chain) Run(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext, handler Next) error {
	next := handler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		prevNext := next
		next = func(ctx context.Context, message map[string]interface{}, mctx envelope.MessageContext) error {
			return interceptor(ctx, message, mctx, prevNext)
		}
	}
	return next(ctx, message, mctx)
}
