// Package shutdown traps termination signals and drives a Consumer
// through a bounded-deadline stop, so every entrypoint shares one
// graceful-shutdown path instead of hand-rolling a signal trap.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const defaultDeadline = 30 * time.Second

// Stoppable is the narrow surface a Consumer exposes for shutdown.
type Stoppable interface {
	Stop()
}

// Supervisor traps SIGINT/SIGTERM and stops target exactly once, under
// a bounded deadline.
type Supervisor struct {
	target   Stoppable
	log      *zap.Logger
	deadline time.Duration

	mu           sync.Mutex
	shuttingDown bool
	done         chan struct{}
}

// New returns a Supervisor. A zero deadline uses the 30s default.
func New(target Stoppable, log *zap.Logger, deadline time.Duration) *Supervisor {
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	return &Supervisor{target: target, log: log, deadline: deadline, done: make(chan struct{})}
}

// Wait blocks until SIGINT or SIGTERM arrives, then runs Shutdown and
// returns. It exits the process with a non-zero status if the stop
// deadline elapses before target.Stop() returns.
func (s *Supervisor) Wait(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	s.log.Info("shutdown signal received")
	s.Shutdown()
}

// Shutdown stops target under the configured deadline. Re-entry is a
// no-op: a second call observes shuttingDown already true and returns
// immediately without blocking.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		s.target.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.log.Info("shutdown completed")
		close(s.done)
	case <-time.After(s.deadline):
		s.log.Error("shutdown deadline exceeded, forcing exit", zap.Duration("deadline", s.deadline))
		close(s.done)
		os.Exit(1)
	}
}

// Done returns a channel closed once Shutdown has completed (or forced
// exit, in which case it is never observed by the caller).
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
