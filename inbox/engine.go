// Package inbox implements the receiver-side dedupe-then-process guard:
// for a given event_id, the handler runs at most once even under
// redelivery.
package inbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/inboxrepo"
)

// Engine drives inboxrepo.Repository through the dedupe-then-process
// lifecycle.
type Engine struct {
	repo inboxrepo.Repository
	log  *zap.Logger
}

// New returns an Engine backed by repo.
func New(repo inboxrepo.Repository, log *zap.Logger) *Engine {
	return &Engine{repo: repo, log: log}
}

// Process dedupes params against repo and, if this is the first time
// event_id (or (stream, stream_seq) when event_id is unavailable) has
// been seen in a non-terminal state, invokes handler exactly once.
// processed reports whether handler actually ran.
func (e *Engine) Process(ctx context.Context, params inboxrepo.CreateParams, handler func(ctx context.Context) error) (processed bool, err error) {
	record, alreadyExists, err := e.repo.FindOrCreate(ctx, params)
	if err != nil {
		return false, fmt.Errorf("find or create inbox record: %w", err)
	}
	key := inboxrepo.KeyOf(record)

	if alreadyExists {
		if record.Status == inboxrepo.StatusProcessed {
			return false, nil
		}
		if err := e.repo.IncrementDeliveries(ctx, key); err != nil {
			e.log.Warn("failed to increment inbox deliveries", zap.String("event_id", record.EventID), zap.Error(err))
		}
	}

	if err := handler(ctx); err != nil {
		if markErr := e.repo.MarkFailed(ctx, key, err.Error()); markErr != nil {
			e.log.Error("failed to mark inbox record failed", zap.String("event_id", record.EventID), zap.Error(markErr))
		}
		return false, err
	}

	if err := e.repo.MarkProcessed(ctx, key, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return true, nil
}

// ResetStale flips stale PROCESSING records back to a retryable state,
// mirroring outbox.Engine.ResetStale.
func (e *Engine) ResetStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().Add(-staleAfter)
	n, err := e.repo.ResetStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale: %w", err)
	}
	return n, nil
}

// Cleanup deletes PROCESSED records older than retention, mirroring
// outbox.Engine.Cleanup.
func (e *Engine) Cleanup(ctx context.Context, retention time.Duration, batchLimit int) (int, error) {
	cutoff := time.Now().Add(-retention)
	n, err := e.repo.DeleteProcessedOlderThan(ctx, cutoff, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return n, nil
}

// Sweep ticks ResetStale and Cleanup on interval until ctx is
// cancelled.
func (e *Engine) Sweep(ctx context.Context, interval, staleAfter, retention time.Duration, batchLimit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ResetStale(ctx, staleAfter); err != nil {
				e.log.Error("inbox sweep: reset stale failed", zap.Error(err))
			}
			if _, err := e.Cleanup(ctx, retention, batchLimit); err != nil {
				e.log.Error("inbox sweep: cleanup failed", zap.Error(err))
			}
		}
	}
}
