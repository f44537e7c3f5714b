// Package outbox implements the store-first publish pattern: a caller
// inserts business rows and an outbox row in the same database
// transaction, and a separate worker drains pending rows to the bus.
// For a given event_id, the contract is at-least-once publish to the
// bus plus at-most-one terminal SENT record.
package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/outboxrepo"
)

// Engine drives outboxrepo.Repository through the publish lifecycle.
type Engine struct {
	repo outboxrepo.Repository
	log  *zap.Logger
}

// New returns an Engine backed by repo.
func New(repo outboxrepo.Repository, log *zap.Logger) *Engine {
	return &Engine{repo: repo, log: log}
}

// Publish is idempotent per event_id: if the record is already SENT this
// is a no-op success; otherwise it transitions
// (absent ->) PENDING -> PUBLISHING -> (SENT | FAILED) and invokes
// publishFn exactly once to perform the actual send.
func (e *Engine) Publish(ctx context.Context, eventID, subj string, payload, headers []byte, publishFn func() error) error {
	record, _, err := e.repo.FindOrCreate(ctx, outboxrepo.CreateParams{
		EventID: eventID,
		Subject: subj,
		Payload: payload,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("find or create outbox record: %w", err)
	}

	if record.Status == outboxrepo.StatusSent {
		return nil
	}

	if err := e.repo.MarkPublishing(ctx, eventID); err != nil {
		return fmt.Errorf("mark publishing: %w", err)
	}
	if err := e.repo.IncrementAttempts(ctx, eventID); err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}

	if err := publishFn(); err != nil {
		if markErr := e.repo.MarkFailed(ctx, eventID, err.Error()); markErr != nil {
			e.log.Error("failed to mark outbox record failed", zap.String("event_id", eventID), zap.Error(markErr))
		}
		return fmt.Errorf("publish: %w", err)
	}

	if err := e.repo.MarkSent(ctx, eventID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// PublishPending drains up to limit PENDING records in enqueue order,
// calling publishFn(record) for each.
func (e *Engine) PublishPending(ctx context.Context, limit int, publishFn func(outboxrepo.Record) error) error {
	pending, err := e.repo.ListPending(ctx, limit)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for _, record := range pending {
		err := e.Publish(ctx, record.EventID, record.Subject, record.Payload, record.Headers, func() error {
			return publishFn(record)
		})
		if err != nil {
			e.log.Warn("outbox drain: publish failed", zap.String("event_id", record.EventID), zap.Error(err))
		}
	}
	return nil
}

// ResetStale flips PUBLISHING records whose UpdatedAt is older than
// staleAfter back to PENDING, recovering from a crash mid-publish.
func (e *Engine) ResetStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().Add(-staleAfter)
	n, err := e.repo.ResetStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale: %w", err)
	}
	if n > 0 {
		e.log.Info("outbox: reset stale publishing records", zap.Int("count", n))
	}
	return n, nil
}

// Cleanup deletes SENT records older than retention, in a bounded
// batch ordered by sent_at ascending.
func (e *Engine) Cleanup(ctx context.Context, retention time.Duration, batchLimit int) (int, error) {
	cutoff := time.Now().Add(-retention)
	n, err := e.repo.DeleteSentOlderThan(ctx, cutoff, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return n, nil
}

// Drain ticks ResetStale and PublishPending on interval until ctx is
// cancelled: the background worker loop that actually moves PENDING
// rows to the bus.
func (e *Engine) Drain(ctx context.Context, interval time.Duration, limit int, staleAfter time.Duration, publishFn func(outboxrepo.Record) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ResetStale(ctx, staleAfter); err != nil {
				e.log.Error("outbox drain: reset stale failed", zap.Error(err))
			}
			if err := e.PublishPending(ctx, limit, publishFn); err != nil {
				e.log.Error("outbox drain: publish pending failed", zap.Error(err))
			}
		}
	}
}
