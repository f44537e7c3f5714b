package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/attaradev/nats-pubsub-sub004/inboxrepo"
	"github.com/attaradev/nats-pubsub-sub004/outboxrepo"
)

// memOutboxRepo is an in-memory outboxrepo.Repository, the same shape
// the module's own outbox tests use as a repository fake. It exists
// here only so `busctl outbox drain` and `busctl publish --use-outbox`
// have a repository without a real database wired up; an operator replaces this with their own
// outboxrepo.Repository implementation before going to production.
type memOutboxRepo struct {
	mu      sync.Mutex
	records map[string]*outboxrepo.Record
	order   []string
}

func newMemOutboxRepo() *memOutboxRepo {
	return &memOutboxRepo{records: make(map[string]*outboxrepo.Record)}
}

func (r *memOutboxRepo) FindOrCreate(ctx context.Context, params outboxrepo.CreateParams) (outboxrepo.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[params.EventID]; ok {
		return *rec, true, nil
	}
	now := time.Now().UTC()
	rec := &outboxrepo.Record{
		EventID: params.EventID, Subject: params.Subject, Payload: params.Payload, Headers: params.Headers,
		Status: outboxrepo.StatusPending, EnqueuedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	r.records[params.EventID] = rec
	r.order = append(r.order, params.EventID)
	return *rec, false, nil
}

func (r *memOutboxRepo) MarkPublishing(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[eventID]
	rec.Status = outboxrepo.StatusPublishing
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memOutboxRepo) IncrementAttempts(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[eventID].Attempts++
	return nil
}

func (r *memOutboxRepo) MarkSent(ctx context.Context, eventID string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[eventID]
	rec.Status = outboxrepo.StatusSent
	rec.SentAt = &sentAt
	rec.UpdatedAt = sentAt
	return nil
}

func (r *memOutboxRepo) MarkFailed(ctx context.Context, eventID string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[eventID]
	rec.Status = outboxrepo.StatusFailed
	rec.LastError = lastError
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memOutboxRepo) ListPending(ctx context.Context, limit int) ([]outboxrepo.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []outboxrepo.Record
	for _, id := range r.order {
		rec := r.records[id]
		if rec.Status == outboxrepo.StatusPending {
			out = append(out, *rec)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memOutboxRepo) ResetStale(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Status == outboxrepo.StatusPublishing && rec.UpdatedAt.Before(olderThan) {
			rec.Status = outboxrepo.StatusPending
			rec.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *memOutboxRepo) DeleteSentOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rec := range r.records {
		if n >= limit {
			break
		}
		if rec.Status == outboxrepo.StatusSent && rec.SentAt != nil && rec.SentAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// memInboxRepo is inboxrepo.Repository's equivalent in-memory demo
// implementation, mirroring memOutboxRepo.
type memInboxRepo struct {
	mu      sync.Mutex
	records map[string]*inboxrepo.Record
}

func newMemInboxRepo() *memInboxRepo {
	return &memInboxRepo{records: make(map[string]*inboxrepo.Record)}
}

// inboxMapKey mirrors the dedup precedence FindOrCreate applies:
// event_id when present, else (stream, stream_seq).
func inboxMapKey(eventID, stream string, streamSeq uint64) string {
	if eventID != "" {
		return "id:" + eventID
	}
	return fmt.Sprintf("seq:%s:%d", stream, streamSeq)
}

func (r *memInboxRepo) FindOrCreate(ctx context.Context, params inboxrepo.CreateParams) (inboxrepo.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := inboxMapKey(params.EventID, params.Stream, params.StreamSeq)
	if rec, ok := r.records[key]; ok {
		return *rec, true, nil
	}
	now := time.Now().UTC()
	rec := &inboxrepo.Record{
		EventID: params.EventID, Subject: params.Subject, Payload: params.Payload, Headers: params.Headers,
		Stream: params.Stream, StreamSeq: params.StreamSeq, Deliveries: 1,
		Status: inboxrepo.StatusProcessing, ReceivedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	r.records[key] = rec
	return *rec, false, nil
}

func (r *memInboxRepo) IncrementDeliveries(ctx context.Context, key inboxrepo.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[inboxMapKey(key.EventID, key.Stream, key.StreamSeq)].Deliveries++
	return nil
}

func (r *memInboxRepo) MarkProcessed(ctx context.Context, key inboxrepo.Key, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[inboxMapKey(key.EventID, key.Stream, key.StreamSeq)]
	rec.Status = inboxrepo.StatusProcessed
	rec.ProcessedAt = &processedAt
	rec.UpdatedAt = processedAt
	return nil
}

func (r *memInboxRepo) MarkFailed(ctx context.Context, key inboxrepo.Key, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[inboxMapKey(key.EventID, key.Stream, key.StreamSeq)]
	rec.Status = inboxrepo.StatusFailed
	rec.LastError = lastError
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memInboxRepo) ResetStale(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Status == inboxrepo.StatusProcessing && rec.UpdatedAt.Before(olderThan) {
			rec.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *memInboxRepo) DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rec := range r.records {
		if n >= limit {
			break
		}
		if rec.Status == inboxrepo.StatusProcessed && rec.ProcessedAt != nil && rec.ProcessedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

var (
	_ outboxrepo.Repository = (*memOutboxRepo)(nil)
	_ inboxrepo.Repository  = (*memInboxRepo)(nil)
)
