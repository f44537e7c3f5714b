// Package outboxrepo defines the OutboxRecord shape and the Repository
// abstraction OutboxEngine drives. Concrete database implementations
// are out of scope for this module; only the interface is specified.
package outboxrepo

import (
	"context"
	"time"
)

// Status is the lifecycle state of an OutboxRecord.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPublishing Status = "PUBLISHING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
)

// Record is a single outbox row. event_id is the primary key and is
// unique; status transitions PENDING -> PUBLISHING -> (SENT | FAILED |
// PENDING via ResetStale). SENT records always have a non-nil SentAt.
type Record struct {
	EventID    string
	Subject    string
	Payload    []byte
	Headers    []byte
	Status     Status
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
	SentAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateParams are the fields needed to insert a new outbox row.
type CreateParams struct {
	EventID string
	Subject string
	Payload []byte
	Headers []byte
}

// Repository is the storage abstraction OutboxEngine drives. Concrete
// implementations own transactional semantics (e.g. the caller opening
// a DB transaction around a business-row insert plus FindOrCreate).
type Repository interface {
	// FindOrCreate returns the existing record for params.EventID, or
	// inserts a new PENDING one keyed by it. alreadyExists reports
	// which case occurred.
	FindOrCreate(ctx context.Context, params CreateParams) (record Record, alreadyExists bool, err error)

	MarkPublishing(ctx context.Context, eventID string) error
	IncrementAttempts(ctx context.Context, eventID string) error
	MarkSent(ctx context.Context, eventID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, eventID string, lastError string) error

	// ListPending returns up to limit PENDING records in enqueue order.
	ListPending(ctx context.Context, limit int) ([]Record, error)

	// ResetStale flips PUBLISHING records whose UpdatedAt is older than
	// olderThan back to PENDING, returning the count affected.
	ResetStale(ctx context.Context, olderThan time.Time) (int, error)

	// DeleteSentOlderThan deletes up to limit SENT records with SentAt
	// before cutoff, ordered by SentAt ascending, returning the count
	// deleted.
	DeleteSentOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
