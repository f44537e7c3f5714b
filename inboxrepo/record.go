// Package inboxrepo defines the InboxRecord shape and the Repository
// abstraction InboxEngine drives for receiver-side dedupe.
package inboxrepo

import (
	"context"
	"time"
)

// Status is the lifecycle state of an InboxRecord.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
)

// Record is a single inbox row. At most one record exists per event_id.
// Once PROCESSED, ProcessedAt is set and the record is terminal.
type Record struct {
	EventID     string
	Subject     string
	Payload     []byte
	Headers     []byte
	Stream      string
	StreamSeq   uint64
	Deliveries  int
	Status      Status
	LastError   string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateParams identifies a delivery for dedup purposes. Dedup key
// precedence is EventID; when EventID is unavailable, (Stream,
// StreamSeq) is used instead.
type CreateParams struct {
	EventID   string
	Subject   string
	Payload   []byte
	Headers   []byte
	Stream    string
	StreamSeq uint64
}

// Key identifies an existing Record for a mutation, honoring the same
// EventID-else-(Stream,StreamSeq) precedence FindOrCreate applies.
// Callers derive a Key from the Record FindOrCreate returned, never
// from the inbound CreateParams directly, so a delivery deduped by
// (Stream, StreamSeq) still mutates the record it was matched against.
type Key struct {
	EventID   string
	Stream    string
	StreamSeq uint64
}

// KeyOf returns r's dedup key.
func KeyOf(r Record) Key {
	return Key{EventID: r.EventID, Stream: r.Stream, StreamSeq: r.StreamSeq}
}

// Repository is the storage abstraction InboxEngine drives.
type Repository interface {
	// FindOrCreate returns the existing record keyed by params.EventID
	// (or, if EventID is empty, by (Stream, StreamSeq)), or inserts a
	// new PROCESSING record. alreadyExists reports which case occurred.
	FindOrCreate(ctx context.Context, params CreateParams) (record Record, alreadyExists bool, err error)

	IncrementDeliveries(ctx context.Context, key Key) error
	MarkProcessed(ctx context.Context, key Key, processedAt time.Time) error
	MarkFailed(ctx context.Context, key Key, lastError string) error

	ResetStale(ctx context.Context, olderThan time.Time) (int, error)
	DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
