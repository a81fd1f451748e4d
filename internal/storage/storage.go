// Package storage defines the durable record store and the ingest ledger.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/mneme/internal/models"
)

var (
	// ErrNotFound is returned by Get when no record has the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrEmptyVector is returned by Append when the vector has no components.
	ErrEmptyVector = errors.New("vector must not be empty")
	// ErrCorruptVector is returned when a stored embedding BLOB cannot be decoded.
	ErrCorruptVector = errors.New("corrupt embedding blob")
)

// RecordStore is an append-only table of (id, text, vector). Ids are assigned by the store,
// strictly increasing and never reused. Records are never updated or deleted.
type RecordStore interface {
	// Append durably writes a record and returns its id. On error nothing is visible.
	Append(ctx context.Context, text string, vector []float32) (int64, error)
	// ScanAll calls fn for every record in ascending id order. An error from fn stops the scan
	// and is returned unchanged.
	ScanAll(ctx context.Context, fn func(*models.Record) error) error
	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id int64) (*models.Record, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// IngestLedger remembers which files were already turned into records, keyed by path.
type IngestLedger interface {
	// IngestedDigest returns the content digest stored for path; ok is false when the path is unknown.
	IngestedDigest(ctx context.Context, path string) (digest string, ok bool, err error)
	MarkIngested(ctx context.Context, path, digest string, records int) error
}
