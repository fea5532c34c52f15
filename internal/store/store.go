package store

import (
	"context"

	"github.com/tickbridge-systems/tickbridge/internal/models"
)

// ItemStatus is the per-item outcome of a batch write.
type ItemStatus string

const (
	StatusInserted  ItemStatus = "inserted"
	StatusDuplicate ItemStatus = "duplicate"
	StatusError     ItemStatus = "error"
)

// ItemOutcome records what happened to a single item of a batch.
type ItemOutcome struct {
	Key    models.ForwardKey `json:"key"`
	Status ItemStatus        `json:"status"`
	Error  string            `json:"error,omitempty"`
}

// BatchResult summarizes one Apply call.
type BatchResult struct {
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Errors     int           `json:"errors"`
	Outcomes   []ItemOutcome `json:"-"`
}

// Store durably records market events with insert-if-absent semantics on the
// (symbol, ts_ms) identity key.
type Store interface {
	// Apply writes a batch under one transaction scope. Each item's
	// insert/duplicate outcome is independent: a malformed or failing item is
	// counted and skipped, never aborting its siblings. Every item, duplicates
	// included, is appended to the ingest log. Apply returns an error only
	// when the storage layer itself is unavailable.
	Apply(ctx context.Context, batch []models.Event, meta models.RequestMeta) (*BatchResult, error)

	// Recent returns the most recently stored events, newest first.
	Recent(ctx context.Context, limit int) ([]models.Event, error)

	// Ping verifies storage availability.
	Ping(ctx context.Context) error

	Close()
}
