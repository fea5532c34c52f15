package ledger

import (
	"context"
	"time"

	"github.com/tickbridge-systems/tickbridge/internal/models"
)

// Status is the delivery state of a forwarded key.
type Status string

const (
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusError     Status = "error"
)

// Entry is one delivery-state record, keyed by (symbol, ts_ms, endpoint).
type Entry struct {
	Symbol         string     `json:"symbol"`
	TSMillis       int64      `json:"ts_ms"`
	Endpoint       string     `json:"endpoint"`
	Status         Status     `json:"status"`
	SentAt         time.Time  `json:"sent_at"`
	ConfirmAt      *time.Time `json:"confirm_at,omitempty"`
	LastStatusCode int        `json:"last_status_code"`
}

// Ledger tracks delivery state per forwarded key. Writers are the forwarder
// (MarkSent/MarkError) and the confirmer (Confirm); everything else reads.
//
// Upserts are idempotent and never demote a confirmed row: once a key reaches
// confirmed, later MarkSent/MarkError calls for the same key are no-ops.
type Ledger interface {
	// MarkSent upserts one entry per key with status=sent and the response code.
	MarkSent(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) error

	// MarkError upserts one entry per key with status=error and the response code.
	MarkError(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) error

	// Confirm promotes matching rows with status=sent to confirmed, setting
	// confirm_at and the confirm response code. A key with no matching row is
	// a no-op, not an error. Returns the number of rows promoted.
	Confirm(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) (int, error)

	// Pending lists unconfirmed entries, most recent first.
	Pending(ctx context.Context, limit int) ([]Entry, error)

	// PendingCount counts entries not yet confirmed.
	PendingCount(ctx context.Context) (int64, error)

	// PendingOlderThan counts unconfirmed entries whose forward happened more
	// than age ago.
	PendingOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Recent lists the latest entries regardless of status, for inspection.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
