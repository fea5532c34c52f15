package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickbridge-systems/tickbridge/internal/models"
)

// PostgresLedger persists delivery state in the forward_audit table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// The conflict update is guarded so a confirmed row is never demoted.
const upsertSQL = `
	INSERT INTO forward_audit (symbol, ts_ms, endpoint, status, sent_at, last_status_code)
	VALUES ($1, $2, $3, $4, now(), $5)
	ON CONFLICT (symbol, ts_ms, endpoint) DO UPDATE
	SET status = EXCLUDED.status, last_status_code = EXCLUDED.last_status_code
	WHERE forward_audit.status <> 'confirmed'
`

func (l *PostgresLedger) upsert(ctx context.Context, keys []models.ForwardKey, endpoint string, status Status, statusCode int) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(upsertSQL, k.Symbol, k.TSMillis, endpoint, string(status), statusCode)
	}

	results := l.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range keys {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert audit entry: %w", err)
		}
	}

	return nil
}

func (l *PostgresLedger) MarkSent(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) error {
	return l.upsert(ctx, keys, endpoint, StatusSent, statusCode)
}

func (l *PostgresLedger) MarkError(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) error {
	return l.upsert(ctx, keys, endpoint, StatusError, statusCode)
}

func (l *PostgresLedger) Confirm(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(`
			UPDATE forward_audit
			SET status = 'confirmed', confirm_at = now(), last_status_code = $4
			WHERE symbol = $1 AND ts_ms = $2 AND endpoint = $3 AND status = 'sent'
		`, k.Symbol, k.TSMillis, endpoint, statusCode)
	}

	results := l.pool.SendBatch(ctx, batch)
	defer results.Close()

	confirmed := 0
	for range keys {
		ct, err := results.Exec()
		if err != nil {
			return confirmed, fmt.Errorf("failed to confirm audit entry: %w", err)
		}
		confirmed += int(ct.RowsAffected())
	}

	return confirmed, nil
}

func (l *PostgresLedger) Pending(ctx context.Context, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := l.pool.Query(ctx, `
		SELECT symbol, ts_ms, endpoint, status, sent_at, confirm_at, last_status_code
		FROM forward_audit
		WHERE status <> 'confirmed'
		ORDER BY sent_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending forwards: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (l *PostgresLedger) PendingCount(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var count int64
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM forward_audit WHERE status <> 'confirmed'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending forwards: %w", err)
	}
	return count, nil
}

func (l *PostgresLedger) PendingOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var count int64
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM forward_audit WHERE status <> 'confirmed' AND sent_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(age.Seconds())),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale pending forwards: %w", err)
	}
	return count, nil
}

func (l *PostgresLedger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := l.pool.Query(ctx, `
		SELECT symbol, ts_ms, endpoint, status, sent_at, confirm_at, last_status_code
		FROM forward_audit
		ORDER BY sent_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.Symbol, &e.TSMillis, &e.Endpoint, &status,
			&e.SentAt, &e.ConfirmAt, &e.LastStatusCode); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Status = Status(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}
