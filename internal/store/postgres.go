package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickbridge-systems/tickbridge/internal/metrics"
	"github.com/tickbridge-systems/tickbridge/internal/models"
)

// PostgresStore writes events to the ticks table and appends every attempt
// to ingest_log. Dedup relies on the ON CONFLICT DO NOTHING primitive, so
// concurrent inserts of the same key deterministically yield one winner.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string, maxConns int) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool, shared with the ledger.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying connection pool so the audit ledger can share
// the same connections.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

const insertTickSQL = `
	INSERT INTO ticks (symbol, ts_ms, timeframe, open, high, low, close, volume, kind, meta)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (symbol, ts_ms) DO NOTHING
`

const insertLogSQL = `
	INSERT INTO ingest_log (symbol, ts_ms, timeframe, open, high, low, close, volume, kind, was_duplicate, source_ip, user_agent)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// Apply writes the batch under a single outer transaction. Each item runs in
// a savepoint so one item's constraint violation never rolls back siblings.
func (s *PostgresStore) Apply(ctx context.Context, batch []models.Event, meta models.RequestMeta) (*BatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result := &BatchResult{Outcomes: make([]ItemOutcome, 0, len(batch))}

	for i := range batch {
		e := &batch[i]

		if err := e.Validate(); err != nil {
			result.Errors++
			metrics.StorageErrors.Inc()
			result.Outcomes = append(result.Outcomes, ItemOutcome{
				Key: e.Key(), Status: StatusError, Error: err.Error(),
			})
			continue
		}

		metaJSON, err := marshalMeta(e.Meta)
		if err != nil {
			result.Errors++
			metrics.StorageErrors.Inc()
			result.Outcomes = append(result.Outcomes, ItemOutcome{
				Key: e.Key(), Status: StatusError, Error: err.Error(),
			})
			continue
		}

		// Savepoint per item
		inner, err := tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin item savepoint: %w", err)
		}

		wasDuplicate := false
		ct, err := inner.Exec(ctx, insertTickSQL,
			e.Symbol, int64(e.TS), e.Timeframe,
			e.Open, e.High, e.Low, e.Close, e.Volume, e.Kind, metaJSON,
		)
		if err == nil {
			wasDuplicate = ct.RowsAffected() == 0
			_, err = inner.Exec(ctx, insertLogSQL,
				e.Symbol, int64(e.TS), e.Timeframe,
				e.Open, e.High, e.Low, e.Close, e.Volume, e.Kind,
				wasDuplicate, nullable(meta.SourceIP), nullable(meta.UserAgent),
			)
		}

		if err != nil {
			_ = inner.Rollback(ctx)
			result.Errors++
			metrics.StorageErrors.Inc()
			slog.Warn("item insert failed",
				slog.String("symbol", e.Symbol),
				slog.Int64("ts_ms", int64(e.TS)),
				slog.String("error", err.Error()),
			)
			result.Outcomes = append(result.Outcomes, ItemOutcome{
				Key: e.Key(), Status: StatusError, Error: err.Error(),
			})
			continue
		}

		if err := inner.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit item savepoint: %w", err)
		}

		if wasDuplicate {
			result.Duplicates++
			metrics.DuplicateInserts.Inc()
			result.Outcomes = append(result.Outcomes, ItemOutcome{Key: e.Key(), Status: StatusDuplicate})
		} else {
			result.Inserted++
			result.Outcomes = append(result.Outcomes, ItemOutcome{Key: e.Key(), Status: StatusInserted})
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit batch transaction: %w", err)
	}

	metrics.RowsWritten.Add(float64(result.Inserted))

	return result, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, `
		SELECT symbol, ts_ms, timeframe, open, high, low, close, volume, kind, meta
		FROM ticks
		ORDER BY ts_ms DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent ticks: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var tsMillis int64
		var metaJSON []byte
		if err := rows.Scan(&e.Symbol, &tsMillis, &e.Timeframe,
			&e.Open, &e.High, &e.Low, &e.Close, &e.Volume, &e.Kind, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		e.TS = models.Millis(tsMillis)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Meta); err != nil {
				slog.Warn("unreadable meta on stored tick",
					slog.String("symbol", e.Symbol),
					slog.Int64("ts_ms", tsMillis),
				)
			}
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticks: %w", err)
	}

	return events, nil
}

// PageAfter returns up to pageSize events with ts_ms strictly greater than
// cursor, oldest first. Used by the export CLI.
func (s *PostgresStore) PageAfter(ctx context.Context, cursor int64, pageSize int) ([]models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if pageSize <= 0 {
		pageSize = 1000
	}

	rows, err := s.pool.Query(ctx, `
		SELECT symbol, ts_ms, timeframe, open, high, low, close, volume, kind, meta
		FROM ticks
		WHERE ts_ms > $1
		ORDER BY ts_ms ASC
		LIMIT $2
	`, cursor, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to page ticks: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var tsMillis int64
		var metaJSON []byte
		if err := rows.Scan(&e.Symbol, &tsMillis, &e.Timeframe,
			&e.Open, &e.High, &e.Low, &e.Close, &e.Volume, &e.Kind, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		e.TS = models.Millis(tsMillis)
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Meta)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticks: %w", err)
	}

	return events, nil
}

func marshalMeta(meta map[string]interface{}) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meta: %w", err)
	}
	return b, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
