package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tickbridge-systems/tickbridge/internal/models"
)

type entryKey struct {
	symbol   string
	tsMillis int64
	endpoint string
}

// MemoryLedger is an in-memory Ledger for tests and development.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[entryKey]*Entry
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[entryKey]*Entry),
		now:     time.Now,
	}
}

func (l *MemoryLedger) upsert(keys []models.ForwardKey, endpoint string, status Status, statusCode int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range keys {
		ek := entryKey{symbol: k.Symbol, tsMillis: k.TSMillis, endpoint: endpoint}
		if existing, ok := l.entries[ek]; ok {
			if existing.Status == StatusConfirmed {
				continue
			}
			existing.Status = status
			existing.LastStatusCode = statusCode
			continue
		}
		l.entries[ek] = &Entry{
			Symbol:         k.Symbol,
			TSMillis:       k.TSMillis,
			Endpoint:       endpoint,
			Status:         status,
			SentAt:         l.now(),
			LastStatusCode: statusCode,
		}
	}
}

func (l *MemoryLedger) MarkSent(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) error {
	l.upsert(keys, endpoint, StatusSent, statusCode)
	return nil
}

func (l *MemoryLedger) MarkError(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) error {
	l.upsert(keys, endpoint, StatusError, statusCode)
	return nil
}

func (l *MemoryLedger) Confirm(ctx context.Context, keys []models.ForwardKey, endpoint string, statusCode int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	confirmed := 0
	for _, k := range keys {
		ek := entryKey{symbol: k.Symbol, tsMillis: k.TSMillis, endpoint: endpoint}
		e, ok := l.entries[ek]
		if !ok || e.Status != StatusSent {
			continue
		}
		now := l.now()
		e.Status = StatusConfirmed
		e.ConfirmAt = &now
		e.LastStatusCode = statusCode
		confirmed++
	}

	return confirmed, nil
}

func (l *MemoryLedger) Pending(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var entries []Entry
	for _, e := range l.entries {
		if e.Status != StatusConfirmed {
			entries = append(entries, *e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SentAt.After(entries[j].SentAt) })

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (l *MemoryLedger) PendingCount(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var count int64
	for _, e := range l.entries {
		if e.Status != StatusConfirmed {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) PendingOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := l.now().Add(-age)
	var count int64
	for _, e := range l.entries {
		if e.Status != StatusConfirmed && e.SentAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	entries := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SentAt.After(entries[j].SentAt) })

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry for a key, if present. Test helper.
func (l *MemoryLedger) Get(key models.ForwardKey, endpoint string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[entryKey{symbol: key.Symbol, tsMillis: key.TSMillis, endpoint: endpoint}]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
