package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tickbridge-systems/tickbridge/internal/models"
)

// LogEntry is one row of the in-memory ingest log.
type LogEntry struct {
	Event        models.Event
	WasDuplicate bool
	SourceIP     string
	UserAgent    string
}

// MemoryStore is an in-memory Store for tests and development.
// It mirrors the insert-if-absent and ingest-log semantics of PostgresStore.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[models.ForwardKey]models.Event
	log    []LogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[models.ForwardKey]models.Event),
	}
}

func (s *MemoryStore) Apply(ctx context.Context, batch []models.Event, meta models.RequestMeta) (*BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &BatchResult{Outcomes: make([]ItemOutcome, 0, len(batch))}

	for i := range batch {
		e := batch[i]

		if err := e.Validate(); err != nil {
			result.Errors++
			result.Outcomes = append(result.Outcomes, ItemOutcome{
				Key: e.Key(), Status: StatusError, Error: err.Error(),
			})
			continue
		}

		key := e.Key()
		_, wasDuplicate := s.events[key]
		if !wasDuplicate {
			s.events[key] = e
			result.Inserted++
			result.Outcomes = append(result.Outcomes, ItemOutcome{Key: key, Status: StatusInserted})
		} else {
			result.Duplicates++
			result.Outcomes = append(result.Outcomes, ItemOutcome{Key: key, Status: StatusDuplicate})
		}

		s.log = append(s.log, LogEntry{
			Event:        e,
			WasDuplicate: wasDuplicate,
			SourceIP:     meta.SourceIP,
			UserAgent:    meta.UserAgent,
		})
	}

	return result, nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	events := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].TS > events[j].TS })

	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

// Len returns the number of distinct stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Get returns the stored row for key, if present.
func (s *MemoryStore) Get(key models.ForwardKey) (models.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[key]
	return e, ok
}

// Log returns a copy of the ingest log.
func (s *MemoryStore) Log() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogEntry, len(s.log))
	copy(out, s.log)
	return out
}
