package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Millis is an epoch-millisecond timestamp that accepts flexible JSON input:
// an integer, a numeric string, or an ISO-8601 string. It always marshals
// back to an integer.
type Millis int64

// UnmarshalJSON normalizes the accepted input shapes to epoch milliseconds.
func (m *Millis) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return fmt.Errorf("invalid ts: empty")
	}

	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("invalid ts: %w", err)
		}
		// ISO-8601 first, then numeric string
		if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
			*m = Millis(t.UnixMilli())
			return nil
		}
		if t, err := time.Parse("2006-01-02T15:04:05", str); err == nil {
			*m = Millis(t.UTC().UnixMilli())
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ts format: %q", str)
		}
		*m = Millis(n)
		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ts type: %s", s)
	}
	*m = Millis(n)
	return nil
}

// MarshalJSON emits the timestamp as an integer.
func (m Millis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(m), 10)), nil
}

// Time converts the timestamp to a time.Time in UTC.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// Event is one market observation (OHLCV bar or tick).
// Identity key is (Symbol, TS); at most one stored row exists per key.
type Event struct {
	Symbol    string                 `json:"symbol"`
	TS        Millis                 `json:"ts"`
	Timeframe *string                `json:"timeframe,omitempty"`
	Open      *float64               `json:"open,omitempty"`
	High      *float64               `json:"high,omitempty"`
	Low       *float64               `json:"low,omitempty"`
	Close     *float64               `json:"close,omitempty"`
	Volume    *float64               `json:"volume,omitempty"`
	Kind      *string                `json:"kind,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Validate checks the invariants the storage layer relies on.
func (e *Event) Validate() error {
	if len(e.Symbol) < 3 {
		return fmt.Errorf("invalid symbol: %q", e.Symbol)
	}
	if e.TS == 0 {
		return fmt.Errorf("invalid ts: zero")
	}
	return nil
}

// Key returns the identity key of the event.
func (e *Event) Key() ForwardKey {
	return ForwardKey{Symbol: e.Symbol, TSMillis: int64(e.TS)}
}

// IsTick reports whether the event is a raw tick rather than a bar.
func (e *Event) IsTick() bool {
	if e.Timeframe != nil && strings.EqualFold(*e.Timeframe, "tick") {
		return true
	}
	if e.Kind != nil && strings.EqualFold(*e.Kind, "tick") {
		return true
	}
	return false
}

// ForwardKey identifies an event within the audit ledger and in confirm requests.
type ForwardKey struct {
	Symbol   string `json:"symbol"`
	TSMillis int64  `json:"ts_ms"`
}

// Keys extracts identity keys from a batch, capped at limit (0 means no cap).
func Keys(batch []Event, limit int) []ForwardKey {
	n := len(batch)
	if limit > 0 && n > limit {
		n = limit
	}
	keys := make([]ForwardKey, 0, n)
	for _, e := range batch[:n] {
		keys = append(keys, e.Key())
	}
	return keys
}

// RequestMeta carries the forensic attributes of an inbound request.
// Captured by the HTTP layer and written to the ingest log.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
}
