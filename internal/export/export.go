// Package export re-sends stored history to a downstream ingest endpoint.
// It pages through the store oldest first and ships minute bars; when a
// symbol only has raw ticks, they are aggregated into minute bars first.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tickbridge-systems/tickbridge/internal/forwarder"
	"github.com/tickbridge-systems/tickbridge/internal/models"
)

const minuteMillis = 60_000

// Pager reads stored events ordered by timestamp, strictly after cursor.
type Pager interface {
	PageAfter(ctx context.Context, cursor int64, pageSize int) ([]models.Event, error)
}

type Options struct {
	URL         string
	Token       string
	BatchSize   int
	PageSize    int
	StartCursor int64
	Limit       int
	DryRun      bool
}

type Stats struct {
	Read       int   `json:"read"`
	Exported   int   `json:"exported"`
	Batches    int   `json:"batches"`
	Aggregated int   `json:"aggregated"`
	LastCursor int64 `json:"last_cursor"`
}

type Exporter struct {
	pager  Pager
	client *forwarder.Client
	opts   Options
}

func New(pager Pager, client *forwarder.Client, opts Options) *Exporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	return &Exporter{pager: pager, client: client, opts: opts}
}

// Run pages through the store and sends the history downstream. DryRun
// reads and classifies but never posts.
func (e *Exporter) Run(ctx context.Context) (Stats, error) {
	stats := Stats{LastCursor: e.opts.StartCursor}

	var bars, ticks []models.Event

	cursor := e.opts.StartCursor
	for {
		if e.opts.Limit > 0 && stats.Read >= e.opts.Limit {
			break
		}

		page, err := e.pager.PageAfter(ctx, cursor, e.opts.PageSize)
		if err != nil {
			return stats, fmt.Errorf("page after %d: %w", cursor, err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			ev := page[i]
			stats.Read++
			if ev.IsTick() {
				ticks = append(ticks, ev)
			} else {
				bars = append(bars, ev)
			}
			if e.opts.Limit > 0 && stats.Read >= e.opts.Limit {
				break
			}
		}
		cursor = int64(page[len(page)-1].TS)
		stats.LastCursor = cursor
	}

	// No bar history at all: synthesize minute bars from the raw ticks.
	if len(bars) == 0 && len(ticks) > 0 {
		bars = AggregateM1(ticks)
		stats.Aggregated = len(bars)
	}

	if e.opts.DryRun {
		stats.Exported = len(bars)
		return stats, nil
	}

	for start := 0; start < len(bars); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(bars) {
			end = len(bars)
		}
		if err := e.send(ctx, bars[start:end]); err != nil {
			return stats, err
		}
		stats.Exported += end - start
		stats.Batches++
	}

	return stats, nil
}

func (e *Exporter) send(ctx context.Context, batch []models.Event) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal export batch: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if e.opts.Token != "" {
		headers["x-api-key"] = e.opts.Token
	}

	res, err := e.client.Post(ctx, e.opts.URL, payload, headers, 0)
	if err != nil {
		return fmt.Errorf("export batch: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("export batch rejected: status %d", res.StatusCode)
	}
	return nil
}

type bucketKey struct {
	symbol string
	minute int64
}

type bucket struct {
	firstTS int64
	lastTS  int64
	open    float64
	high    float64
	low     float64
	close   float64
	volume  float64
}

// AggregateM1 folds raw ticks into one-minute bars keyed on
// (symbol, minute). Ticks without a readable price are skipped.
func AggregateM1(ticks []models.Event) []models.Event {
	buckets := make(map[bucketKey]*bucket)

	for i := range ticks {
		t := &ticks[i]
		price, ok := tickPrice(t)
		if !ok {
			continue
		}

		ts := int64(t.TS)
		key := bucketKey{symbol: t.Symbol, minute: ts - ts%minuteMillis}

		b, exists := buckets[key]
		if !exists {
			buckets[key] = &bucket{
				firstTS: ts, lastTS: ts,
				open: price, high: price, low: price, close: price,
				volume: tickVolume(t),
			}
			continue
		}

		if ts < b.firstTS {
			b.firstTS = ts
			b.open = price
		}
		if ts >= b.lastTS {
			b.lastTS = ts
			b.close = price
		}
		if price > b.high {
			b.high = price
		}
		if price < b.low {
			b.low = price
		}
		b.volume += tickVolume(t)
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].minute < keys[j].minute
	})

	timeframe := "M1"
	bars := make([]models.Event, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		open, high, low, close, volume := b.open, b.high, b.low, b.close, b.volume
		bars = append(bars, models.Event{
			Symbol:    k.symbol,
			TS:        models.Millis(k.minute),
			Timeframe: &timeframe,
			Open:      &open,
			High:      &high,
			Low:       &low,
			Close:     &close,
			Volume:    &volume,
		})
	}
	return bars
}

func tickPrice(e *models.Event) (float64, bool) {
	if e.Close != nil {
		return *e.Close, true
	}
	if e.Open != nil {
		return *e.Open, true
	}
	if e.Meta != nil {
		if v, ok := e.Meta["price"]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func tickVolume(e *models.Event) float64 {
	if e.Volume != nil {
		return *e.Volume
	}
	if e.Meta != nil {
		if v, ok := e.Meta["size"]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}
