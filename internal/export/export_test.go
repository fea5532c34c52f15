package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickbridge-systems/tickbridge/internal/forwarder"
	"github.com/tickbridge-systems/tickbridge/internal/models"
)

type slicePager struct {
	events []models.Event
}

func (p *slicePager) PageAfter(ctx context.Context, cursor int64, pageSize int) ([]models.Event, error) {
	var out []models.Event
	for _, e := range p.events {
		if int64(e.TS) > cursor {
			out = append(out, e)
			if len(out) >= pageSize {
				break
			}
		}
	}
	return out, nil
}

func ptr(f float64) *float64 { return &f }

func bar(symbol string, ts int64, close float64) models.Event {
	tf := "M1"
	return models.Event{Symbol: symbol, TS: models.Millis(ts), Timeframe: &tf, Close: ptr(close)}
}

func tick(symbol string, ts int64, price, size float64) models.Event {
	kind := "tick"
	return models.Event{Symbol: symbol, TS: models.Millis(ts), Kind: &kind, Close: ptr(price), Volume: ptr(size)}
}

func TestAggregateM1(t *testing.T) {
	ticks := []models.Event{
		tick("EURUSD", 60_000, 1.00, 10), // minute 1, open
		tick("EURUSD", 90_000, 1.20, 5),  // minute 1, high + close
		tick("EURUSD", 75_000, 0.90, 2),  // minute 1, low
		tick("EURUSD", 125_000, 1.10, 7), // minute 2
		tick("GBPUSD", 61_000, 2.00, 3),  // other symbol
	}

	bars := AggregateM1(ticks)
	require.Len(t, bars, 3)

	first := bars[0]
	assert.Equal(t, "EURUSD", first.Symbol)
	assert.Equal(t, int64(60_000), int64(first.TS))
	assert.Equal(t, 1.00, *first.Open)
	assert.Equal(t, 1.20, *first.High)
	assert.Equal(t, 0.90, *first.Low)
	assert.Equal(t, 1.20, *first.Close)
	assert.Equal(t, 17.0, *first.Volume)
	assert.Equal(t, "M1", *first.Timeframe)

	second := bars[1]
	assert.Equal(t, int64(120_000), int64(second.TS))
	assert.Equal(t, 1.10, *second.Close)

	assert.Equal(t, "GBPUSD", bars[2].Symbol)
}

func TestAggregateM1SkipsPricelessTicks(t *testing.T) {
	kind := "tick"
	ticks := []models.Event{
		{Symbol: "EURUSD", TS: 60_000, Kind: &kind},
		tick("EURUSD", 61_000, 1.05, 1),
	}

	bars := AggregateM1(ticks)
	require.Len(t, bars, 1)
	assert.Equal(t, 1.05, *bars[0].Open)
}

func TestExporterSendsBars(t *testing.T) {
	var batches [][]models.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []models.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		batches = append(batches, batch)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pager := &slicePager{events: []models.Event{
		bar("EURUSD", 60_000, 1.05),
		bar("EURUSD", 120_000, 1.06),
		bar("EURUSD", 180_000, 1.07),
	}}

	e := New(pager, forwarder.New(), Options{
		URL:       srv.URL,
		Token:     "secret",
		BatchSize: 2,
		PageSize:  2,
	})

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Read)
	assert.Equal(t, 3, stats.Exported)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 0, stats.Aggregated)
	assert.Equal(t, int64(180_000), stats.LastCursor)

	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
}

func TestExporterAggregatesWhenOnlyTicks(t *testing.T) {
	var received []models.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []models.Event
		json.NewDecoder(r.Body).Decode(&batch)
		received = append(received, batch...)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pager := &slicePager{events: []models.Event{
		tick("EURUSD", 60_000, 1.00, 10),
		tick("EURUSD", 61_000, 1.02, 5),
		tick("EURUSD", 125_000, 1.01, 3),
	}}

	e := New(pager, forwarder.New(), Options{URL: srv.URL})
	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Read)
	assert.Equal(t, 2, stats.Aggregated)
	assert.Equal(t, 2, stats.Exported)

	require.Len(t, received, 2)
	assert.Equal(t, "M1", *received[0].Timeframe)
}

func TestExporterDryRun(t *testing.T) {
	pager := &slicePager{events: []models.Event{bar("EURUSD", 60_000, 1.05)}}

	e := New(pager, forwarder.New(), Options{DryRun: true})
	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Read)
	assert.Equal(t, 1, stats.Exported)
	assert.Equal(t, 0, stats.Batches)
}

func TestExporterStopsOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "full", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	pager := &slicePager{events: []models.Event{bar("EURUSD", 60_000, 1.05)}}

	e := New(pager, forwarder.New(), Options{URL: srv.URL})
	stats, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, stats.Exported)
}

func TestExporterRespectsLimit(t *testing.T) {
	pager := &slicePager{events: []models.Event{
		bar("EURUSD", 60_000, 1.05),
		bar("EURUSD", 120_000, 1.06),
		bar("EURUSD", 180_000, 1.07),
	}}

	e := New(pager, forwarder.New(), Options{DryRun: true, Limit: 2, PageSize: 2})
	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Read)
}
