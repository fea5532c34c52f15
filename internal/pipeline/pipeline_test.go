package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickbridge-systems/tickbridge/internal/forwarder"
	"github.com/tickbridge-systems/tickbridge/internal/ledger"
	"github.com/tickbridge-systems/tickbridge/internal/models"
	"github.com/tickbridge-systems/tickbridge/internal/spool"
	"github.com/tickbridge-systems/tickbridge/internal/store"
)

type downstream struct {
	mu             sync.Mutex
	srv            *httptest.Server
	forwardStatus  int
	confirmStatus  int
	forwardBodies  [][]byte
	confirmedKeys  []models.ForwardKey
	forwardHeaders []http.Header
}

func newDownstream(t *testing.T) *downstream {
	d := &downstream{forwardStatus: http.StatusOK, confirmStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		d.forwardBodies = append(d.forwardBodies, body)
		d.forwardHeaders = append(d.forwardHeaders, r.Header.Clone())
		w.WriteHeader(d.forwardStatus)
	})
	mux.HandleFunc("/ingest/confirm", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		var req struct {
			Keys []models.ForwardKey `json:"keys"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		d.confirmedKeys = append(d.confirmedKeys, req.Keys...)
		w.WriteHeader(d.confirmStatus)
	})

	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)
	return d
}

func (d *downstream) dest(name string) Destination {
	return Destination{
		Name:           name,
		ForwardURL:     d.srv.URL + "/ingest",
		ConfirmURL:     d.srv.URL + "/ingest/confirm",
		Token:          "downstream-secret",
		Timeout:        time.Second,
		ConfirmTimeout: time.Second,
		SpoolPrefix:    name,
	}
}

type fixture struct {
	store  *store.MemoryStore
	ledger *ledger.MemoryLedger
	queue  *spool.Queue
	pipe   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	st := store.NewMemoryStore()
	led := ledger.NewMemoryLedger()
	queue, err := spool.NewQueue(t.TempDir())
	require.NoError(t, err)

	return &fixture{
		store:  st,
		ledger: led,
		queue:  queue,
		pipe:   New(st, led, forwarder.New(), queue, nil),
	}
}

func batchOf(symbols ...string) []models.Event {
	batch := make([]models.Event, 0, len(symbols))
	for i, s := range symbols {
		batch = append(batch, models.Event{Symbol: s, TS: models.Millis(1000 + int64(i))})
	}
	return batch
}

func TestIngestStoresAndForwards(t *testing.T) {
	f := newFixture(t)
	d := newDownstream(t)
	ctx := context.Background()

	batch := batchOf("EURUSD", "GBPUSD")
	result, err := f.pipe.Ingest(ctx, batch, models.RequestMeta{}, d.dest("ingest"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 2, f.store.Len())

	// One forward request carrying the whole batch, with the shared secret
	require.Len(t, d.forwardBodies, 1)
	require.Len(t, d.forwardHeaders, 1)
	assert.Equal(t, "downstream-secret", d.forwardHeaders[0].Get("x-api-key"))

	// Ledger promoted straight to confirmed through the confirm round trip
	e, ok := f.ledger.Get(batch[0].Key(), "ingest")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusConfirmed, e.Status)

	require.Len(t, d.confirmedKeys, 2)
	assert.Equal(t, "EURUSD", d.confirmedKeys[0].Symbol)

	assert.Equal(t, 0, f.queue.Depth())
}

func TestIngestWithoutForwardURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.pipe.Ingest(ctx, batchOf("EURUSD"), models.RequestMeta{}, Destination{Name: "ingest"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Inserted)
	count, _ := f.ledger.PendingCount(ctx)
	assert.Equal(t, int64(0), count)
}

func TestForwardNonSuccessMarksErrorAndSpools(t *testing.T) {
	f := newFixture(t)
	d := newDownstream(t)
	d.forwardStatus = http.StatusBadGateway
	ctx := context.Background()

	batch := batchOf("EURUSD")
	_, err := f.pipe.Ingest(ctx, batch, models.RequestMeta{}, d.dest("ingest"))
	require.NoError(t, err)

	// Store kept the rows, delivery is what failed
	assert.Equal(t, 1, f.store.Len())

	e, ok := f.ledger.Get(batch[0].Key(), "ingest")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusError, e.Status)
	assert.Equal(t, http.StatusBadGateway, e.LastStatusCode)

	// No confirm attempt was made
	assert.Empty(t, d.confirmedKeys)

	// The exact request is spooled for replay
	require.Equal(t, 1, f.queue.Depth())
	names, err := f.queue.List()
	require.NoError(t, err)
	req, err := f.queue.Read(names[0])
	require.NoError(t, err)
	assert.Equal(t, d.srv.URL+"/ingest", req.URL)
	assert.Equal(t, "downstream-secret", req.Headers["x-api-key"])
}

func TestForwardTransportFailureSpoolsWithoutLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dest := Destination{
		Name:        "ingest",
		ForwardURL:  "http://127.0.0.1:1/ingest",
		Timeout:     200 * time.Millisecond,
		SpoolPrefix: "ingest",
	}

	result, err := f.pipe.Ingest(ctx, batchOf("EURUSD"), models.RequestMeta{}, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	// No response was received, so the ledger records nothing
	count, _ := f.ledger.PendingCount(ctx)
	assert.Equal(t, int64(0), count)

	assert.Equal(t, 1, f.queue.Depth())
}

func TestConfirmFailureLeavesSent(t *testing.T) {
	f := newFixture(t)
	d := newDownstream(t)
	d.confirmStatus = http.StatusInternalServerError
	ctx := context.Background()

	batch := batchOf("EURUSD")
	_, err := f.pipe.Ingest(ctx, batch, models.RequestMeta{}, d.dest("ingest"))
	require.NoError(t, err)

	e, ok := f.ledger.Get(batch[0].Key(), "ingest")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusSent, e.Status)

	// Confirm failure never spools
	assert.Equal(t, 0, f.queue.Depth())
}

func TestConfirmKeyLimit(t *testing.T) {
	f := newFixture(t)
	d := newDownstream(t)
	ctx := context.Background()

	symbols := make([]string, 15)
	for i := range symbols {
		symbols[i] = "SYM" + string(rune('A'+i))
	}

	_, err := f.pipe.Ingest(ctx, batchOf(symbols...), models.RequestMeta{}, d.dest("ingest"))
	require.NoError(t, err)

	// Default cap is the first 10 keys
	assert.Len(t, d.confirmedKeys, 10)
}

func TestReplayRecordsSent(t *testing.T) {
	f := newFixture(t)
	d := newDownstream(t)
	ctx := context.Background()

	dest := d.dest("ingest")
	f.pipe.RegisterDestination(dest)

	batch := batchOf("EURUSD", "GBPUSD")
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	req := spool.Request{
		URL:     dest.ForwardURL,
		Payload: payload,
		Headers: map[string]string{"x-api-key": dest.Token},
	}

	status, err := f.pipe.ReplaySend(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	f.pipe.ReplayResult(ctx, req, status)

	e, ok := f.ledger.Get(batch[0].Key(), "ingest")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusSent, e.Status)
}

func TestReplayResultUnknownURLLeavesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pipe.ReplayResult(ctx, spool.Request{URL: "http://unknown/ingest", Payload: []byte(`[]`)}, 200)

	count, _ := f.ledger.PendingCount(ctx)
	assert.Equal(t, int64(0), count)
}

type captureAnnouncer struct {
	mu     sync.Mutex
	events []models.Event
}

func (a *captureAnnouncer) Announce(ctx context.Context, events []models.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, events...)
}

func TestAnnouncerReceivesOnlyInserted(t *testing.T) {
	f := newFixture(t)
	a := &captureAnnouncer{}
	f.pipe.SetAnnouncer(a)
	ctx := context.Background()

	batch := batchOf("EURUSD", "GBPUSD")
	_, err := f.pipe.Ingest(ctx, batch, models.RequestMeta{}, Destination{Name: "ingest"})
	require.NoError(t, err)

	// Second pass: everything is a duplicate, nothing announced
	_, err = f.pipe.Ingest(ctx, batch, models.RequestMeta{}, Destination{Name: "ingest"})
	require.NoError(t, err)

	assert.Len(t, a.events, 2)
}
