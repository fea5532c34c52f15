package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tickbridge-systems/tickbridge/internal/ledger"
	"github.com/tickbridge-systems/tickbridge/internal/metrics"
	"github.com/tickbridge-systems/tickbridge/internal/models"
	"github.com/tickbridge-systems/tickbridge/internal/pipeline"
	"github.com/tickbridge-systems/tickbridge/internal/spool"
	"github.com/tickbridge-systems/tickbridge/internal/store"
	"github.com/tickbridge-systems/tickbridge/pkg/logging"
)

// IngestHandler serves the ingestion API. It is a thin adapter: parsing and
// request metadata capture happen here, everything else in the pipeline.
type IngestHandler struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	ledger   ledger.Ledger
	queue    *spool.Queue
	logger   *logging.Logger

	batchDest pipeline.Destination
	tickDest  pipeline.Destination

	promHandler http.Handler
}

func NewIngestHandler(p *pipeline.Pipeline, st store.Store, led ledger.Ledger, queue *spool.Queue,
	batchDest, tickDest pipeline.Destination, logger *logging.Logger) *IngestHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestHandler{
		pipeline:    p,
		store:       st,
		ledger:      led,
		queue:       queue,
		logger:      logger,
		batchDest:   batchDest,
		tickDest:    tickDest,
		promHandler: promhttp.Handler(),
	}
}

type ingestResponse struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Total      int `json:"total"`
}

// HandleIngest accepts a batch of events: a JSON array or a single object.
// A malformed item is counted and skipped, never aborting its siblings.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start := time.Now()
	metrics.RequestsTotal.WithLabelValues("/ingest").Inc()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	defer r.Body.Close()

	batch, ok := decodeBatch(body)
	if !ok {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}

	meta := models.RequestMeta{
		SourceIP:  clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}

	result, err := h.pipeline.Ingest(r.Context(), batch, meta, h.batchDest)
	if err != nil {
		// Storage outage is the one failure that reaches producers.
		h.logger.ErrorContext(r.Context(), "ingest failed", logging.Error(err))
		h.sendError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	metrics.RequestLatency.WithLabelValues("/ingest").Observe(time.Since(start).Seconds())

	h.sendJSON(w, http.StatusOK, ingestResponse{
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
		Total:      len(batch),
	})
}

// HandleTick accepts a single tick event.
func (h *IngestHandler) HandleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start := time.Now()
	metrics.RequestsTotal.WithLabelValues("/ingest/tick").Inc()

	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	defer r.Body.Close()

	if err := event.Validate(); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	meta := models.RequestMeta{
		SourceIP:  clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}

	result, err := h.pipeline.Ingest(r.Context(), []models.Event{event}, meta, h.tickDest)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "tick ingest failed", logging.Error(err))
		h.sendError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	metrics.RequestLatency.WithLabelValues("/ingest/tick").Observe(time.Since(start).Seconds())

	h.sendJSON(w, http.StatusOK, ingestResponse{
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
		Total:      1,
	})
}

// Health reports storage reachability and spool depth.
func (h *IngestHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.sendJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	depth := 0
	if h.queue != nil {
		depth = h.queue.Depth()
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"queue": depth,
	})
}

// Ready reports pipeline readiness with spool stats.
func (h *IngestHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"spool":  h.queue.Stats(),
	})
}

// DebugRecent returns the latest stored rows and audit entries.
func (h *IngestHandler) DebugRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)

	ticks, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	audit, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"ticks":   ticks,
		"forward": audit,
	})
}

// DebugPending returns unconfirmed audit entries.
func (h *IngestHandler) DebugPending(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	pending, err := h.ledger.Pending(r.Context(), limit)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{"pending": pending})
}

// Metrics refreshes the ledger-derived gauges, then serves Prometheus text.
func (h *IngestHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if total, err := h.ledger.PendingCount(r.Context()); err == nil {
		metrics.PendingForwards.Set(float64(total))
	}
	if stale, err := h.ledger.PendingOlderThan(r.Context(), 5*time.Minute); err == nil {
		metrics.PendingForwardsStale.Set(float64(stale))
	}
	if h.queue != nil {
		metrics.SpoolDepth.Set(float64(h.queue.Depth()))
	}

	h.promHandler.ServeHTTP(w, r)
}

func (h *IngestHandler) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *IngestHandler) sendError(w http.ResponseWriter, status int, detail string) {
	h.sendJSON(w, status, map[string]string{"detail": detail})
}

// decodeBatch accepts a JSON array or a single object. Items that fail to
// parse stay in the batch as zero events so the store counts them as
// per-item errors without aborting siblings.
func decodeBatch(body []byte) ([]models.Event, bool) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, false
	}

	if trimmed[0] == '{' {
		var raw struct {
			Items []json.RawMessage `json:"items"`
		}
		// Accept the wrapped {"items": [...]} form producers use, else a bare object
		if err := json.Unmarshal(body, &raw); err == nil && raw.Items != nil {
			return decodeItems(raw.Items), true
		}
		var single models.Event
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, false
		}
		return []models.Event{single}, true
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, false
	}
	return decodeItems(items), true
}

func decodeItems(items []json.RawMessage) []models.Event {
	batch := make([]models.Event, 0, len(items))
	for _, raw := range items {
		var e models.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			// Keep a placeholder so the malformed item is counted, not dropped
			batch = append(batch, models.Event{})
			continue
		}
		batch = append(batch, e)
	}
	return batch
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
