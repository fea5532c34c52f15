package server

import (
	"net/http"

	"github.com/tickbridge-systems/tickbridge/internal/handlers"
	"github.com/tickbridge-systems/tickbridge/internal/middleware"
)

// NewRouter constructs a ServeMux with the ingestion API routes registered.
// The shared token guards the ingest endpoints only; health, metrics and
// debug stay open for probes and operators.
func NewRouter(h *handlers.IngestHandler, apiToken string) http.Handler {
	mux := http.NewServeMux()

	// Ingestion endpoints
	mux.Handle("/ingest", middleware.APIKey(apiToken, http.HandlerFunc(h.HandleIngest)))
	mux.Handle("/ingest/tick", middleware.APIKey(apiToken, http.HandlerFunc(h.HandleTick)))

	// Health endpoints
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Operator inspection
	mux.HandleFunc("/debug/recent", h.DebugRecent)
	mux.HandleFunc("/debug/pending", h.DebugPending)

	// Prometheus metrics
	mux.HandleFunc("/metrics", h.Metrics)

	return middleware.RequestID(mux)
}
