// Package pipeline orchestrates the ingestion path: idempotent storage
// write, forward with delivery confirmation, and spool-on-failure.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tickbridge-systems/tickbridge/internal/forwarder"
	"github.com/tickbridge-systems/tickbridge/internal/ledger"
	"github.com/tickbridge-systems/tickbridge/internal/metrics"
	"github.com/tickbridge-systems/tickbridge/internal/models"
	"github.com/tickbridge-systems/tickbridge/internal/spool"
	"github.com/tickbridge-systems/tickbridge/internal/store"
	"github.com/tickbridge-systems/tickbridge/pkg/logging"
)

// Destination is one downstream endpoint pair. Name is the audit ledger
// endpoint label; SpoolPrefix names spool files created for this destination.
type Destination struct {
	Name            string
	ForwardURL      string
	ConfirmURL      string
	Token           string
	Timeout         time.Duration
	ConfirmTimeout  time.Duration
	ConfirmKeyLimit int
	SpoolPrefix     string
}

// Announcer is the optional messaging hook invoked after a successful
// storage write.
type Announcer interface {
	Announce(ctx context.Context, events []models.Event)
}

// Pipeline wires the store, the audit ledger, the forward/confirm clients
// and the spool into one ingestion path shared by every endpoint.
type Pipeline struct {
	store     store.Store
	ledger    ledger.Ledger
	client    *forwarder.Client
	confirmer *forwarder.Confirmer
	queue     *spool.Queue
	announcer Announcer
	logger    *logging.Logger

	destinations []Destination
}

func New(st store.Store, led ledger.Ledger, client *forwarder.Client, queue *spool.Queue, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		store:     st,
		ledger:    led,
		client:    client,
		confirmer: forwarder.NewConfirmer(client),
		queue:     queue,
		logger:    logger,
	}
}

// SetAnnouncer enables best-effort ingest announcements.
func (p *Pipeline) SetAnnouncer(a Announcer) {
	p.announcer = a
}

// RegisterDestination makes a destination known to the replayer so replayed
// requests can be matched back to their audit endpoint label.
func (p *Pipeline) RegisterDestination(dest Destination) {
	p.destinations = append(p.destinations, dest)
}

// Ingest stores the batch, then forwards it to dest if forwarding is
// configured. Storage failure is the one error that propagates. Forward and
// confirm outcomes never do: the caller always gets the counts for what the
// store accepted.
func (p *Pipeline) Ingest(ctx context.Context, batch []models.Event, meta models.RequestMeta, dest Destination) (*store.BatchResult, error) {
	result, err := p.store.Apply(ctx, batch, meta)
	if err != nil {
		return nil, fmt.Errorf("storage write failed: %w", err)
	}

	metrics.IngestBatchSize.Observe(float64(len(batch)))

	if p.announcer != nil && result.Inserted > 0 {
		p.announcer.Announce(ctx, accepted(batch, result))
	}

	if dest.ForwardURL != "" {
		p.ForwardAndConfirm(ctx, dest, batch)
	}

	return result, nil
}

// ForwardAndConfirm sends the batch to dest as one request. Success (2xx/3xx)
// records sent entries in the ledger and triggers the optional confirmation
// round trip. A definitive non-success response records error entries; both
// it and any transport failure hand the exact request to the spool instead of
// retrying inline.
func (p *Pipeline) ForwardAndConfirm(ctx context.Context, dest Destination, batch []models.Event) {
	payload, err := json.Marshal(batch)
	if err != nil {
		p.logger.ErrorContext(ctx, "forward payload marshal failed", logging.Endpoint(dest.Name), logging.Error(err))
		return
	}

	headers := p.headers(dest)
	keys := models.Keys(batch, 0)
	start := time.Now()

	res, err := p.client.Post(ctx, dest.ForwardURL, payload, headers, dest.Timeout)
	if err != nil {
		// Transport failure: spool and return, ledger untouched.
		metrics.ForwardAttempts.WithLabelValues(dest.Name, "error").Inc()
		p.spoolRequest(ctx, dest, payload, headers, err.Error())
		return
	}

	metrics.ForwardAttempts.WithLabelValues(dest.Name, strconv.Itoa(res.StatusCode)).Inc()

	if !res.Success {
		if err := p.ledger.MarkError(ctx, keys, dest.Name, res.StatusCode); err != nil {
			p.logger.WarnContext(ctx, "audit mark error failed", logging.Endpoint(dest.Name), logging.Error(err))
		}
		p.spoolRequest(ctx, dest, payload, headers, fmt.Sprintf("upstream status %d", res.StatusCode))
		return
	}

	if err := p.ledger.MarkSent(ctx, keys, dest.Name, res.StatusCode); err != nil {
		p.logger.WarnContext(ctx, "audit mark sent failed", logging.Endpoint(dest.Name), logging.Error(err))
	}
	metrics.ForwardItems.WithLabelValues(dest.Name).Add(float64(len(batch)))

	p.logger.InfoContext(ctx, "forwarded batch",
		logging.Endpoint(dest.Name),
		logging.Status(res.StatusCode),
		"items", len(batch),
	)

	if dest.ConfirmURL != "" {
		p.confirm(ctx, dest, keys, headers, start)
	}
}

// confirm runs the second round trip. Failure is logged and abandoned:
// retry happens only through a fresh forward-confirm cycle.
func (p *Pipeline) confirm(ctx context.Context, dest Destination, keys []models.ForwardKey, headers map[string]string, sentAt time.Time) {
	limit := dest.ConfirmKeyLimit
	if limit <= 0 {
		limit = 10
	}
	if len(keys) > limit {
		keys = keys[:limit]
	}

	res, err := p.confirmer.Confirm(ctx, dest.ConfirmURL, keys, headers, dest.ConfirmTimeout)
	if err != nil {
		metrics.ConfirmAttempts.WithLabelValues(dest.Name, "error").Inc()
		p.logger.WarnContext(ctx, "confirm failed", logging.Endpoint(dest.Name), logging.Error(err))
		return
	}

	metrics.ConfirmAttempts.WithLabelValues(dest.Name, strconv.Itoa(res.StatusCode)).Inc()

	if !res.Success {
		p.logger.WarnContext(ctx, "confirm rejected",
			logging.Endpoint(dest.Name),
			logging.Status(res.StatusCode),
		)
		return
	}

	confirmed, err := p.ledger.Confirm(ctx, keys, dest.Name, res.StatusCode)
	if err != nil {
		p.logger.WarnContext(ctx, "audit confirm failed", logging.Endpoint(dest.Name), logging.Error(err))
		return
	}

	metrics.ConfirmLatency.WithLabelValues(dest.Name).Observe(time.Since(sentAt).Seconds())

	p.logger.InfoContext(ctx, "confirmed batch",
		logging.Endpoint(dest.Name),
		logging.Status(res.StatusCode),
		"confirmed", confirmed,
	)
}

func (p *Pipeline) spoolRequest(ctx context.Context, dest Destination, payload []byte, headers map[string]string, reason string) {
	if p.queue == nil {
		p.logger.ErrorContext(ctx, "forward failed and no spool configured",
			logging.Endpoint(dest.Name),
			"reason", reason,
		)
		return
	}

	prefix := dest.SpoolPrefix
	if prefix == "" {
		prefix = "forward"
	}

	name, err := p.queue.Spool(prefix, spool.Request{
		URL:     dest.ForwardURL,
		Payload: payload,
		Headers: headers,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "spool write failed", logging.Endpoint(dest.Name), logging.Error(err))
		return
	}

	p.logger.WarnContext(ctx, "queued forward for replay",
		logging.Endpoint(dest.Name),
		logging.File(name),
		"reason", reason,
	)
}

func (p *Pipeline) headers(dest Destination) map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	if dest.Token != "" {
		headers["x-api-key"] = dest.Token
	}
	return headers
}

// ReplaySend reissues a spooled request using the same success criterion as
// a live forward. Wired into the spool replayer.
func (p *Pipeline) ReplaySend(ctx context.Context, req spool.Request) (int, error) {
	res, err := p.client.Post(ctx, req.URL, req.Payload, req.Headers, 0)
	if err != nil {
		return 0, err
	}
	return res.StatusCode, nil
}

// ReplayResult records a successful replay in the audit ledger. The request
// URL is matched against the registered destinations to recover the audit
// endpoint label; an unknown URL is logged and leaves the ledger untouched.
func (p *Pipeline) ReplayResult(ctx context.Context, req spool.Request, statusCode int) {
	dest, ok := p.matchDestination(req.URL)
	if !ok {
		p.logger.WarnContext(ctx, "replayed request for unknown destination", "url", req.URL)
		return
	}

	events, err := decodePayload(req.Payload)
	if err != nil {
		p.logger.WarnContext(ctx, "replayed payload unparseable", logging.Endpoint(dest.Name), logging.Error(err))
		return
	}

	keys := models.Keys(events, 0)
	if err := p.ledger.MarkSent(ctx, keys, dest.Name, statusCode); err != nil {
		p.logger.WarnContext(ctx, "audit mark sent failed after replay", logging.Endpoint(dest.Name), logging.Error(err))
	}
	metrics.ForwardItems.WithLabelValues(dest.Name).Add(float64(len(events)))
}

func (p *Pipeline) matchDestination(url string) (Destination, bool) {
	for _, d := range p.destinations {
		if d.ForwardURL == url {
			return d, true
		}
	}
	return Destination{}, false
}

// decodePayload accepts either a JSON array of events or a single object.
func decodePayload(payload []byte) ([]models.Event, error) {
	var batch []models.Event
	if err := json.Unmarshal(payload, &batch); err == nil {
		return batch, nil
	}
	var single models.Event
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, fmt.Errorf("payload is neither a batch nor a single event: %w", err)
	}
	return []models.Event{single}, nil
}

// accepted filters the batch down to the items the store newly inserted.
func accepted(batch []models.Event, result *store.BatchResult) []models.Event {
	if len(result.Outcomes) != len(batch) {
		return nil
	}
	var out []models.Event
	for i, o := range result.Outcomes {
		if o.Status == store.StatusInserted {
			out = append(out, batch[i])
		}
	}
	return out
}
