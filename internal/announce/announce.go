// Package announce publishes ingest notifications for local subscribers.
// Publishing is strictly best-effort: a failure is logged and never affects
// the ingestion result.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tickbridge-systems/tickbridge/internal/models"
)

// Publisher delivers ingest announcements to a messaging backend.
type Publisher interface {
	// Announce publishes the accepted events of a batch, one message per
	// inserted event, on subject <prefix>.<symbol>.
	Announce(ctx context.Context, events []models.Event)

	Close()
}

// NATSPublisher implements Publisher over a core NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url. The connection
// reconnects indefinitely so a broker restart never requires a service
// restart.
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("tickbridge-ingest"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	if subjectPrefix == "" {
		subjectPrefix = "tickbridge.ingest"
	}

	return &NATSPublisher{conn: conn, prefix: subjectPrefix}, nil
}

func (p *NATSPublisher) Announce(ctx context.Context, events []models.Event) {
	if p == nil || p.conn == nil {
		return
	}

	for i := range events {
		e := &events[i]
		data, err := json.Marshal(e)
		if err != nil {
			slog.Warn("failed to marshal announcement", slog.String("symbol", e.Symbol))
			continue
		}
		subject := fmt.Sprintf("%s.%s", p.prefix, e.Symbol)
		if err := p.conn.Publish(subject, data); err != nil {
			slog.Warn("failed to publish announcement",
				slog.String("subject", subject),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *NATSPublisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Drain()
	}
}
