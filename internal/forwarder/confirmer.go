package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tickbridge-systems/tickbridge/internal/models"
)

// ConfirmRequest is the wire body of a confirmation round trip: identity
// keys only, never the full payload.
type ConfirmRequest struct {
	Keys []models.ForwardKey `json:"keys"`
}

// Confirmer sends the second round trip acknowledging that a forwarded
// batch was durably accepted downstream. Confirmation is best-effort: a
// failure is reported to the caller for logging and then abandoned, never
// spooled or retried here.
type Confirmer struct {
	client *Client
}

func NewConfirmer(client *Client) *Confirmer {
	return &Confirmer{client: client}
}

// Confirm posts the keys to the confirmation endpoint and classifies the
// response. Transport failures are returned as errors.
func (c *Confirmer) Confirm(ctx context.Context, url string, keys []models.ForwardKey, headers map[string]string, timeout time.Duration) (*Result, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("confirmer not configured")
	}

	payload, err := json.Marshal(ConfirmRequest{Keys: keys})
	if err != nil {
		return nil, fmt.Errorf("marshal confirm request: %w", err)
	}

	return c.client.Post(ctx, url, payload, headers, timeout)
}
