package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickbridge-systems/tickbridge/internal/models"
)

func TestConfirmerSendsKeys(t *testing.T) {
	var got ConfirmRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	keys := []models.ForwardKey{
		{Symbol: "EURUSD", TSMillis: 1000},
		{Symbol: "GBPUSD", TSMillis: 2000},
	}

	c := NewConfirmer(New())
	res, err := c.Confirm(context.Background(), srv.URL, keys, nil, time.Second)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, got.Keys, 2)
	assert.Equal(t, "EURUSD", got.Keys[0].Symbol)
	assert.Equal(t, int64(2000), got.Keys[1].TSMillis)
}

func TestConfirmerNotConfigured(t *testing.T) {
	var c *Confirmer
	_, err := c.Confirm(context.Background(), "http://x", nil, nil, time.Second)
	assert.Error(t, err)
}
